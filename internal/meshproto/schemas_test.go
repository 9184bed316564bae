package meshproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"meshstream.dev/internal/meshproto"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("metadata.schema.json"), &meshproto.MetadataMsg{
		Type:            meshproto.TypeMetadata,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		SessionID:       "2NxZ3Sx1bBvY4xGZ8uWdQ7vYt4c",
		Points:          8,
		PointsType:      "vtkFloatArray",
		Polys:           30,
		VertsType:       meshproto.UnsignedIntArray,
		LinesType:       meshproto.UnsignedIntArray,
		PolysType:       meshproto.UnsignedIntArray,
		StripsType:      meshproto.UnsignedIntArray,
		Bounds:          [6]float64{-1, 1, -1, 1, -1, 1},
		Camera: &meshproto.CameraState{
			Position:   [3]float64{0, 0, 5},
			ViewUp:     [3]float64{0, 1, 0},
			FocalPoint: [3]float64{0, 0, 0},
		},
	})

	validate(compile("octree.schema.json"), &meshproto.OctreeMsg{
		Type:            meshproto.TypeOctree,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		Dimensions:      [3]int{3, 3, 2},
		Origin:          [3]float64{-1, -1, 0},
		Spacing:         1,
		Octree:          "att-1",
	})

	chunk := compile("chunk.schema.json")
	validate(chunk, &meshproto.ChunkMsg{
		Type:            meshproto.TypeChunk,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		ArrayType:       "Float32Array",
		XYZ:             "att-2",
		Polys:           "att-3",
	})
	validate(chunk, &meshproto.ChunkMsg{
		Type:            meshproto.TypeChunk,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		ArrayType:       "Float64Array",
		XYZ:             "att-4",
	})

	validate(compile("connectivity.schema.json"), &meshproto.ConnectivityMsg{
		Type:            meshproto.TypeConnectivity,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		Verts:           "att-5",
		Lines:           "att-6",
		Strips:          "att-7",
	})

	validate(compile("error.schema.json"), &meshproto.ErrorMsg{
		Type:            meshproto.TypeError,
		ProtocolVersion: meshproto.Version,
		MeshID:          "1",
		Code:            meshproto.ErrBudgetTooSmall,
		Message:         "chunkplan: byte budget too small",
	})

	validate(compile("subscribe.schema.json"), &meshproto.SubscribeMsg{
		Type:               meshproto.TypeSubscribe,
		ProtocolVersion:    meshproto.Version,
		AttachmentEncoding: meshproto.EncodingZstd,
	})
}

func TestSchemas_RejectUnknownChunkArrayType(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "chunk.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"chunk","protocol_version":"1.0","uuid":"1","array_type":"Int8Array","xyz":"att-1"}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected Int8Array to be rejected")
	}
}
