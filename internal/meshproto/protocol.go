package meshproto

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

// Topic is the pub/sub channel mesh messages are published on.
const Topic = "meshstream.topic.mesh"

// Message types (server -> client).
const (
	TypeMetadata     = "metadata"
	TypeOctree       = "octree"
	TypeChunk        = "chunk"
	TypeConnectivity = "connectivity"
	TypeError        = "error"
)

// Message types (client -> server).
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRefresh   = "REFRESH"
)

// Fixed connectivity array class announced in metadata.
const UnsignedIntArray = "vtkUnsignedIntArray"

// Message is implemented by every server -> client message.
type Message interface {
	Kind() string
	Mesh() string
	// AttachmentRefs lists the attachment tokens the message references,
	// in the order they were added.
	AttachmentRefs() []string
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	MeshID          string `json:"uuid,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// DecodeMessage decodes a server -> client message into its concrete type.
func DecodeMessage(b []byte) (Message, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, err
	}
	var m Message
	switch base.Type {
	case TypeMetadata:
		m = &MetadataMsg{}
	case TypeOctree:
		m = &OctreeMsg{}
	case TypeChunk:
		m = &ChunkMsg{}
	case TypeConnectivity:
		m = &ConnectivityMsg{}
	case TypeError:
		m = &ErrorMsg{}
	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", base.Type, err)
	}
	return m, nil
}

// Frame is a message together with the attachments it references, in
// reference order.
type Frame struct {
	Message     Message
	Attachments []Attachment
}

// Attachment returns the payload for ref.
func (f Frame) Attachment(ref string) ([]byte, bool) {
	for _, a := range f.Attachments {
		if a.Ref == ref {
			return a.Data, true
		}
	}
	return nil, false
}
