package stream_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/stream/streamtest"
)

func TestStreamer_ForcePushWithoutMesh(t *testing.T) {
	rec := streamtest.NewRecorder()
	s := stream.NewStreamer("", deps(t, rec), cfg(1000))
	defer s.Close()
	if err := s.ForcePush(context.Background()); err != nil {
		t.Fatalf("ForcePush: %v", err)
	}
	s.Wait()
	if n := len(rec.Frames()); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
	if s.Current() != nil {
		t.Fatalf("no session should have started")
	}
}

func TestStreamer_UpdateStreamsOnlyOnChange(t *testing.T) {
	rec := streamtest.NewRecorder()
	s := stream.NewStreamer("m", deps(t, rec), cfg(1000))
	defer s.Close()
	ctx := context.Background()
	pd := testMesh(20, 12, mesh.Float32)

	if err := s.Update(ctx, mesh.Direct(pd), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s.Wait()
	first := len(rec.Frames())
	if first == 0 {
		t.Fatalf("expected a stream")
	}

	// Same dataset, new camera: nothing is resent.
	cam := &meshproto.CameraState{Position: [3]float64{1, 2, 3}}
	if err := s.Update(ctx, mesh.Direct(pd), cam); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, mesh.Input{}, nil); err != nil {
		t.Fatalf("Update with empty input: %v", err)
	}
	s.Wait()
	if got := len(rec.Frames()); got != first {
		t.Fatalf("unchanged mesh restreamed: %d -> %d messages", first, got)
	}

	// ForcePush resends the same version with the stored camera.
	if err := s.ForcePush(ctx); err != nil {
		t.Fatalf("ForcePush: %v", err)
	}
	s.Wait()
	frames := rec.Frames()
	if len(frames) != 2*first {
		t.Fatalf("force push: got %d messages want %d", len(frames), 2*first)
	}
	md := frames[first].Message.(*meshproto.MetadataMsg)
	if md.Camera == nil || md.Camera.Position != cam.Position {
		t.Fatalf("camera not carried: %+v", md.Camera)
	}
	if md.SessionID == frames[0].Message.(*meshproto.MetadataMsg).SessionID {
		t.Fatalf("force push reused the session id")
	}
	requireSameMesh(t, assemble(t, frames[first:]), pd)
}

func TestStreamer_NewVersionSupersedesRunningStream(t *testing.T) {
	rec := streamtest.NewRecorder()
	c := cfg(120) // ten float32 points per chunk
	c.Delay = 20 * time.Millisecond
	s := stream.NewStreamer("m", deps(t, rec), c)
	defer s.Close()
	ctx := context.Background()

	a := testMesh(1000, 0, mesh.Float32)
	b := testMesh(30, 16, mesh.Float64)
	if err := s.Update(ctx, mesh.Direct(a), nil); err != nil {
		t.Fatalf("Update a: %v", err)
	}
	if err := s.Update(ctx, mesh.Direct(b), nil); err != nil {
		t.Fatalf("Update b: %v", err)
	}
	s.Wait()

	frames := rec.Frames()
	var sessions []string
	connectivity := 0
	for _, f := range frames {
		switch m := f.Message.(type) {
		case *meshproto.MetadataMsg:
			sessions = append(sessions, m.SessionID)
		case *meshproto.ConnectivityMsg:
			connectivity++
			if m.SessionID != sessions[len(sessions)-1] {
				t.Fatalf("connectivity from superseded session")
			}
		case *meshproto.ChunkMsg:
			if m.SessionID != sessions[len(sessions)-1] {
				t.Fatalf("chunk from superseded session after a new metadata")
			}
		}
	}
	if len(sessions) != 2 || connectivity != 1 {
		t.Fatalf("sessions %d, connectivity %d", len(sessions), connectivity)
	}
	if st := s.Current().State(); st != stream.Done {
		t.Fatalf("current session state: %s", st)
	}
	requireSameMesh(t, assemble(t, frames), b)
}

type countingPipeline struct {
	updates int
	out     *mesh.PolyData
	err     error
}

func (p *countingPipeline) Update(context.Context) error {
	p.updates++
	return p.err
}

func (p *countingPipeline) Output() *mesh.PolyData { return p.out }

func TestStreamer_PipelineEvaluatedPerPush(t *testing.T) {
	rec := streamtest.NewRecorder()
	s := stream.NewStreamer("m", deps(t, rec), cfg(1000))
	defer s.Close()
	p := &countingPipeline{out: testMesh(5, 4, mesh.Float32)}
	ctx := context.Background()
	if err := s.Update(ctx, mesh.FromPipeline(p), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.ForcePush(ctx); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if p.updates != 2 {
		t.Fatalf("pipeline updates: %d", p.updates)
	}
}

func TestStreamer_PipelineFailure(t *testing.T) {
	rec := streamtest.NewRecorder()
	s := stream.NewStreamer("m", deps(t, rec), cfg(1000))
	defer s.Close()
	boom := errors.New("boom")
	err := s.Update(context.Background(), mesh.FromPipeline(&countingPipeline{err: boom}), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	frames := rec.Frames()
	requireKinds(t, kinds(frames), meshproto.TypeError)
	if code := frames[0].Message.(*meshproto.ErrorMsg).Code; code != meshproto.ErrSourceFailed {
		t.Fatalf("code: %s", code)
	}
}

func TestStreamer_Closed(t *testing.T) {
	s := stream.NewStreamer("m", deps(t, streamtest.NewRecorder()), cfg(1000))
	s.Close()
	s.Close()
	if err := s.ForcePush(context.Background()); !errors.Is(err, stream.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNextMeshID(t *testing.T) {
	a, _ := strconv.Atoi(stream.NextMeshID())
	b, _ := strconv.Atoi(stream.NextMeshID())
	if a < 1 || b != a+1 {
		t.Fatalf("ids %d, %d", a, b)
	}
	s := stream.NewStreamer("", deps(t, streamtest.NewRecorder()), cfg(1000))
	defer s.Close()
	if c, _ := strconv.Atoi(s.ID()); c <= b {
		t.Fatalf("streamer id %q not after %d", s.ID(), b)
	}
}

func TestRegistry(t *testing.T) {
	rec := streamtest.NewRecorder()
	r := stream.NewRegistry()
	defer r.Close()
	s := stream.NewStreamer("b", deps(t, rec), cfg(1000))
	r.Add(s)
	r.Add(stream.NewStreamer("a", deps(t, rec), cfg(1000)))
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids: %v", ids)
	}
	if err := r.Refresh(context.Background(), "zzz"); !errors.Is(err, stream.ErrUnknownMesh) {
		t.Fatalf("expected ErrUnknownMesh, got %v", err)
	}
	if err := s.Update(context.Background(), mesh.Direct(testMesh(3, 0, mesh.Float32)), nil); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if err := r.Refresh(context.Background(), "b"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s.Wait()
	if got := len(rec.Kinds()); got != 8 {
		t.Fatalf("messages after refresh: %d", got)
	}
}

func TestStreamer_Status(t *testing.T) {
	rec := streamtest.NewRecorder()
	s := stream.NewStreamer("st", deps(t, rec), cfg(1000))
	defer s.Close()
	if st := s.Status(); st.HasInput || st.State != "idle" || st.SessionID != "" {
		t.Fatalf("initial status: %+v", st)
	}
	if err := s.Update(context.Background(), mesh.Direct(testMesh(10, 0, mesh.Float32)), nil); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	st := s.Status()
	if !st.HasInput || st.State != "done" || st.Chunks != 1 || st.SessionID == "" {
		t.Fatalf("status after stream: %+v", st)
	}
}
