package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/meshclient"
	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/summary"
	"meshstream.dev/internal/summary/octree"
	"meshstream.dev/internal/transport/hub"
)

type recordingRefresher struct {
	ids []string
	got chan string
}

func newRecordingRefresher(ids ...string) *recordingRefresher {
	return &recordingRefresher{ids: ids, got: make(chan string, 16)}
}

func (r *recordingRefresher) IDs() []string { return r.ids }

func (r *recordingRefresher) Refresh(_ context.Context, id string) error {
	r.got <- id
	return nil
}

func (r *recordingRefresher) next(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.got:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh not received")
		return ""
	}
}

func newTestServer(t *testing.T, h *hub.Hub, r Refresher, opts ...func(*Server)) string {
	t.Helper()
	s := NewServer(h, r, nil)
	for _, opt := range opts {
		opt(s)
	}
	router := mux.NewRouter()
	router.HandleFunc("/v1/ws", s.Handler())
	router.HandleFunc("/v1/meshes/{id}/ws", s.Handler())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitSubscribers(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: got %d want %d", h.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testMesh() *mesh.PolyData {
	xyz := make([]float32, 0, 3*200)
	for i := 0; i < 200; i++ {
		xyz = append(xyz, float32(i), float32(i%7), float32(i%13))
	}
	var polys mesh.CellArray
	for i := 0; i+2 < 200; i += 3 {
		polys = append(polys, 3, uint32(i), uint32(i+1), uint32(i+2))
	}
	return &mesh.PolyData{Points: mesh.NewPoints32(xyz), Polys: polys, Verts: mesh.CellArray{1, 0}}
}

func TestServer_StreamsMeshToSubscriber(t *testing.T) {
	for _, enc := range []string{meshproto.EncodingRaw, meshproto.EncodingZstd} {
		t.Run(enc, func(t *testing.T) {
			h := hub.New(nil, 1024)
			url := newTestServer(t, h, nil)

			c, err := Dial(context.Background(), url+"/v1/meshes/m1/ws", "", enc)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer c.Close()
			waitSubscribers(t, h, 1)

			a, err := summary.NewAdapter(octree.New(), 8)
			if err != nil {
				t.Fatal(err)
			}
			pd := testMesh()
			// Another mesh on the same hub must not reach this subscriber.
			other := stream.NewSession("m2", mesh.Direct(pd), nil, stream.Deps{Emitter: h, Summarizer: a}, stream.Config{ChunkBytes: 1000})
			if err := other.Run(context.Background()); err != nil {
				t.Fatalf("Run other: %v", err)
			}
			s := stream.NewSession("m1", mesh.Direct(pd), nil, stream.Deps{Emitter: h, Summarizer: a}, stream.Config{ChunkBytes: 1000})
			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}

			asm := meshclient.NewAssembler()
			_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				f, err := c.ReadFrame()
				if err != nil {
					t.Fatalf("ReadFrame: %v", err)
				}
				if f.Message.Mesh() != "m1" {
					t.Fatalf("received mesh %s", f.Message.Mesh())
				}
				done, err := asm.Apply(f)
				if err != nil {
					t.Fatalf("Apply: %v", err)
				}
				if done {
					break
				}
			}
			got := asm.Mesh()
			if string(got.Points.Bytes()) != string(pd.Points.Bytes()) {
				t.Fatalf("points differ")
			}
			if string(got.Polys.Bytes()) != string(pd.Polys.Bytes()) {
				t.Fatalf("polys differ")
			}
			if len(got.Verts) != 2 {
				t.Fatalf("verts: %v", got.Verts)
			}
		})
	}
}

func TestServer_RefreshUsesRouteMesh(t *testing.T) {
	h := hub.New(nil, 16)
	r := newRecordingRefresher("abc", "def")
	url := newTestServer(t, h, r)
	c, err := Dial(context.Background(), url+"/v1/meshes/abc/ws", "", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	waitSubscribers(t, h, 1)
	if id := r.next(t); id != "abc" {
		t.Fatalf("subscribe refresh id: %s", id)
	}

	if err := c.Refresh("ignored"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if id := r.next(t); id != "abc" {
		t.Fatalf("refresh id: %s", id)
	}
}

func TestServer_SubscribeWithoutMeshRefreshesAll(t *testing.T) {
	h := hub.New(nil, 16)
	r := newRecordingRefresher("a", "b")
	url := newTestServer(t, h, r)
	c, err := Dial(context.Background(), url+"/v1/ws", "", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if got := []string{r.next(t), r.next(t)}; got[0] != "a" || got[1] != "b" {
		t.Fatalf("refreshed: %v", got)
	}
}

func TestServer_LateSubscriberReceivesFullMesh(t *testing.T) {
	h := hub.New(nil, 1024)
	a, err := summary.NewAdapter(octree.New(), 8)
	if err != nil {
		t.Fatal(err)
	}
	reg := stream.NewRegistry()
	t.Cleanup(reg.Close)
	st := stream.NewStreamer("m1", stream.Deps{Emitter: h, Summarizer: a}, stream.Config{ChunkBytes: 1000})
	reg.Add(st)
	pd := testMesh()
	if err := st.Update(context.Background(), mesh.Direct(pd), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// The only stream finishes before anyone listens.
	st.Wait()

	url := newTestServer(t, h, reg)
	c, err := Dial(context.Background(), url+"/v1/meshes/m1/ws", "", meshproto.EncodingZstd)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	asm := meshclient.NewAssembler()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		f, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		done, err := asm.Apply(f)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if done {
			break
		}
	}
	if got := asm.Mesh(); string(got.Points.Bytes()) != string(pd.Points.Bytes()) {
		t.Fatalf("points differ")
	}
}

func shortKeepalive(s *Server) {
	s.pingInterval = 20 * time.Millisecond
	s.readTimeout = 150 * time.Millisecond
}

func TestServer_KeepsIdleSubscriberAlive(t *testing.T) {
	h := hub.New(nil, 16)
	url := newTestServer(t, h, nil, shortKeepalive)
	c, err := Dial(context.Background(), url+"/v1/meshes/m1/ws", "", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	// Reading lets the client answer pings.
	go func() {
		for {
			if _, err := c.ReadFrame(); err != nil {
				return
			}
		}
	}()
	waitSubscribers(t, h, 1)

	time.Sleep(600 * time.Millisecond)
	if n := h.Subscribers(); n != 1 {
		t.Fatalf("subscribers after idle period: %d", n)
	}
}

func TestServer_DropsSubscriberWithoutPongs(t *testing.T) {
	h := hub.New(nil, 16)
	url := newTestServer(t, h, nil, shortKeepalive)
	c, err := Dial(context.Background(), url+"/v1/meshes/m1/ws", "", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	waitSubscribers(t, h, 1)
	// Nothing reads on the client side, so pings go unanswered.
	waitSubscribers(t, h, 0)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	h := hub.New(nil, 16)
	url := newTestServer(t, h, nil)
	conn, _, err := websocket.DefaultDialer.Dial(url+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO","protocol_version":"1.0"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_RejectsMismatchedMesh(t *testing.T) {
	h := hub.New(nil, 16)
	url := newTestServer(t, h, nil)
	c, err := Dial(context.Background(), url+"/v1/meshes/a/ws", "b", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.ReadFrame()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
