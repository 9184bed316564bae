package stream

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/meshproto"
)

var (
	ErrClosed      = errors.New("stream: streamer closed")
	ErrUnknownMesh = errors.New("stream: unknown mesh id")
)

var meshSeq atomic.Uint64

// NextMeshID returns a process-unique mesh id: "1", "2", ...
func NextMeshID() string {
	return strconv.FormatUint(meshSeq.Add(1), 10)
}

// Streamer owns the current mesh version for one mesh id and restreams it
// on change or on demand. At most one session per Streamer emits at a time:
// starting a new one cancels the running session and waits for it to stop.
type Streamer struct {
	id   string
	deps Deps
	cfg  Config
	log  *zap.Logger

	base     context.Context
	stopBase context.CancelFunc

	mu      sync.Mutex
	input   mesh.Input
	camera  *meshproto.CameraState
	current *Session
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// NewStreamer builds a Streamer; an empty id takes the next NextMeshID.
func NewStreamer(id string, deps Deps, cfg Config) *Streamer {
	if id == "" {
		id = NextMeshID()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Streamer{
		id:       id,
		deps:     deps,
		cfg:      cfg,
		log:      deps.Logger.With(zap.String("mesh_id", id)),
		base:     base,
		stopBase: stop,
	}
}

func (s *Streamer) ID() string { return s.id }

// Update stores camera and, when in is set and differs from the current
// input, streams it. ctx bounds the synchronous prefix only.
func (s *Streamer) Update(ctx context.Context, in mesh.Input, camera *meshproto.CameraState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if camera != nil {
		c := *camera
		s.camera = &c
	}
	if in.IsZero() || in.Same(s.input) {
		return nil
	}
	s.input = in
	return s.pushLocked(ctx)
}

// ForcePush restreams the current input. Without one it does nothing.
func (s *Streamer) ForcePush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.input.IsZero() {
		s.log.Debug("force push without mesh")
		return nil
	}
	return s.pushLocked(ctx)
}

func (s *Streamer) pushLocked(ctx context.Context) error {
	s.stopLocked()

	sess := NewSession(s.id, s.input, s.camera, s.deps, s.cfg)
	s.current = sess
	if err := sess.Begin(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		_ = sess.Stream(runCtx)
	}()
	return nil
}

func (s *Streamer) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// Wait blocks until the running session, if any, has finished. Afterwards
// the session returned by Current may be inspected.
func (s *Streamer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Current returns the most recent session, or nil.
func (s *Streamer) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Streamer) HasInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.input.IsZero()
}

// Close cancels any running session and rejects further calls.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopBase()
	s.stopLocked()
}

// Registry maps mesh ids to their Streamers.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Streamer
}

func NewRegistry() *Registry { return &Registry{m: map[string]*Streamer{}} }

func (r *Registry) Add(s *Streamer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID()] = s
}

func (r *Registry) Get(id string) (*Streamer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	return s, ok
}

// IDs returns the registered mesh ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Refresh force-pushes the mesh registered under id.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrUnknownMesh
	}
	return s.ForcePush(ctx)
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		s.Close()
	}
}

// Status is a point-in-time view of a Streamer, safe to read while a
// session is running.
type Status struct {
	MeshID    string `json:"id"`
	HasInput  bool   `json:"has_mesh"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Chunks    int    `json:"chunks,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
}

func (s *Streamer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{MeshID: s.id, HasInput: !s.input.IsZero(), State: Idle.String()}
	if s.current == nil {
		return st
	}
	st.SessionID = s.current.ID()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			st.State = Streaming.String()
			return st
		}
	}
	st.State = s.current.State().String()
	st.Chunks = s.current.Stats().Chunks
	st.Bytes = s.current.Stats().Bytes
	return st
}

// Statuses returns the status of every registered Streamer, sorted by id.
func (r *Registry) Statuses() []Status {
	ids := r.IDs()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Get(id); ok {
			out = append(out, s.Status())
		}
	}
	return out
}
