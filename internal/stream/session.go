// Package stream drives progressive delivery of one mesh version: a metadata
// description, a voxel summary, bounded geometry chunks and a final
// connectivity message.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"meshstream.dev/internal/chunkplan"
	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/summary"
)

var ErrBadState = errors.New("stream: operation not allowed in current state")

// Emitter is the transport boundary. Attach registers a binary payload and
// returns the token messages use to reference it; Emit publishes a message
// whose attachments were all attached before it. Neither call acknowledges
// delivery.
type Emitter interface {
	Attach(data []byte) string
	Emit(msg meshproto.Message)
}

type Summarizer interface {
	Summarize(ctx context.Context, pd *mesh.PolyData) (summary.Grid, error)
}

type Deps struct {
	Emitter    Emitter
	Summarizer Summarizer
	// Events is optional.
	Events EventLogger
	// Logger is optional; nil logs nothing.
	Logger *zap.Logger
	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

// Session is one streaming operation over one mesh version. It is not safe
// for concurrent use; accessors may be read once Run (or the goroutine
// driving Step) has returned.
type Session struct {
	id     string
	meshID string
	input  mesh.Input
	camera *meshproto.CameraState
	deps   Deps
	cfg    Config
	log    *zap.Logger

	state        State
	pd           *mesh.PolyData
	plan         chunkplan.Plan
	pointsOffset int
	polysOffset  int
	stats        Stats
	err          error
}

func NewSession(meshID string, input mesh.Input, camera *meshproto.CameraState, deps Deps, cfg Config) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	id := ksuid.New().String()
	return &Session{
		id:     id,
		meshID: meshID,
		input:  input,
		camera: camera,
		deps:   deps,
		cfg:    cfg,
		log:    deps.Logger.With(zap.String("mesh_id", meshID), zap.String("session_id", id)),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) MeshID() string       { return s.meshID }
func (s *Session) State() State         { return s.state }
func (s *Session) Plan() chunkplan.Plan { return s.plan }
func (s *Session) PointsOffset() int    { return s.pointsOffset }
func (s *Session) PolysOffset() int     { return s.polysOffset }
func (s *Session) Stats() Stats         { return s.stats }
func (s *Session) Err() error           { return s.err }

// Begin runs the synchronous prefix: resolve the dataset, send metadata and
// the voxel summary, and size the chunks.
func (s *Session) Begin(ctx context.Context) error {
	if s.state != Idle {
		return fmt.Errorf("%w: begin in %s", ErrBadState, s.state)
	}
	if s.deps.Emitter == nil || s.deps.Summarizer == nil {
		return s.fail(meshproto.ErrInternal, errors.New("stream: missing emitter or summarizer"))
	}
	s.stats.StartedAt = s.deps.Now()

	pd, err := s.input.Resolve(ctx)
	if err != nil {
		return s.fail(meshproto.ErrSourceFailed, err)
	}
	if err := pd.Validate(); err != nil {
		return s.fail(meshproto.ErrSourceFailed, err)
	}
	s.pd = pd

	s.deps.Emitter.Emit(s.metadata())
	s.state = DescriptionSent

	grid, err := s.deps.Summarizer.Summarize(ctx, pd)
	if err != nil {
		return s.fail(errorCode(err), err)
	}
	ref := s.deps.Emitter.Attach(grid.Cells)
	s.deps.Emitter.Emit(&meshproto.OctreeMsg{
		Type:            meshproto.TypeOctree,
		ProtocolVersion: meshproto.Version,
		MeshID:          s.meshID,
		SessionID:       s.id,
		Dimensions:      grid.Dimensions,
		Origin:          grid.Origin,
		Spacing:         grid.Spacing,
		Octree:          ref,
	})
	s.stats.Bytes += int64(len(grid.Cells))
	s.state = SummarySent

	plan, err := chunkplan.Compute(pd.Points.Len(), pd.Points.Type.Size(), len(pd.Polys), s.cfg.ChunkBytes)
	if err != nil {
		return s.fail(errorCode(err), err)
	}
	s.plan = plan
	s.state = Streaming

	s.event(Event{
		Kind:       EventStarted,
		Points:     pd.Points.Len(),
		Polys:      len(pd.Polys),
		PointsType: pd.Points.Type.ClassName(),
		MaxPoints:  plan.MaxPoints,
		MaxPolys:   plan.MaxPolys,
	})
	s.log.Debug("stream started",
		zap.Int("points", pd.Points.Len()),
		zap.Int("polys", len(pd.Polys)),
		zap.Int("max_points", plan.MaxPoints),
		zap.Int("max_polys", plan.MaxPolys),
	)
	return nil
}

func (s *Session) metadata() *meshproto.MetadataMsg {
	var cam *meshproto.CameraState
	if s.camera != nil {
		c := *s.camera
		cam = &c
	}
	return &meshproto.MetadataMsg{
		Type:            meshproto.TypeMetadata,
		ProtocolVersion: meshproto.Version,
		MeshID:          s.meshID,
		SessionID:       s.id,
		Points:          s.pd.Points.Len(),
		PointsType:      s.pd.Points.Type.ClassName(),
		Polys:           len(s.pd.Polys),
		VertsType:       meshproto.UnsignedIntArray,
		LinesType:       meshproto.UnsignedIntArray,
		PolysType:       meshproto.UnsignedIntArray,
		StripsType:      meshproto.UnsignedIntArray,
		Bounds:          [6]float64(s.pd.Bounds()),
		Camera:          cam,
	}
}

// Pending reports whether points remain to be sent in chunks.
func (s *Session) Pending() bool {
	return s.state == Streaming && s.pointsOffset < s.pd.Points.Len()
}

// Step sends the next chunk. It returns whether points remain afterwards.
func (s *Session) Step() (bool, error) {
	if !s.Pending() {
		return false, fmt.Errorf("%w: step in %s", ErrBadState, s.state)
	}
	pts := s.pd.Points.Slice(s.pointsOffset, s.plan.MaxPoints)
	xyz := pts.Bytes()
	msg := &meshproto.ChunkMsg{
		Type:            meshproto.TypeChunk,
		ProtocolVersion: meshproto.Version,
		MeshID:          s.meshID,
		SessionID:       s.id,
		ArrayType:       s.pd.Points.Type.ArrayType(),
		XYZ:             s.deps.Emitter.Attach(xyz),
	}
	bytes := int64(len(xyz))

	var polys mesh.CellArray
	if len(s.pd.Polys) > 0 {
		polys = s.pd.Polys.Slice(s.polysOffset, s.plan.MaxPolys)
		if len(polys) > 0 {
			b := polys.Bytes()
			msg.Polys = s.deps.Emitter.Attach(b)
			bytes += int64(len(b))
		}
	}
	s.deps.Emitter.Emit(msg)

	s.pointsOffset += pts.Len()
	s.polysOffset += len(polys)
	s.stats.Chunks++
	s.stats.Bytes += bytes

	s.event(Event{
		Kind:         EventChunk,
		Chunk:        s.stats.Chunks,
		ChunkPoints:  pts.Len(),
		ChunkPolys:   len(polys),
		PointsOffset: s.pointsOffset,
		PolysOffset:  s.polysOffset,
		Bytes:        bytes,
	})
	return s.Pending(), nil
}

// Finish sends connectivity: verts, lines and strips whole, plus whatever
// polygon entries no chunk carried.
func (s *Session) Finish() error {
	if s.state != Streaming || s.Pending() {
		return fmt.Errorf("%w: finish in %s", ErrBadState, s.state)
	}
	e := s.deps.Emitter
	msg := &meshproto.ConnectivityMsg{
		Type:            meshproto.TypeConnectivity,
		ProtocolVersion: meshproto.Version,
		MeshID:          s.meshID,
		SessionID:       s.id,
	}
	var bytes int64
	attach := func(c mesh.CellArray) string {
		b := c.Bytes()
		bytes += int64(len(b))
		return e.Attach(b)
	}
	msg.Verts = attach(s.pd.Verts)
	msg.Lines = attach(s.pd.Lines)
	msg.Strips = attach(s.pd.Strips)
	if rest := len(s.pd.Polys) - s.polysOffset; rest > 0 {
		msg.Polys = attach(s.pd.Polys.Slice(s.polysOffset, rest))
		s.polysOffset += rest
	}
	e.Emit(msg)
	s.state = ConnectivitySent

	s.stats.Bytes += bytes
	s.stats.FinishedAt = s.deps.Now()
	s.state = Done
	s.event(Event{Kind: EventFinished, Bytes: s.stats.Bytes, PointsOffset: s.pointsOffset, PolysOffset: s.polysOffset})
	s.log.Debug("stream finished",
		zap.Int("chunks", s.stats.Chunks),
		zap.Int64("bytes", s.stats.Bytes),
		zap.Duration("elapsed", s.stats.FinishedAt.Sub(s.stats.StartedAt)),
	)
	return nil
}

// Run performs the whole operation in the calling goroutine.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	return s.Stream(ctx)
}

// Stream sends the chunks and the final connectivity message after Begin.
// The delay before each chunk is the only point where ctx is observed.
func (s *Session) Stream(ctx context.Context) error {
	if s.state != Streaming {
		return fmt.Errorf("%w: stream in %s", ErrBadState, s.state)
	}
	for s.Pending() {
		if err := sleep(ctx, s.cfg.Delay); err != nil {
			s.cancelled(err)
			return err
		}
		if _, err := s.Step(); err != nil {
			return s.fail(meshproto.ErrInternal, err)
		}
	}
	return s.Finish()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) cancelled(err error) {
	s.state = Failed
	s.err = err
	s.stats.FinishedAt = s.deps.Now()
	s.event(Event{Kind: EventCancelled, PointsOffset: s.pointsOffset, PolysOffset: s.polysOffset, Error: err.Error()})
	s.log.Debug("stream cancelled", zap.Int("points_offset", s.pointsOffset))
}

func (s *Session) fail(code string, err error) error {
	s.state = Failed
	s.err = err
	s.stats.FinishedAt = s.deps.Now()
	if s.deps.Emitter != nil {
		s.deps.Emitter.Emit(&meshproto.ErrorMsg{
			Type:            meshproto.TypeError,
			ProtocolVersion: meshproto.Version,
			MeshID:          s.meshID,
			SessionID:       s.id,
			Code:            code,
			Message:         err.Error(),
		})
	}
	s.event(Event{Kind: EventFailed, Code: code, Error: err.Error()})
	s.log.Warn("stream failed", zap.String("code", code), zap.Error(err))
	return err
}

func (s *Session) event(e Event) {
	if s.deps.Events == nil {
		return
	}
	e.SessionID = s.id
	e.MeshID = s.meshID
	e.Time = s.deps.Now()
	if err := s.deps.Events.WriteStreamEvent(e); err != nil {
		s.log.Warn("event logger", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, summary.ErrInvalidPartitionCount):
		return meshproto.ErrInvalidPartitionCount
	case errors.Is(err, chunkplan.ErrBudgetTooSmall):
		return meshproto.ErrBudgetTooSmall
	case errors.Is(err, mesh.ErrInvalidMesh):
		return meshproto.ErrSourceFailed
	default:
		return meshproto.ErrInternal
	}
}
