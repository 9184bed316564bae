package stream

import "time"

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventChunk     EventKind = "chunk"
	EventFinished  EventKind = "finished"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is one session lifecycle record handed to an EventLogger.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	MeshID    string    `json:"mesh_id"`
	Time      time.Time `json:"time"`

	// Set on started.
	Points     int    `json:"points,omitempty"`
	Polys      int    `json:"polys,omitempty"`
	PointsType string `json:"points_type,omitempty"`
	MaxPoints  int    `json:"max_points,omitempty"`
	MaxPolys   int    `json:"max_polys,omitempty"`

	// Set on chunk.
	Chunk        int `json:"chunk,omitempty"`
	ChunkPoints  int `json:"chunk_points,omitempty"`
	ChunkPolys   int `json:"chunk_polys,omitempty"`
	PointsOffset int `json:"points_offset,omitempty"`
	PolysOffset  int `json:"polys_offset,omitempty"`

	Bytes int64 `json:"bytes,omitempty"`

	// Set on failed.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventLogger receives session events. Implementations must not block the
// stream for long; errors are logged and otherwise ignored.
type EventLogger interface {
	WriteStreamEvent(e Event) error
}

// MultiEventLogger fans events out to every non-nil logger and returns the
// first error.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) WriteStreamEvent(e Event) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteStreamEvent(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
