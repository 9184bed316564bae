package stream

import "time"

// State is the position of a Session in its one-way lifecycle.
type State int

const (
	Idle State = iota
	DescriptionSent
	SummarySent
	Streaming
	ConnectivitySent
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DescriptionSent:
		return "description_sent"
	case SummarySent:
		return "summary_sent"
	case Streaming:
		return "streaming"
	case ConnectivitySent:
		return "connectivity_sent"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the per-operation streaming parameters.
type Config struct {
	// ChunkBytes caps the combined point and polygon bytes of one chunk.
	ChunkBytes int
	// Delay is slept before every chunk.
	Delay time.Duration
}

// Stats summarizes what a session has sent so far.
type Stats struct {
	Chunks     int
	Bytes      int64
	StartedAt  time.Time
	FinishedAt time.Time
}
