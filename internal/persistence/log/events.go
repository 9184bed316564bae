// Package log records stream session events as compressed JSON lines.
package log

import (
	"encoding/json"
	"path/filepath"

	"meshstream.dev/internal/stream"
)

// EventLog is a stream.EventLogger writing under <dir>/events.
type EventLog struct{ w *JSONLZstdWriter }

var _ stream.EventLogger = (*EventLog)(nil)

func NewEventLog(dir string) *EventLog {
	return &EventLog{w: NewJSONLZstdWriter(filepath.Join(dir, "events"), "events")}
}

func (l *EventLog) WriteStreamEvent(e stream.Event) error { return l.w.Write(e) }
func (l *EventLog) Path() string                          { return l.w.Path() }
func (l *EventLog) Close() error                          { return l.w.Close() }

// ReadEvents decodes every event in one event file.
func ReadEvents(path string) ([]stream.Event, error) {
	var out []stream.Event
	err := ReadJSONL(path, func(line []byte) error {
		var e stream.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
