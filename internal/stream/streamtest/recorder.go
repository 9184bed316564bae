// Package streamtest provides an in-memory Emitter for tests.
package streamtest

import (
	"fmt"
	"sync"

	"meshstream.dev/internal/meshproto"
)

// Recorder implements stream.Emitter and keeps everything it is given.
type Recorder struct {
	mu      sync.Mutex
	next    int
	pending map[string][]byte
	msgs    []meshproto.Frame
}

func NewRecorder() *Recorder {
	return &Recorder{pending: map[string][]byte{}}
}

func (r *Recorder) Attach(data []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	ref := fmt.Sprintf("att-%d", r.next)
	cp := make([]byte, len(data))
	copy(cp, data)
	r.pending[ref] = cp
	return ref
}

func (r *Recorder) Emit(msg meshproto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := meshproto.Frame{Message: msg}
	for _, ref := range msg.AttachmentRefs() {
		data, ok := r.pending[ref]
		if !ok {
			continue
		}
		delete(r.pending, ref)
		rec.Attachments = append(rec.Attachments, meshproto.Attachment{Ref: ref, Data: data})
	}
	r.msgs = append(r.msgs, rec)
}

// Frames returns a copy of everything emitted so far.
func (r *Recorder) Frames() []meshproto.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]meshproto.Frame, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Kinds returns the message types in emission order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Message.Kind()
	}
	return out
}

// Pending returns the number of attachments no emitted message referenced.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
	r.pending = map[string][]byte{}
}
