// Package hub is the in-process message bus between stream sessions and
// subscribers. It assigns attachment references and fans frames out.
package hub

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"meshstream.dev/internal/meshproto"
)

const DefaultQueue = 256

// Sink receives every frame in emission order. Publish should not block for
// long: it runs on the emitting session's goroutine.
type Sink interface {
	Publish(f meshproto.Frame)
}

// Subscriber is a bounded frame queue filtered by mesh id. A subscriber that
// falls behind is closed rather than skipped, since a gap would corrupt the
// reconstruction on the other end.
type Subscriber struct {
	id      uint64
	meshID  string
	out     chan meshproto.Frame
	dropped bool
}

// C delivers frames; it is closed on Unsubscribe, overflow or hub Close.
func (s *Subscriber) C() <-chan meshproto.Frame { return s.out }

func (s *Subscriber) MeshID() string { return s.meshID }

type Hub struct {
	log   *zap.Logger
	queue int

	mu      sync.Mutex
	nextRef uint64
	nextSub uint64
	pending map[string][]byte
	subs    map[uint64]*Subscriber
	closed  bool

	sinkMu sync.Mutex
	sinks  []Sink
}

func New(logger *zap.Logger, queue int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &Hub{
		log:     logger,
		queue:   queue,
		pending: map[string][]byte{},
		subs:    map[uint64]*Subscriber{},
	}
}

// Attach keeps data until the message referencing it is emitted.
func (h *Hub) Attach(data []byte) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextRef++
	ref := "att-" + strconv.FormatUint(h.nextRef, 10)
	h.pending[ref] = data
	return ref
}

func (h *Hub) Emit(msg meshproto.Message) {
	f := meshproto.Frame{Message: msg}

	h.mu.Lock()
	for _, ref := range msg.AttachmentRefs() {
		data, ok := h.pending[ref]
		if !ok {
			h.log.Warn("emit references unknown attachment", zap.String("ref", ref), zap.String("type", msg.Kind()))
			continue
		}
		delete(h.pending, ref)
		f.Attachments = append(f.Attachments, meshproto.Attachment{Ref: ref, Data: data})
	}
	for id, sub := range h.subs {
		if sub.meshID != "" && sub.meshID != msg.Mesh() {
			continue
		}
		select {
		case sub.out <- f:
		default:
			h.log.Warn("subscriber queue full; dropping subscriber",
				zap.Uint64("subscriber", id), zap.String("mesh_id", msg.Mesh()))
			sub.dropped = true
			h.removeLocked(id)
		}
	}
	h.mu.Unlock()

	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	for _, s := range h.sinks {
		s.Publish(f)
	}
}

func (h *Hub) AddSink(s Sink) {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe registers a subscriber for meshID; empty means every mesh.
func (h *Hub) Subscribe(meshID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	sub := &Subscriber{id: h.nextSub, meshID: meshID, out: make(chan meshproto.Frame, h.queue)}
	if h.closed {
		close(sub.out)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.id)
}

// Dropped reports whether sub was closed because its queue overflowed.
func (h *Hub) Dropped(sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sub.dropped
}

func (h *Hub) removeLocked(id uint64) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.out)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber. Later subscribers are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
}
