// Package redisbus mirrors hub frames onto a Redis pub/sub channel so that
// processes other than the streaming server can consume them.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"meshstream.dev/internal/meshproto"
)

// Envelope is the JSON payload published per frame. Attachment data is
// base64 encoded by encoding/json.
type Envelope struct {
	Type        string                 `json:"type"`
	MeshID      string                 `json:"uuid"`
	Message     json.RawMessage        `json:"message"`
	Attachments []meshproto.Attachment `json:"attachments,omitempty"`
}

func Encode(f meshproto.Frame) ([]byte, error) {
	msg, err := json.Marshal(f.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:        f.Message.Kind(),
		MeshID:      f.Message.Mesh(),
		Message:     msg,
		Attachments: f.Attachments,
	})
}

func Decode(b []byte) (meshproto.Frame, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return meshproto.Frame{}, fmt.Errorf("envelope: %w", err)
	}
	msg, err := meshproto.DecodeMessage(env.Message)
	if err != nil {
		return meshproto.Frame{}, err
	}
	return meshproto.Frame{Message: msg, Attachments: env.Attachments}, nil
}

// Publisher is a hub.Sink.
type Publisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	log     *zap.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

func NewPublisher(rdb *redis.Client, channel string, logger *zap.Logger) *Publisher {
	if channel == "" {
		channel = meshproto.Topic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{rdb: rdb, channel: channel, timeout: 2 * time.Second, log: logger}
}

func (p *Publisher) Publish(f meshproto.Frame) {
	b, err := Encode(f)
	if err != nil {
		p.failures.Add(1)
		p.log.Error("redis encode", zap.String("type", f.Message.Kind()), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		// Log the first failure and then every 100th.
		if n := p.failures.Add(1); n == 1 || n%100 == 0 {
			p.log.Warn("redis publish", zap.String("channel", p.channel), zap.Uint64("failures", n), zap.Error(err))
		}
		return
	}
	p.published.Add(1)
}

func (p *Publisher) Published() uint64 { return p.published.Load() }
func (p *Publisher) Failures() uint64  { return p.failures.Load() }

// Subscribe decodes frames published on channel until ctx is done. Frames
// that fail to decode are skipped.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, logger *zap.Logger) (<-chan meshproto.Frame, error) {
	if channel == "" {
		channel = meshproto.Topic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan meshproto.Frame, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				f, err := Decode([]byte(m.Payload))
				if err != nil {
					logger.Warn("redis frame", zap.Error(err))
					continue
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
