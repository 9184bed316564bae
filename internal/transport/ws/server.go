package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/transport/hub"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Refresher restreams the current version of a mesh.
type Refresher interface {
	IDs() []string
	Refresh(ctx context.Context, meshID string) error
}

type Server struct {
	hub       *hub.Hub
	refresher Refresher
	log       *zap.Logger

	upgrader websocket.Upgrader

	// readTimeout must exceed pingInterval; every pong or message extends it.
	pingInterval time.Duration
	readTimeout  time.Duration
}

func NewServer(h *hub.Hub, refresher Refresher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:       h,
		refresher: refresher,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// Handler serves one subscriber. A mesh id in the route ({id}) pins the
// subscription; otherwise SUBSCRIBE chooses it. Subscribing restreams the
// subscribed mesh, or every mesh when none is named, so late subscribers
// receive a complete stream.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, ok := s.handshake(conn, mux.Vars(r)["id"])
		if !ok {
			return
		}
		encoding := meshproto.NormalizeEncoding(sub.AttachmentEncoding)
		subscriber := s.hub.Subscribe(sub.MeshID)
		defer s.hub.Unsubscribe(subscriber)
		log := s.log.With(zap.String("remote", r.RemoteAddr), zap.String("mesh_id", sub.MeshID), zap.String("encoding", encoding))
		log.Info("subscriber connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(s.pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						cancel()
						return
					}
				case f, ok := <-subscriber.C():
					if !ok {
						reason := "bye"
						code := websocket.CloseNormalClosure
						if s.hub.Dropped(subscriber) {
							reason, code = "subscriber too slow", websocket.CloseTryAgainLater
						}
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
						writeErr <- nil
						return
					}
					if err := writeFrame(conn, f, encoding); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		})

		s.push(ctx, sub.MeshID, log)

		// Reader loop: REFRESH requests.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			base, err := meshproto.DecodeBase(msg)
			if err != nil || base.Type != meshproto.TypeRefresh || base.ProtocolVersion != meshproto.Version {
				continue
			}
			id := base.MeshID
			if sub.MeshID != "" {
				id = sub.MeshID
			}
			s.push(ctx, id, log)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("subscriber disconnected")
	}
}

// push restreams meshID, or every registered mesh when meshID is empty.
func (s *Server) push(ctx context.Context, meshID string, log *zap.Logger) {
	if s.refresher == nil {
		return
	}
	ids := []string{meshID}
	if meshID == "" {
		ids = s.refresher.IDs()
	}
	for _, id := range ids {
		if err := s.refresher.Refresh(ctx, id); err != nil {
			log.Warn("refresh", zap.String("refresh_id", id), zap.Error(err))
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn, routeID string) (meshproto.SubscribeMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return meshproto.SubscribeMsg{}, false
	}
	var sub meshproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
		return sub, false
	}
	if sub.Type != meshproto.TypeSubscribe {
		closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
		return sub, false
	}
	if sub.ProtocolVersion != meshproto.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return sub, false
	}
	if routeID != "" {
		if sub.MeshID != "" && sub.MeshID != routeID {
			closeWith(conn, websocket.ClosePolicyViolation, "mesh id does not match route")
			return sub, false
		}
		sub.MeshID = routeID
	}
	return sub, true
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// writeFrame sends the attachments as binary messages, then the JSON text
// message that references them.
func writeFrame(conn *websocket.Conn, f meshproto.Frame, encoding string) error {
	for _, a := range f.Attachments {
		b, err := meshproto.EncodeAttachmentFrame(a, encoding)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return err
		}
	}
	return writeJSON(conn, f.Message)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
