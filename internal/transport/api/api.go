// Package api exposes the HTTP routes of the mesh server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/persistence/indexdb"
	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/transport/hub"
	"meshstream.dev/internal/transport/ws"
)

type MeshesResponse struct {
	ProtocolVersion string          `json:"protocol_version"`
	Topic           string          `json:"topic"`
	Subscribers     int             `json:"subscribers"`
	Meshes          []stream.Status `json:"meshes"`
}

type SessionsResponse struct {
	MeshID   string               `json:"mesh_id"`
	Sessions []indexdb.SessionRow `json:"sessions"`
}

// SessionLister reads indexed streaming sessions.
type SessionLister interface {
	RecentSessions(ctx context.Context, meshID string, limit int) ([]indexdb.SessionRow, error)
}

type Server struct {
	registry *stream.Registry
	hub      *hub.Hub
	sessions SessionLister
	ws       *ws.Server
	log      *zap.Logger
}

// NewServer builds the HTTP surface. sessions may be nil when no queryable
// index is configured.
func NewServer(reg *stream.Registry, h *hub.Hub, sessions SessionLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: reg,
		hub:      h,
		sessions: sessions,
		ws:       ws.NewServer(h, reg, logger.Named("ws")),
		log:      logger,
	}
}

// Router wires every route onto a fresh mux.Router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/meshes", s.MeshesHandler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/meshes/{id}/refresh", s.RefreshHandler()).Methods(http.MethodPost)
	r.HandleFunc("/v1/meshes/{id}/sessions", s.SessionsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/meshes/{id}/ws", s.ws.Handler())
	r.HandleFunc("/v1/ws", s.ws.Handler())
	return r
}

func (s *Server) MeshesHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp := MeshesResponse{
			ProtocolVersion: meshproto.Version,
			Topic:           meshproto.Topic,
			Subscribers:     s.hub.Subscribers(),
			Meshes:          s.registry.Statuses(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// RefreshHandler restreams one mesh. Only loopback callers may trigger it.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		id := mux.Vars(r)["id"]
		err := s.registry.Refresh(r.Context(), id)
		switch {
		case errors.Is(err, stream.ErrUnknownMesh):
			http.Error(rw, "unknown mesh", http.StatusNotFound)
			return
		case err != nil:
			s.log.Warn("refresh", zap.String("mesh_id", id), zap.Error(err))
			http.Error(rw, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		rw.WriteHeader(http.StatusAccepted)
	}
}

// SessionsHandler lists the newest indexed sessions of one mesh.
func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			http.Error(rw, "no session index", http.StatusNotFound)
			return
		}
		id := mux.Vars(r)["id"]
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				http.Error(rw, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		rows, err := s.sessions.RecentSessions(r.Context(), id, limit)
		if err != nil {
			s.log.Warn("list sessions", zap.String("mesh_id", id), zap.Error(err))
			http.Error(rw, "index error", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []indexdb.SessionRow{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(SessionsResponse{MeshID: id, Sessions: rows})
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
