package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/transport/api"
)

func TestRequestRefresh(t *testing.T) {
	var (
		mu        sync.Mutex
		refreshed []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/meshes", func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(api.MeshesResponse{Meshes: []stream.Status{{MeshID: "a"}, {MeshID: "b"}}})
	})
	mux.HandleFunc("/v1/meshes/", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/v1/meshes/missing/refresh" {
			http.Error(rw, "unknown mesh", http.StatusNotFound)
			return
		}
		mu.Lock()
		refreshed = append(refreshed, r.URL.Path)
		mu.Unlock()
		rw.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	if err := requestRefresh(ctx, srv.Client(), srv.URL+"/", "cube"); err != nil {
		t.Fatalf("refresh one: %v", err)
	}
	if err := requestRefresh(ctx, srv.Client(), srv.URL, ""); err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	sort.Strings(refreshed)
	want := []string{"/v1/meshes/a/refresh", "/v1/meshes/b/refresh", "/v1/meshes/cube/refresh"}
	if len(refreshed) != len(want) {
		t.Fatalf("refreshed: %v", refreshed)
	}
	for i := range want {
		if refreshed[i] != want[i] {
			t.Fatalf("refreshed: %v", refreshed)
		}
	}

	if err := requestRefresh(ctx, srv.Client(), srv.URL, "missing"); err == nil {
		t.Fatalf("expected error for unknown mesh")
	}
}
