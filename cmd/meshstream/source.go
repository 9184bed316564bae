package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"meshstream.dev/internal/config"
	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/mesh/sdfsource"
	"meshstream.dev/internal/persistence/meshfile"
	"meshstream.dev/internal/stream"
)

type source struct {
	name     string
	pipeline mesh.Pipeline
	// loader is set for file sources only.
	loader *meshfile.Loader
}

func openSource(cfg config.SourceConfig) (source, error) {
	if cfg.Path != "" {
		l := meshfile.NewLoader(cfg.Path)
		return source{name: cfg.Path, pipeline: l, loader: l}, nil
	}
	s, err := sdfsource.New(sdfsource.Options{Shape: cfg.Shape, Size: cfg.Size, Cells: cfg.Cells})
	if err != nil {
		return source{}, err
	}
	return source{name: "sdf:" + cfg.Shape, pipeline: s}, nil
}

// watchSource restreams st whenever the mesh file changes on disk.
func watchSource(ctx context.Context, l *meshfile.Loader, st *stream.Streamer, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !l.Stale() {
				continue
			}
			log.Info("mesh file changed", zap.String("path", l.Path()))
			if err := st.ForcePush(ctx); err != nil {
				log.Warn("restream failed", zap.String("path", l.Path()), zap.Error(err))
			}
		}
	}
}
