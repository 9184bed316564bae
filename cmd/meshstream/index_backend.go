package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"meshstream.dev/internal/config"
	"meshstream.dev/internal/persistence/indexdb"
	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/transport/api"
)

type runtimeIndex interface {
	stream.EventLogger
	Close() error
}

func openIndex(cfg config.IndexConfig, log *zap.Logger) (runtimeIndex, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.IndexNone:
		return nil, nil
	case config.IndexSQLite:
		idx, err := indexdb.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite index", zap.String("path", cfg.Path))
		return idx, nil
	case config.IndexHTTP:
		idx, err := indexdb.OpenHTTP(indexdb.HTTPConfig{
			Endpoint: cfg.Endpoint,
			Token:    cfg.Token,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		log.Info("http index", zap.String("endpoint", cfg.Endpoint))
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Backend)
	}
}

// sessionLister returns idx when it can answer session queries.
func sessionLister(idx runtimeIndex) api.SessionLister {
	if l, ok := idx.(api.SessionLister); ok {
		return l
	}
	return nil
}
