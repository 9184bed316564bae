package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load returns defaults overlaid with the YAML file at path. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first setting the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is empty")
	}
	if c.Server.Queue <= 0 {
		return fmt.Errorf("server.queue must be > 0, got %d", c.Server.Queue)
	}
	if c.Stream.BucketSize <= 0 {
		return fmt.Errorf("stream.bucket_size must be > 0, got %d", c.Stream.BucketSize)
	}
	if c.Stream.ChunkBytes <= 0 {
		return fmt.Errorf("stream.chunk_bytes must be > 0, got %d", c.Stream.ChunkBytes)
	}
	if c.Stream.Delay < 0 {
		return fmt.Errorf("stream.delay must be >= 0, got %s", c.Stream.Delay)
	}
	if c.Stream.MaxCellsPerAxis <= 0 {
		return fmt.Errorf("stream.max_cells_per_axis must be > 0, got %d", c.Stream.MaxCellsPerAxis)
	}
	if strings.TrimSpace(c.Source.ID) == "" {
		return fmt.Errorf("source.id is empty")
	}
	if c.Source.Path == "" && c.Source.Shape == "" {
		return fmt.Errorf("source needs a path or a shape")
	}
	if c.Source.Watch < 0 {
		return fmt.Errorf("source.watch must be >= 0, got %s", c.Source.Watch)
	}
	switch c.Index.Backend {
	case IndexSQLite:
		if c.Index.Path == "" {
			return fmt.Errorf("index.path is required for the sqlite backend")
		}
	case IndexHTTP:
		if c.Index.Endpoint == "" {
			return fmt.Errorf("index.endpoint is required for the http backend")
		}
	case IndexNone, "":
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return fmt.Errorf("redis.channel is empty")
	}
	return nil
}
