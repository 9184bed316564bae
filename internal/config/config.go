// Package config loads meshstream server settings.
package config

import (
	"time"

	"meshstream.dev/internal/meshproto"
)

// Config holds all server settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Source  SourceConfig  `yaml:"source"`
	Index   IndexConfig   `yaml:"index"`
	Record  RecordConfig  `yaml:"record"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Queue is the per-subscriber frame queue length.
	Queue int `yaml:"queue"`
}

// StreamConfig holds chunking and pacing settings.
type StreamConfig struct {
	BucketSize      int           `yaml:"bucket_size"`
	ChunkBytes      int           `yaml:"chunk_bytes"`
	Delay           time.Duration `yaml:"delay"`
	MaxCellsPerAxis int           `yaml:"max_cells_per_axis"`
}

// SourceConfig selects the mesh served at startup: a .mesh.zst file when
// Path is set, otherwise a generated SDF shape.
type SourceConfig struct {
	ID    string  `yaml:"id"`
	Path  string  `yaml:"path"`
	Shape string  `yaml:"shape"`
	Size  float64 `yaml:"size"`
	Cells int     `yaml:"cells"`
	// Watch is how often Path is checked for changes. Zero disables it.
	Watch time.Duration `yaml:"watch"`
}

// IndexConfig selects where stream events are indexed.
type IndexConfig struct {
	Backend  string `yaml:"backend"` // sqlite | http | none
	Path     string `yaml:"path"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// RecordConfig controls the jsonl.zst event recorder. An empty Dir disables it.
type RecordConfig struct {
	Dir string `yaml:"dir"`
}

// RedisConfig mirrors frames to a Redis channel when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const (
	IndexSQLite = "sqlite"
	IndexHTTP   = "http"
	IndexNone   = "none"
)

// Default returns a Config with the stock server settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:  "127.0.0.1:8080",
			Queue: 256,
		},
		Stream: StreamConfig{
			BucketSize:      8,
			ChunkBytes:      5_000_000,
			Delay:           100 * time.Millisecond,
			MaxCellsPerAxis: 128,
		},
		Source: SourceConfig{
			ID:    "default",
			Shape: "bracket",
			Size:  100,
			Cells: 64,
			Watch: 2 * time.Second,
		},
		Index: IndexConfig{
			Backend: IndexSQLite,
			Path:    "data/index/meshstream.sqlite",
		},
		Record: RecordConfig{
			Dir: "data/events",
		},
		Redis: RedisConfig{
			Channel: meshproto.Topic,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}
