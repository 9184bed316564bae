package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Stream.BucketSize != 8 || cfg.Stream.ChunkBytes != 5_000_000 || cfg.Stream.Delay != 100*time.Millisecond {
		t.Errorf("stream defaults: %+v", cfg.Stream)
	}
	if cfg.Redis.Channel != "meshstream.topic.mesh" {
		t.Errorf("redis channel: %q", cfg.Redis.Channel)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.LogFile != "" {
		t.Errorf("logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshstream.yaml")
	yamlContent := `
server:
  addr: "0.0.0.0:9000"
stream:
  chunk_bytes: 1000000
  delay: 250ms
source:
  path: meshes/part.mesh.zst
  watch: 0s
index:
  backend: http
  endpoint: https://index.example.com/ingest
logging:
  level: debug
  log_file: logs/meshstream.log
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Stream.ChunkBytes != 1_000_000 || cfg.Stream.Delay != 250*time.Millisecond {
		t.Errorf("stream: %+v", cfg.Stream)
	}
	// Unset keys keep their defaults.
	if cfg.Stream.BucketSize != 8 || cfg.Server.Queue != 256 {
		t.Errorf("defaults lost: %+v %+v", cfg.Stream, cfg.Server)
	}
	if cfg.Source.Path != "meshes/part.mesh.zst" || cfg.Source.Watch != 0 {
		t.Errorf("source: %+v", cfg.Source)
	}
	if cfg.Index.Backend != IndexHTTP || cfg.Index.Endpoint == "" {
		t.Errorf("index: %+v", cfg.Index)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "logs/meshstream.log" {
		t.Errorf("logging: %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_EmptyPathAndEmptyFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil || cfg.Server.Addr != Default().Server.Addr {
		t.Fatalf("Load(\"\"): %+v %v", cfg, err)
	}
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "typo.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  chunk_byte: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr"},
		{"zero queue", func(c *Config) { c.Server.Queue = 0 }, "server.queue"},
		{"zero bucket", func(c *Config) { c.Stream.BucketSize = 0 }, "bucket_size"},
		{"zero budget", func(c *Config) { c.Stream.ChunkBytes = 0 }, "chunk_bytes"},
		{"negative delay", func(c *Config) { c.Stream.Delay = -time.Second }, "stream.delay"},
		{"no source", func(c *Config) { c.Source.Path, c.Source.Shape = "", "" }, "path or a shape"},
		{"sqlite without path", func(c *Config) { c.Index.Path = "" }, "index.path"},
		{"http without endpoint", func(c *Config) { c.Index.Backend = IndexHTTP }, "index.endpoint"},
		{"unknown backend", func(c *Config) { c.Index.Backend = "d1" }, "index.backend"},
		{"redis without channel", func(c *Config) { c.Redis.Addr, c.Redis.Channel = "localhost:6379", "" }, "redis.channel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate: got %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	fs := flag.NewFlagSet("meshstream", flag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse([]string{"-addr", ":7000", "-shape", "sphere", "-delay", "0s", "-index", "none", "-debug"}); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Source.Path = "from-file.mesh.zst"
	f.Apply(cfg)
	if cfg.Server.Addr != ":7000" || cfg.Source.Shape != "sphere" || cfg.Source.Path != "" {
		t.Errorf("overrides: %+v %+v", cfg.Server, cfg.Source)
	}
	if cfg.Stream.Delay != 0 || cfg.Index.Backend != IndexNone || cfg.Logging.Level != "debug" {
		t.Errorf("overrides: %+v %+v %+v", cfg.Stream, cfg.Index, cfg.Logging)
	}

	// Unset flags leave the config alone.
	fs = flag.NewFlagSet("meshstream", flag.ContinueOnError)
	f = RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg = Default()
	f.Apply(cfg)
	if *cfg != *Default() {
		t.Errorf("no-op apply changed config: %+v", cfg)
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "meshstream.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("sample config drifted from defaults:\n got %+v\nwant %+v", cfg, Default())
	}
}
