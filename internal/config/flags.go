package config

import (
	"flag"
	"time"
)

// Flags are command-line overrides applied on top of the loaded file.
type Flags struct {
	Config     string
	Addr       string
	SourcePath string
	Shape      string
	ChunkBytes int
	Delay      time.Duration
	Index      string
	RedisAddr  string
	LogLevel   string
	Debug      bool
}

// RegisterFlags binds the override flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "path to config file")
	fs.StringVar(&f.Addr, "addr", "", "listen address")
	fs.StringVar(&f.SourcePath, "mesh", "", "path to a .mesh.zst file to serve")
	fs.StringVar(&f.Shape, "shape", "", "SDF shape to serve when no mesh file is given")
	fs.IntVar(&f.ChunkBytes, "chunk-bytes", 0, "per-chunk byte budget")
	fs.DurationVar(&f.Delay, "delay", -1, "delay before each chunk")
	fs.StringVar(&f.Index, "index", "", "index backend: sqlite|http|none")
	fs.StringVar(&f.RedisAddr, "redis", "", "redis address for frame mirroring")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level")
	fs.BoolVar(&f.Debug, "debug", false, "enable debug logging")
	return f
}

// Apply copies every flag that was set onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if f.SourcePath != "" {
		cfg.Source.Path = f.SourcePath
	}
	if f.Shape != "" {
		cfg.Source.Shape = f.Shape
		if f.SourcePath == "" {
			cfg.Source.Path = ""
		}
	}
	if f.ChunkBytes > 0 {
		cfg.Stream.ChunkBytes = f.ChunkBytes
	}
	if f.Delay >= 0 {
		cfg.Stream.Delay = f.Delay
	}
	if f.Index != "" {
		cfg.Index.Backend = f.Index
	}
	if f.RedisAddr != "" {
		cfg.Redis.Addr = f.RedisAddr
	}
}
