package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"meshstream.dev/internal/config"
	"meshstream.dev/internal/logger"
	"meshstream.dev/internal/mesh"
	persistlog "meshstream.dev/internal/persistence/log"
	"meshstream.dev/internal/stream"
	"meshstream.dev/internal/summary"
	"meshstream.dev/internal/summary/octree"
	"meshstream.dev/internal/transport/api"
	"meshstream.dev/internal/transport/hub"
	"meshstream.dev/internal/transport/redisbus"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(flags.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshstream: %v\n", err)
		os.Exit(2)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "meshstream: invalid config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.Logging.Level, logger.FileConfig{
		Path:       cfg.Logging.LogFile,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("meshstream stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	var events stream.MultiEventLogger
	idx, err := openIndex(cfg.Index, log.Named("index"))
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		events = append(events, idx)
	}
	if cfg.Record.Dir != "" {
		rec := persistlog.NewEventLog(cfg.Record.Dir)
		defer rec.Close()
		events = append(events, rec)
	}

	h := hub.New(log.Named("hub"), cfg.Server.Queue)
	defer h.Close()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		h.AddSink(redisbus.NewPublisher(rdb, cfg.Redis.Channel, log.Named("redis")))
		log.Info("mirroring frames to redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	adapter, err := summary.NewAdapter(&octree.Builder{MaxCellsPerAxis: cfg.Stream.MaxCellsPerAxis}, cfg.Stream.BucketSize)
	if err != nil {
		return err
	}
	deps := stream.Deps{
		Emitter:    h,
		Summarizer: adapter,
		Logger:     log.Named("stream"),
	}
	if len(events) > 0 {
		deps.Events = events
	}

	reg := stream.NewRegistry()
	defer reg.Close()
	st := stream.NewStreamer(cfg.Source.ID, deps, stream.Config{
		ChunkBytes: cfg.Stream.ChunkBytes,
		Delay:      cfg.Stream.Delay,
	})
	reg.Add(st)

	src, err := openSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if err := st.Update(ctx, mesh.FromPipeline(src.pipeline), nil); err != nil {
		return fmt.Errorf("initial stream: %w", err)
	}
	log.Info("serving mesh", zap.String("mesh_id", st.ID()), zap.String("source", src.name))
	if src.loader != nil && cfg.Source.Watch > 0 {
		go watchSource(ctx, src.loader, st, cfg.Source.Watch, log.Named("source"))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(reg, h, sessionLister(idx), log.Named("api")).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.Info("listening", zap.String("addr", cfg.Server.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
