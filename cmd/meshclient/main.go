package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"meshstream.dev/internal/logger"
	"meshstream.dev/internal/meshclient"
	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/persistence/meshfile"
	"meshstream.dev/internal/transport/api"
	"meshstream.dev/internal/transport/redisbus"
	"meshstream.dev/internal/transport/ws"
)

func main() {
	var (
		url       = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "ws url")
		meshID    = flag.String("mesh", "", "mesh id to subscribe to (empty: all)")
		encoding  = flag.String("encoding", meshproto.EncodingZstd, "attachment encoding: raw|zstd")
		out       = flag.String("out", "", "write each completed mesh to this .mesh.zst path")
		once      = flag.Bool("once", true, "exit after the first completed mesh")
		redisAddr = flag.String("redis", "", "read frames from this redis instead of the ws url")
		apiURL    = flag.String("api", "", "in redis mode, server http base url to request a restream from")
		channel   = flag.String("channel", meshproto.Topic, "redis channel")
		level     = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logger.New(*level, logger.FileConfig{})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		frames <-chan meshproto.Frame
		err    error
	)
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		frames, err = redisFrames(ctx, rdb, *channel, *meshID, log)
		if err == nil && *apiURL != "" {
			err = requestRefresh(ctx, http.DefaultClient, *apiURL, *meshID)
		}
	} else {
		frames, err = wsFrames(ctx, *url, *meshID, *encoding, log)
	}
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}

	if err := consume(ctx, frames, *out, *once, log); err != nil {
		log.Fatal("stream", zap.Error(err))
	}
}

// wsFrames subscribes over websocket. The server restreams on subscribe.
func wsFrames(ctx context.Context, url, meshID, encoding string, log *zap.Logger) (<-chan meshproto.Frame, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := ws.Dial(dialCtx, url, meshID, encoding)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Info("subscribed", zap.String("url", url), zap.String("mesh_id", meshID), zap.String("encoding", encoding))

	ch := make(chan meshproto.Frame, 16)
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	go func() {
		defer close(ch)
		for {
			f, err := c.ReadFrame()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("read frame", zap.Error(err))
				}
				return
			}
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func redisFrames(ctx context.Context, rdb *redis.Client, channel, meshID string, log *zap.Logger) (<-chan meshproto.Frame, error) {
	in, err := redisbus.Subscribe(ctx, rdb, channel, log)
	if err != nil {
		return nil, err
	}
	if meshID == "" {
		return in, nil
	}
	ch := make(chan meshproto.Frame, 16)
	go func() {
		defer close(ch)
		for f := range in {
			if f.Message.Mesh() != meshID {
				continue
			}
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// requestRefresh asks the server at base to restream meshID, or every mesh it
// lists when meshID is empty. The refresh route only accepts loopback callers.
func requestRefresh(ctx context.Context, hc *http.Client, base, meshID string) error {
	base = strings.TrimRight(base, "/")
	ids := []string{meshID}
	if meshID == "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/meshes", nil)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("list meshes: %s", resp.Status)
		}
		var list api.MeshesResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return fmt.Errorf("list meshes: %w", err)
		}
		ids = ids[:0]
		for _, m := range list.Meshes {
			ids = append(ids, m.MeshID)
		}
	}
	for _, id := range ids {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/meshes/"+url.PathEscape(id)+"/refresh", nil)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("refresh %s: %s", id, resp.Status)
		}
	}
	return nil
}

// consume assembles one stream per mesh id and reports progress.
func consume(ctx context.Context, frames <-chan meshproto.Frame, out string, once bool, log *zap.Logger) error {
	asm := map[string]*meshclient.Assembler{}
	started := map[string]time.Time{}
	for {
		var f meshproto.Frame
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case f, ok = <-frames:
		}
		if !ok {
			return errors.New("connection closed")
		}
		id := f.Message.Mesh()
		a := asm[id]
		if a == nil {
			a = meshclient.NewAssembler()
			asm[id] = a
		}
		if f.Message.Kind() == meshproto.TypeMetadata {
			started[id] = time.Now()
		}

		done, err := a.Apply(f)
		if err != nil {
			log.Warn("apply", zap.String("mesh_id", id), zap.String("type", f.Message.Kind()), zap.Error(err))
			continue
		}
		switch f.Message.Kind() {
		case meshproto.TypeOctree:
			g := a.Preview()
			log.Info("preview", zap.String("mesh_id", id), zap.Ints("dimensions", g.Dimensions[:]), zap.Float64("spacing", g.Spacing))
		case meshproto.TypeChunk:
			recv, total := a.Progress()
			log.Debug("chunk", zap.String("mesh_id", id), zap.Int("points", recv), zap.Int("of", total))
		}
		if !done {
			continue
		}

		pd := a.Mesh()
		log.Info("mesh complete",
			zap.String("mesh_id", id),
			zap.Int("points", pd.NumberOfPoints()),
			zap.Int("polys", pd.Polys.Cells()),
			zap.Int("chunks", a.Chunks()),
			zap.Duration("elapsed", time.Since(started[id])),
		)
		if out != "" {
			if err := meshfile.Write(out, pd); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			log.Info("wrote mesh", zap.String("path", out))
		}
		if once {
			return nil
		}
	}
}
