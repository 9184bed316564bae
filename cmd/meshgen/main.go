package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshstream.dev/internal/logger"
	"meshstream.dev/internal/mesh/sdfsource"
	"meshstream.dev/internal/persistence/meshfile"
)

func main() {
	var (
		shape = flag.String("shape", "bracket", "shape: "+strings.Join(sdfsource.Shapes, "|"))
		size  = flag.Float64("size", 100, "overall shape extent")
		cells = flag.Int("cells", sdfsource.DefaultCells, "marching cubes cells along the longest axis")
		out   = flag.String("out", "data/meshes/bracket.mesh.zst", "output path")
		level = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logger.New(*level, logger.FileConfig{})
	defer func() { _ = log.Sync() }()

	src, err := sdfsource.New(sdfsource.Options{Shape: *shape, Size: *size, Cells: *cells})
	if err != nil {
		log.Fatal("source", zap.Error(err))
	}
	start := time.Now()
	if err := src.Update(context.Background()); err != nil {
		log.Fatal("tessellate", zap.Error(err))
	}
	pd := src.Output()
	log.Info("tessellated",
		zap.String("shape", *shape),
		zap.Int("points", pd.NumberOfPoints()),
		zap.Int("triangles", pd.Polys.Cells()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := meshfile.Write(*out, pd); err != nil {
		log.Fatal("write", zap.String("path", *out), zap.Error(err))
	}
	h, err := meshfile.ReadHeader(*out)
	if err != nil {
		log.Fatal("read back", zap.Error(err))
	}
	log.Info("wrote mesh", zap.String("path", *out), zap.Float64s("bounds", h.Bounds[:]))
}
