// Package summary turns a mesh into the coarse voxel preview sent ahead of
// the geometry.
package summary

import (
	"context"
	"errors"
	"fmt"

	"meshstream.dev/internal/mesh"
)

var (
	ErrInvalidPartitionCount = errors.New("summary: expected exactly one partition")
	ErrInvalidBucketSize     = errors.New("summary: bucket size must be positive")
)

// Grid is a uniform voxel grid. Dimensions are point dimensions, so the grid
// has Dimensions[i]-1 cells along axis i. Cells holds one value per cell in
// x-fastest order.
type Grid struct {
	Dimensions [3]int
	Origin     [3]float64
	Spacing    float64
	Cells      []uint8
}

// NumCells is the product of the per-axis cell counts.
func (g Grid) NumCells() int {
	n := 1
	for _, d := range g.Dimensions {
		if d < 2 {
			return 0
		}
		n *= d - 1
	}
	return n
}

// Partitioned is what a spatial-partition builder produces.
type Partitioned struct {
	Partitions []Grid
}

// Builder partitions a dataset so that, on average, pointsPerCell points
// share a cell.
type Builder interface {
	Build(ctx context.Context, pd *mesh.PolyData, pointsPerCell int) (Partitioned, error)
}

type BuilderFunc func(ctx context.Context, pd *mesh.PolyData, pointsPerCell int) (Partitioned, error)

func (f BuilderFunc) Build(ctx context.Context, pd *mesh.PolyData, pointsPerCell int) (Partitioned, error) {
	return f(ctx, pd, pointsPerCell)
}

// Adapter wraps a Builder and enforces the single-partition result the
// preview needs.
type Adapter struct {
	builder    Builder
	bucketSize int
}

func NewAdapter(b Builder, bucketSize int) (*Adapter, error) {
	if b == nil {
		return nil, errors.New("summary: nil builder")
	}
	if bucketSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucketSize, bucketSize)
	}
	return &Adapter{builder: b, bucketSize: bucketSize}, nil
}


// Summarize builds the grid for pd. Any partition count other than one is
// reported as ErrInvalidPartitionCount.
func (a *Adapter) Summarize(ctx context.Context, pd *mesh.PolyData) (Grid, error) {
	out, err := a.builder.Build(ctx, pd, a.bucketSize)
	if err != nil {
		return Grid{}, fmt.Errorf("build summary: %w", err)
	}
	if n := len(out.Partitions); n != 1 {
		return Grid{}, fmt.Errorf("%w: got %d", ErrInvalidPartitionCount, n)
	}
	g := out.Partitions[0]
	if want := g.NumCells(); want != len(g.Cells) {
		return Grid{}, fmt.Errorf("summary: grid %v has %d cells, values for %d", g.Dimensions, want, len(g.Cells))
	}
	return g, nil
}
