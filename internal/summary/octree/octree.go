// Package octree is the default summary builder: a uniform voxel grid whose
// cells carry an octant occupancy mask.
package octree

import (
	"context"
	"math"

	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/summary"
)

const DefaultMaxCellsPerAxis = 128

// ctx is polled every checkEvery points.
const checkEvery = 1 << 16

// Builder sizes the grid so that on average pointsPerCell points land in a
// cell. Each cell value has bit xi+2*yi+4*zi set when the matching octant of
// the cell holds at least one point.
type Builder struct {
	MaxCellsPerAxis int
}

func New() *Builder { return &Builder{MaxCellsPerAxis: DefaultMaxCellsPerAxis} }

func (b *Builder) Build(ctx context.Context, pd *mesh.PolyData, pointsPerCell int) (summary.Partitioned, error) {
	g, err := b.grid(ctx, pd, pointsPerCell)
	if err != nil {
		return summary.Partitioned{}, err
	}
	return summary.Partitioned{Partitions: []summary.Grid{g}}, nil
}

func (b *Builder) grid(ctx context.Context, pd *mesh.PolyData, pointsPerCell int) (summary.Grid, error) {
	n := pd.NumberOfPoints()
	if n == 0 {
		return summary.Grid{Dimensions: [3]int{1, 1, 1}, Spacing: 1}, nil
	}
	if pointsPerCell <= 0 {
		pointsPerCell = 1
	}
	maxCells := b.MaxCellsPerAxis
	if maxCells <= 0 {
		maxCells = DefaultMaxCellsPerAxis
	}

	bounds := pd.Bounds()
	var origin, extent [3]float64
	volume, axes, maxExtent := 1.0, 0, 0.0
	for i := 0; i < 3; i++ {
		origin[i] = bounds[2*i]
		extent[i] = bounds[2*i+1] - bounds[2*i]
		if extent[i] > 0 {
			volume *= extent[i]
			axes++
			maxExtent = math.Max(maxExtent, extent[i])
		}
	}

	spacing := 1.0
	if axes > 0 {
		target := math.Ceil(float64(n) / float64(pointsPerCell))
		spacing = math.Pow(volume/target, 1/float64(axes))
		spacing = math.Max(spacing, maxExtent/float64(maxCells))
	}

	var cells [3]int
	for i := 0; i < 3; i++ {
		c := int(math.Ceil(extent[i]/spacing - 1e-9))
		cells[i] = min(max(c, 1), maxCells)
	}

	g := summary.Grid{
		Dimensions: [3]int{cells[0] + 1, cells[1] + 1, cells[2] + 1},
		Origin:     origin,
		Spacing:    spacing,
		Cells:      make([]uint8, cells[0]*cells[1]*cells[2]),
	}
	for p := 0; p < n; p++ {
		if p%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return summary.Grid{}, err
			}
		}
		xyz := pd.Points.At(p)
		var idx [3]int
		var bit uint8
		for i := 0; i < 3; i++ {
			f := (xyz[i] - origin[i]) / spacing
			c := min(max(int(math.Floor(f)), 0), cells[i]-1)
			idx[i] = c
			if f-float64(c) >= 0.5 {
				bit |= 1 << i
			}
		}
		g.Cells[idx[0]+cells[0]*(idx[1]+cells[1]*idx[2])] |= 1 << bit
	}
	return g, nil
}
