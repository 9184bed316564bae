// Package mesh holds the polygonal dataset streamed to consumers: a point
// array plus four run-length connectivity arrays.
package mesh

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidMesh = errors.New("mesh: invalid mesh")

// Bounds is an axis-aligned box: xmin, xmax, ymin, ymax, zmin, zmax.
type Bounds [6]float64

// EmptyBounds is returned for datasets without points.
var EmptyBounds = Bounds{1, -1, 1, -1, 1, -1}

// PolyData is the geometry of one mesh version. Streaming never mutates it.
type PolyData struct {
	Points Points
	Verts  CellArray
	Lines  CellArray
	Polys  CellArray
	Strips CellArray
}

func (pd *PolyData) NumberOfPoints() int {
	if pd == nil {
		return 0
	}
	return pd.Points.Len()
}

func (pd *PolyData) Bounds() Bounds {
	if pd == nil || pd.Points.Len() == 0 {
		return EmptyBounds
	}
	b := Bounds{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}
	for i := 0; i < pd.Points.Len(); i++ {
		p := pd.Points.At(i)
		for axis := 0; axis < 3; axis++ {
			b[2*axis] = math.Min(b[2*axis], p[axis])
			b[2*axis+1] = math.Max(b[2*axis+1], p[axis])
		}
	}
	return b
}

// Validate checks the point array shape and all connectivity arrays.
func (pd *PolyData) Validate() error {
	if pd == nil {
		return fmt.Errorf("%w: nil dataset", ErrInvalidMesh)
	}
	if pd.Points.Type.Size() == 0 {
		return fmt.Errorf("%w: unknown point type %d", ErrInvalidMesh, pd.Points.Type)
	}
	if pd.Points.components()%3 != 0 {
		return fmt.Errorf("%w: %d coordinates is not a multiple of 3", ErrInvalidMesh, pd.Points.components())
	}
	n := pd.Points.Len()
	for _, c := range []struct {
		name string
		arr  CellArray
	}{
		{"verts", pd.Verts},
		{"lines", pd.Lines},
		{"polys", pd.Polys},
		{"strips", pd.Strips},
	} {
		if err := c.arr.Validate(n); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
