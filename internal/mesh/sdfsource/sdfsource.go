// Package sdfsource generates meshes from signed distance functions. A
// Source is a mesh.Pipeline: the surface is tessellated on Update.
package sdfsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"meshstream.dev/internal/mesh"
)

const DefaultCells = 64

// Shapes lists the names accepted by New.
var Shapes = []string{"box", "sphere", "cylinder", "bracket"}

type Options struct {
	Shape string
	// Size is the overall extent of the shape.
	Size float64
	// Cells is the marching cubes resolution along the longest axis.
	Cells int
}

type Source struct {
	shape sdf.SDF3

	mu    sync.Mutex
	cells int
	dirty bool
	out   *mesh.PolyData
}

var _ mesh.Pipeline = (*Source)(nil)

func New(opts Options) (*Source, error) {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Cells <= 0 {
		opts.Cells = DefaultCells
	}
	s, err := build(opts.Shape, opts.Size)
	if err != nil {
		return nil, err
	}
	return &Source{shape: s, cells: opts.Cells, dirty: true}, nil
}

func build(shape string, size float64) (sdf.SDF3, error) {
	switch shape {
	case "box":
		return sdf.Box3D(v3.Vec{X: size, Y: size, Z: size}, 0)
	case "sphere":
		return sdf.Sphere3D(size / 2)
	case "cylinder":
		return sdf.Cylinder3D(size, size/4, 0)
	case "bracket":
		plate, err := sdf.Box3D(v3.Vec{X: size, Y: size / 2, Z: size / 8}, size/32)
		if err != nil {
			return nil, err
		}
		hole, err := sdf.Cylinder3D(size/4, size/8, 0)
		if err != nil {
			return nil, err
		}
		left := sdf.Transform3D(hole, sdf.Translate3d(v3.Vec{X: -size / 4}))
		right := sdf.Transform3D(hole, sdf.Translate3d(v3.Vec{X: size / 4}))
		return sdf.Difference3D(plate, sdf.Union3D(left, right)), nil
	default:
		return nil, fmt.Errorf("sdfsource: unknown shape %q (want one of %v)", shape, Shapes)
	}
}

// Update tessellates the surface on its first call and is a no-op after. Marching cubes itself cannot be interrupted.
func (s *Source) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	tris := render.ToTriangles(s.shape, render.NewMarchingCubesUniform(s.cells))

	// Keyed at output precision so vertices shared by neighbouring cubes merge.
	index := make(map[[3]float32]uint32, len(tris))
	xyz := make([]float32, 0, len(tris)*3)
	polys := make(mesh.CellArray, 0, len(tris)*4)
	for _, tri := range tris {
		polys = append(polys, 3)
		for j := 0; j < 3; j++ {
			v := tri[j]
			key := [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
			id, ok := index[key]
			if !ok {
				id = uint32(len(xyz) / 3)
				index[key] = id
				xyz = append(xyz, key[:]...)
			}
			polys = append(polys, id)
		}
	}
	s.out = &mesh.PolyData{Points: mesh.NewPoints32(xyz), Polys: polys}
	s.dirty = false
	return nil
}

// Output returns the last tessellation, or nil before the first Update.
func (s *Source) Output() *mesh.PolyData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}
