// Package meshclient rebuilds a mesh from the messages of one stream.
package meshclient

import (
	"errors"
	"fmt"
	"math"

	"meshstream.dev/internal/mesh"
	"meshstream.dev/internal/meshproto"
	"meshstream.dev/internal/summary"
)

var (
	ErrOutOfOrder        = errors.New("meshclient: message out of order")
	ErrMissingAttachment = errors.New("meshclient: missing attachment")
	ErrOverflow          = errors.New("meshclient: more data than announced")
	ErrIncomplete        = errors.New("meshclient: stream ended early")
	ErrStreamFailed      = errors.New("meshclient: stream failed")
)

type phase int

const (
	waitMetadata phase = iota
	waitOctree
	receiving
	complete
)

// Assembler accumulates one stream. A metadata message always starts over,
// since it means the producer began a new session.
type Assembler struct {
	phase   phase
	meta    *meshproto.MetadataMsg
	preview summary.Grid
	ptype   mesh.ScalarType
	points  mesh.Points
	polys   mesh.CellArray
	chunks  int
	result  *mesh.PolyData
}

func NewAssembler() *Assembler { return &Assembler{} }

// Apply consumes one frame and reports whether the mesh is complete.
func (a *Assembler) Apply(f meshproto.Frame) (bool, error) {
	switch m := f.Message.(type) {
	case *meshproto.MetadataMsg:
		return false, a.start(m)
	case *meshproto.OctreeMsg:
		return false, a.octree(m, f)
	case *meshproto.ChunkMsg:
		return false, a.chunk(m, f)
	case *meshproto.ConnectivityMsg:
		if err := a.connectivity(m, f); err != nil {
			return false, err
		}
		return true, nil
	case *meshproto.ErrorMsg:
		if a.meta != nil && m.SessionID != a.meta.SessionID {
			return false, nil
		}
		a.phase = waitMetadata
		return false, fmt.Errorf("%w: %s: %s", ErrStreamFailed, m.Code, m.Message)
	default:
		return false, fmt.Errorf("%w: unexpected %T", ErrOutOfOrder, f.Message)
	}
}

func (a *Assembler) start(m *meshproto.MetadataMsg) error {
	t, ok := mesh.ScalarTypeFromClassName(m.PointsType)
	if !ok {
		return fmt.Errorf("meshclient: unknown points_type %q", m.PointsType)
	}
	*a = Assembler{
		phase:  waitOctree,
		meta:   m,
		ptype:  t,
		points: mesh.Points{Type: t},
	}
	return nil
}

func (a *Assembler) expect(p phase, kind, session string) error {
	if a.phase != p {
		return fmt.Errorf("%w: %s", ErrOutOfOrder, kind)
	}
	if session != a.meta.SessionID {
		return fmt.Errorf("%w: %s for session %q, assembling %q", ErrOutOfOrder, kind, session, a.meta.SessionID)
	}
	return nil
}

func (a *Assembler) octree(m *meshproto.OctreeMsg, f meshproto.Frame) error {
	if err := a.expect(waitOctree, m.Kind(), m.SessionID); err != nil {
		return err
	}
	cells, err := attachment(f, m.Octree)
	if err != nil {
		return err
	}
	a.preview = summary.Grid{Dimensions: m.Dimensions, Origin: m.Origin, Spacing: m.Spacing, Cells: append([]uint8(nil), cells...)}
	a.phase = receiving
	return nil
}

func (a *Assembler) chunk(m *meshproto.ChunkMsg, f meshproto.Frame) error {
	if err := a.expect(receiving, m.Kind(), m.SessionID); err != nil {
		return err
	}
	if m.ArrayType != a.ptype.ArrayType() {
		return fmt.Errorf("meshclient: chunk array_type %q, metadata announced %q", m.ArrayType, a.ptype.ArrayType())
	}
	b, err := attachment(f, m.XYZ)
	if err != nil {
		return err
	}
	pts, err := mesh.PointsFromBytes(a.ptype, b)
	if err != nil {
		return err
	}
	if a.points.Len()+pts.Len() > a.meta.Points {
		return fmt.Errorf("%w: %d points after chunk %d, announced %d", ErrOverflow, a.points.Len()+pts.Len(), a.chunks+1, a.meta.Points)
	}
	a.points = a.points.Append(pts)
	a.clearCovered(pts)
	if m.Polys != "" {
		if err := a.appendPolys(f, m.Polys); err != nil {
			return err
		}
	}
	a.chunks++
	return nil
}

// clearCovered zeroes the preview cells inside the bounding box of pts, so
// the preview only marks regions whose points have not arrived yet.
func (a *Assembler) clearCovered(pts mesh.Points) {
	g := &a.preview
	n := g.NumCells()
	if pts.Len() == 0 || g.Spacing <= 0 || n == 0 || len(g.Cells) != n {
		return
	}
	b := (&mesh.PolyData{Points: pts}).Bounds()
	var lo, hi [3]int
	for axis := 0; axis < 3; axis++ {
		last := g.Dimensions[axis] - 2
		lo[axis] = min(max(int(math.Floor((b[2*axis]-g.Origin[axis])/g.Spacing)), 0), last)
		hi[axis] = min(max(int(math.Ceil((b[2*axis+1]-g.Origin[axis])/g.Spacing)), 0), last)
	}
	cx, cy := g.Dimensions[0]-1, g.Dimensions[1]-1
	for k := lo[2]; k <= hi[2]; k++ {
		for j := lo[1]; j <= hi[1]; j++ {
			row := cx * (j + cy*k)
			for i := lo[0]; i <= hi[0]; i++ {
				g.Cells[i+row] = 0
			}
		}
	}
}

func (a *Assembler) appendPolys(f meshproto.Frame, ref string) error {
	b, err := attachment(f, ref)
	if err != nil {
		return err
	}
	c, err := mesh.CellArrayFromBytes(b)
	if err != nil {
		return err
	}
	if len(a.polys)+len(c) > a.meta.Polys {
		return fmt.Errorf("%w: %d polygon entries, announced %d", ErrOverflow, len(a.polys)+len(c), a.meta.Polys)
	}
	a.polys = append(a.polys, c...)
	return nil
}

func (a *Assembler) connectivity(m *meshproto.ConnectivityMsg, f meshproto.Frame) error {
	if err := a.expect(receiving, m.Kind(), m.SessionID); err != nil {
		return err
	}
	if a.points.Len() != a.meta.Points {
		return fmt.Errorf("%w: %d of %d points", ErrIncomplete, a.points.Len(), a.meta.Points)
	}
	if m.Polys != "" {
		if err := a.appendPolys(f, m.Polys); err != nil {
			return err
		}
	}
	if len(a.polys) != a.meta.Polys {
		return fmt.Errorf("%w: %d of %d polygon entries", ErrIncomplete, len(a.polys), a.meta.Polys)
	}
	pd := &mesh.PolyData{Points: a.points, Polys: a.polys}
	var err error
	if pd.Verts, err = cellAttachment(f, m.Verts); err != nil {
		return err
	}
	if pd.Lines, err = cellAttachment(f, m.Lines); err != nil {
		return err
	}
	if pd.Strips, err = cellAttachment(f, m.Strips); err != nil {
		return err
	}
	a.result = pd
	a.phase = complete
	return nil
}

func attachment(f meshproto.Frame, ref string) ([]byte, error) {
	b, ok := f.Attachment(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingAttachment, ref)
	}
	return b, nil
}

func cellAttachment(f meshproto.Frame, ref string) (mesh.CellArray, error) {
	b, err := attachment(f, ref)
	if err != nil {
		return nil, err
	}
	return mesh.CellArrayFromBytes(b)
}

// Mesh returns the rebuilt dataset once connectivity has been applied.
func (a *Assembler) Mesh() *mesh.PolyData {
	if a.phase != complete {
		return nil
	}
	return a.result
}

func (a *Assembler) Metadata() *meshproto.MetadataMsg { return a.meta }

// Preview returns the voxel summary of the current stream. Cells already
// covered by received chunks read as empty.
func (a *Assembler) Preview() summary.Grid { return a.preview }

// Progress returns received and announced point counts.
func (a *Assembler) Progress() (int, int) {
	if a.meta == nil {
		return 0, 0
	}
	return a.points.Len(), a.meta.Points
}

func (a *Assembler) Chunks() int { return a.chunks }
