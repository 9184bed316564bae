package mesh

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ScalarType is the element type of a point coordinate array.
type ScalarType int

const (
	Float32 ScalarType = iota + 1
	Float64
)

// Size returns the element width in bytes.
func (t ScalarType) Size() int {
	switch t {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// ArrayType is the typed-array name consumers allocate for chunk payloads.
func (t ScalarType) ArrayType() string {
	if t == Float64 {
		return "Float64Array"
	}
	return "Float32Array"
}

// ClassName is the data-array class name announced in metadata.
func (t ScalarType) ClassName() string {
	switch t {
	case Float32:
		return "vtkFloatArray"
	case Float64:
		return "vtkDoubleArray"
	default:
		return ""
	}
}

// ScalarTypeFromClassName is the inverse of ClassName.
func ScalarTypeFromClassName(name string) (ScalarType, bool) {
	switch name {
	case "vtkFloatArray":
		return Float32, true
	case "vtkDoubleArray":
		return Float64, true
	default:
		return 0, false
	}
}

// Points holds xyz coordinates, three components per point. Exactly one of
// F32/F64 is used, selected by Type.
type Points struct {
	Type ScalarType
	F32  []float32
	F64  []float64
}

func NewPoints32(xyz []float32) Points { return Points{Type: Float32, F32: xyz} }
func NewPoints64(xyz []float64) Points { return Points{Type: Float64, F64: xyz} }

// Len returns the number of points (tuples).
func (p Points) Len() int {
	if p.Type == Float64 {
		return len(p.F64) / 3
	}
	return len(p.F32) / 3
}

func (p Points) components() int {
	if p.Type == Float64 {
		return len(p.F64)
	}
	return len(p.F32)
}

// At returns point i as float64 regardless of storage width.
func (p Points) At(i int) [3]float64 {
	if p.Type == Float64 {
		return [3]float64{p.F64[3*i], p.F64[3*i+1], p.F64[3*i+2]}
	}
	return [3]float64{float64(p.F32[3*i]), float64(p.F32[3*i+1]), float64(p.F32[3*i+2])}
}

// Slice copies n points starting at point start into a fresh buffer of the
// same width. The range is clamped to the array.
func (p Points) Slice(start, n int) Points {
	total := p.Len()
	start, end := clampRange(start, n, total)
	out := Points{Type: p.Type}
	if p.Type == Float64 {
		out.F64 = make([]float64, (end-start)*3)
		copy(out.F64, p.F64[start*3:end*3])
		return out
	}
	out.F32 = make([]float32, (end-start)*3)
	copy(out.F32, p.F32[start*3:end*3])
	return out
}

// Bytes returns the little-endian encoding of the coordinates.
func (p Points) Bytes() []byte {
	if p.Type == Float64 {
		b := make([]byte, len(p.F64)*8)
		for i, v := range p.F64 {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}
	b := make([]byte, len(p.F32)*4)
	for i, v := range p.F32 {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// PointsFromBytes decodes a little-endian coordinate buffer.
func PointsFromBytes(t ScalarType, b []byte) (Points, error) {
	w := t.Size()
	if w == 0 {
		return Points{}, fmt.Errorf("%w: unknown scalar type %d", ErrInvalidMesh, t)
	}
	if len(b)%(w*3) != 0 {
		return Points{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte points", ErrInvalidMesh, len(b), w*3)
	}
	n := len(b) / w
	if t == Float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return NewPoints64(out), nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return NewPoints32(out), nil
}

// Append returns p with q's coordinates appended. Both must share a type.
func (p Points) Append(q Points) Points {
	if p.Type == 0 {
		p.Type = q.Type
	}
	if p.Type == Float64 {
		p.F64 = append(p.F64, q.F64...)
	} else {
		p.F32 = append(p.F32, q.F32...)
	}
	return p
}

// CellArray is flat "count, index, index, ..." connectivity.
type CellArray []uint32

// Slice copies n entries starting at start into a fresh array.
func (c CellArray) Slice(start, n int) CellArray {
	start, end := clampRange(start, n, len(c))
	out := make(CellArray, end-start)
	copy(out, c[start:end])
	return out
}

// Bytes returns the little-endian encoding of the entries.
func (c CellArray) Bytes() []byte {
	b := make([]byte, len(c)*4)
	for i, v := range c {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

func CellArrayFromBytes(b []byte) (CellArray, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of uint32 entries", ErrInvalidMesh, len(b))
	}
	out := make(CellArray, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

// Cells counts the cells encoded in the array.
func (c CellArray) Cells() int {
	n := 0
	for i := 0; i < len(c); i += int(c[i]) + 1 {
		n++
	}
	return n
}

// Validate checks that every run fits the array and indexes an existing point.
func (c CellArray) Validate(numPoints int) error {
	for i := 0; i < len(c); {
		size := int(c[i])
		if i+1+size > len(c) {
			return fmt.Errorf("%w: cell at entry %d overruns array (size %d, len %d)", ErrInvalidMesh, i, size, len(c))
		}
		for _, idx := range c[i+1 : i+1+size] {
			if int(idx) >= numPoints {
				return fmt.Errorf("%w: cell at entry %d references point %d of %d", ErrInvalidMesh, i, idx, numPoints)
			}
		}
		i += size + 1
	}
	return nil
}

func clampRange(start, n, total int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + n
	if n < 0 || end > total {
		end = total
	}
	return start, end
}
