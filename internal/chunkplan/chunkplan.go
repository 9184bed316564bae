// Package chunkplan sizes the point and polygon slices carried by each
// chunk so that a chunk pair stays within one byte budget.
package chunkplan

import (
	"errors"
	"fmt"
)

// PolyEntryBytes is the width of one polygon-connectivity entry.
const PolyEntryBytes = 4

var (
	ErrInvalidInput   = errors.New("chunkplan: invalid input")
	ErrInvalidWidth   = errors.New("chunkplan: point width must be 4 or 8 bytes")
	ErrBudgetTooSmall = errors.New("chunkplan: byte budget too small")
)

// Plan is the per-chunk capacity for one streaming operation.
type Plan struct {
	MaxPoints int
	MaxPolys  int
}

// Compute splits byteBudget between points and polygon entries in
// proportion to the total bytes of each array.
//
// With no polygon entries the whole budget goes to points and MaxPolys is
// the sentinel 1. When both totals are equal the polygon-heavy branch is
// used. A plan that would make no progress on a non-empty array is
// rejected with ErrBudgetTooSmall.
//
// With polygon entries but no points, no chunk is ever sent and every entry
// travels with connectivity. A validated mesh only gets there when all its
// polygons are empty cells, since any index into zero points is invalid.
func Compute(pointCount, pointByteWidth, polyEntryCount, byteBudget int) (Plan, error) {
	if pointByteWidth != 4 && pointByteWidth != 8 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidWidth, pointByteWidth)
	}
	if pointCount < 0 || polyEntryCount < 0 || byteBudget <= 0 {
		return Plan{}, fmt.Errorf("%w: points=%d polys=%d budget=%d", ErrInvalidInput, pointCount, polyEntryCount, byteBudget)
	}

	bytesPerPoint := pointByteWidth * 3
	var p Plan

	switch {
	case polyEntryCount == 0:
		p.MaxPoints = byteBudget / bytesPerPoint
		p.MaxPolys = 1
	case pointCount == 0:
		// Nothing drives the chunk loop; polygons go out with connectivity.
		p.MaxPolys = byteBudget / PolyEntryBytes
	default:
		pointBytes := float64(pointCount * bytesPerPoint)
		polyBytes := float64(polyEntryCount * PolyEntryBytes)
		if polyBytes >= pointBytes {
			ratio := polyBytes / pointBytes
			unit := float64(bytesPerPoint) + ratio*PolyEntryBytes
			p.MaxPoints = int(float64(byteBudget) / unit)
			p.MaxPolys = int(ratio * float64(p.MaxPoints))
		} else {
			ratio := pointBytes / polyBytes
			unit := ratio*float64(bytesPerPoint) + PolyEntryBytes
			p.MaxPolys = int(float64(byteBudget) / unit)
			p.MaxPoints = int(ratio * float64(p.MaxPolys))
		}
	}

	if pointCount > 0 && p.MaxPoints == 0 {
		return p, fmt.Errorf("%w: budget %d cannot hold one point (%d bytes)", ErrBudgetTooSmall, byteBudget, bytesPerPoint)
	}
	if polyEntryCount > 0 && p.MaxPolys == 0 {
		return p, fmt.Errorf("%w: budget %d leaves no room for polygon entries", ErrBudgetTooSmall, byteBudget)
	}
	return p, nil
}

// ChunkBytes is the payload size of a chunk carrying the given counts.
func ChunkBytes(points, polys, pointByteWidth int) int {
	return points*pointByteWidth*3 + polys*PolyEntryBytes
}
