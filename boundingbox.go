// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import "math"

// boundingBox is an axis-aligned hyperrectangle, represented flat as
// [min_0..min_{d-1}, max_0..max_{d-1}]. insertPointCut and the traversal
// visitors all read this same flat layout directly rather than a
// struct-of-slices, avoiding an extra allocation per box on the hot path.
type boundingBox struct {
	dim int
	b   []float64 // length 2*dim
}

func newEmptyBox(dim int) boundingBox {
	b := make([]float64, 2*dim)
	for i := 0; i < dim; i++ {
		b[i] = math.Inf(1)
		b[dim+i] = math.Inf(-1)
	}
	return boundingBox{dim: dim, b: b}
}

func newBoxFromPoint(point []float64) boundingBox {
	dim := len(point)
	b := make([]float64, 2*dim)
	copy(b[:dim], point)
	copy(b[dim:], point)
	return boundingBox{dim: dim, b: b}
}

func (box boundingBox) min(i int) float64 { return box.b[i] }
func (box boundingBox) max(i int) float64 { return box.b[box.dim+i] }

// rangeSum is Σ (max_i - min_i) over all coordinates.
func (box boundingBox) rangeSum() float64 {
	sum := 0.0
	for i := 0; i < box.dim; i++ {
		sum += box.max(i) - box.min(i)
	}
	return sum
}

// contains reports whether point lies within the box on every axis.
func (box boundingBox) contains(point []float64) bool {
	for i := 0; i < box.dim; i++ {
		if point[i] < box.min(i) || point[i] > box.max(i) {
			return false
		}
	}
	return true
}

// merge returns the elementwise-min/max union of box and other.
func (box boundingBox) merge(other boundingBox) boundingBox {
	out := boundingBox{dim: box.dim, b: make([]float64, 2*box.dim)}
	for i := 0; i < box.dim; i++ {
		out.b[i] = math.Min(box.min(i), other.min(i))
		out.b[box.dim+i] = math.Max(box.max(i), other.max(i))
	}
	return out
}

// mergeInPlace absorbs other into box without allocating.
func (box *boundingBox) mergeInPlace(other boundingBox) {
	for i := 0; i < box.dim; i++ {
		if other.min(i) < box.min(i) {
			box.b[i] = other.min(i)
		}
		if other.max(i) > box.max(i) {
			box.b[box.dim+i] = other.max(i)
		}
	}
}

// mergePoint returns box ∪ {point}, without mutating box.
func (box boundingBox) mergePoint(point []float64) boundingBox {
	out := boundingBox{dim: box.dim, b: make([]float64, 2*box.dim)}
	for i := 0; i < box.dim; i++ {
		out.b[i] = math.Min(box.min(i), point[i])
		out.b[box.dim+i] = math.Max(box.max(i), point[i])
	}
	return out
}

// probabilityOfCut computes, given the box *after* absorbing point
// (boxAfter), the probability that a newly introduced random cut
// separates point from the box it was merged into:
//
//	Σ max(0, point_i - max_i) + max(0, min_i - point_i)  [against the
//	    box *before* absorption]
//	----------------------------------------------------
//	rangeSum(boxAfter)
//
// This is the score-visitor's per-node weighting function.
func probabilityOfCut(before boundingBox, point []float64) float64 {
	after := before.mergePoint(point)
	denom := after.rangeSum()
	if denom == 0 {
		return 0
	}
	num := 0.0
	for i := 0; i < before.dim; i++ {
		if point[i] > before.max(i) {
			num += point[i] - before.max(i)
		}
		if point[i] < before.min(i) {
			num += before.min(i) - point[i]
		}
	}
	return num / denom
}

// clone returns an independent copy of box.
func (box boundingBox) clone() boundingBox {
	b := make([]float64, len(box.b))
	copy(b, box.b)
	return boundingBox{dim: box.dim, b: b}
}
