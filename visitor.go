// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"math"
	"math/rand"
)

// visitor is the traversal-time capability invoked while walking a tree
// from the root to a leaf and back (spec §4.4 Traversal, §4.5's
// Visitor<R> contract). A tagged closed set of concrete visitor types is
// used instead of a deeper interface hierarchy;
// visitor itself stays minimal, and each concrete type exposes its own
// typed result after traverse returns.
type visitor interface {
	acceptLeaf(handle int, lf *leaf, depth int)
	accept(b *branch, box boundingBox, depth int)
	converged() bool
}

// traverse descends from the root guided by point, invokes v at the leaf
// it lands on, then ascends back to the root invoking v at every
// ancestor. Ascent uses an explicit stack built
// during descent rather than parent pointers, per spec §9's guidance
// against cyclic references in the tree.
func (t *rcTree) traverse(point []float64, v visitor) {
	if t.root == nil {
		return
	}
	var path []*branch
	var boxes []boundingBox
	node := t.root
	box := t.getBox(node)
	depth := 0
	for {
		br, ok := node.(*branch)
		if !ok {
			break
		}
		path = append(path, br)
		boxes = append(boxes, box)
		depth++
		if point[br.cutDim] <= br.cutVal {
			node = br.left
		} else {
			node = br.right
		}
		box = t.getBox(node)
	}
	lf := node.(*leaf)
	v.acceptLeaf(lf.handle(), lf, depth)
	for i := len(path) - 1; i >= 0; i-- {
		if v.converged() {
			return
		}
		v.accept(path[i], boxes[i], depth)
		depth--
	}
}

// log2 is the base-2 logarithm used throughout the scoring visitors.
func log2(x float64) float64 { return math.Log(x) / math.Ln2 }

// ascentTracker is the shared displacement-magnitude rule AnomalyScore
// and AnomalyAttribution both ascend the tree with: at ancestor b, it
// asks "if a new cut at this box had separated the query just now, how
// much of the sample would that have displaced?" - the probability of
// such a cut (probabilityOfCut) times the ancestor's full mass (b.mass),
// the mass the query would have been isolated from as an unattached
// singleton. This is the collusive-displacement idea behind tree.codisp
// (spec §9's disp/codisp diagnostics) evaluated probabilistically rather
// than for a point physically present in the tree. A point well
// contained within every ancestor's box keeps probabilityOfCut at zero
// throughout, so magnitude stays zero; a point separated from virtually
// every ancestor, including ones near the root whose mass approaches the
// tree's full sample size, drives magnitude up past log2(sampleSize) -
// the anomaly cutoff spec §4.5 fixes. Because b.mass >= 1 and
// probabilityOfCut ∈ [0,1], magnitude is always finite: there is no
// depth-based denominator left to divide by zero.
type ascentTracker struct{}

func (ascentTracker) observe(b *branch, box boundingBox, query []float64) (p, magnitude float64) {
	p = probabilityOfCut(box, query)
	if p > 0 {
		magnitude = p * float64(b.mass)
	}
	return p, magnitude
}

// anomalyScoreVisitor computes spec §4.5's AnomalyScore: the maximum,
// over every ancestor on the ascent, of the probability-weighted
// displacement magnitude ascentTracker.observe reports. A point well
// contained within the tree's existing bounding boxes keeps
// probabilityOfCut at (or near) zero the whole way up, so its score
// stays near zero; a point separated from nearly every ancestor,
// including ones near the root whose mass approaches the tree's full
// sample size, drives the magnitude up past the log2(sampleSize) cutoff
// (spec §8 scenario 1).
type anomalyScoreVisitor struct {
	queryHolder
	ascentTracker
	score float64
}

func newAnomalyScoreVisitor(query []float64) *anomalyScoreVisitor {
	v := &anomalyScoreVisitor{}
	v.queryForCut = query
	return v
}

func (v *anomalyScoreVisitor) acceptLeaf(handle int, lf *leaf, depth int) {}

func (v *anomalyScoreVisitor) accept(b *branch, box boundingBox, depth int) {
	_, magnitude := v.observe(b, box, v.queryForCut)
	if magnitude > v.score {
		v.score = magnitude
	}
}

func (v *anomalyScoreVisitor) converged() bool { return false }

func (v *anomalyScoreVisitor) result() float64 { return v.score }

// queryForCut is set before traversal since accept needs the original
// query point to evaluate probabilityOfCut against each ancestor's box;
// embedding it here keeps the visitor self-contained without threading an
// extra parameter through the traverse() signature.
//
// (every concrete visitor's constructor takes the query and stores it in
// this embedded field, so they all follow the same "new + traverse" shape)
type queryHolder struct {
	queryForCut []float64
}

// DiVector is a pair of length-d high/low vectors capturing per-coordinate
// directional anomaly contributions (spec Glossary, §4.5 AnomalyAttribution).
type DiVector struct {
	High []float64
	Low  []float64
}

func newDiVector(dim int) DiVector {
	return DiVector{High: make([]float64, dim), Low: make([]float64, dim)}
}

// Sum returns the scalar sum of every high/low component, a single-number
// summary of the attribution's total magnitude.
func (d DiVector) Sum() float64 {
	total := 0.0
	for i := range d.High {
		total += d.High[i] + d.Low[i]
	}
	return total
}

// add accumulates other into d componentwise, used when folding
// per-tree attributions across the forest.
func (d DiVector) add(other DiVector) DiVector {
	out := newDiVector(len(d.High))
	for i := range d.High {
		out.High[i] = d.High[i] + other.High[i]
		out.Low[i] = d.Low[i] + other.Low[i]
	}
	return out
}

func (d DiVector) scale(f float64) DiVector {
	out := newDiVector(len(d.High))
	for i := range d.High {
		out.High[i] = d.High[i] * f
		out.Low[i] = d.Low[i] * f
	}
	return out
}

// attributionVisitor computes spec §4.5's AnomalyAttribution: the same
// ascentTracker displacement magnitude anomalyScoreVisitor uses, routed
// into high[cutDim] or low[cutDim] depending on which side of the
// ancestor's box the query falls, rather than folded into one scalar.
type attributionVisitor struct {
	queryHolder
	ascentTracker
	dim  int
	attr DiVector
}

func newAttributionVisitor(dim int, query []float64) *attributionVisitor {
	v := &attributionVisitor{dim: dim, attr: newDiVector(dim)}
	v.queryForCut = query
	return v
}

func (v *attributionVisitor) acceptLeaf(handle int, lf *leaf, depth int) {}

func (v *attributionVisitor) accept(b *branch, box boundingBox, depth int) {
	_, magnitude := v.observe(b, box, v.queryForCut)
	if magnitude <= 0 {
		return
	}
	c := b.cutDim
	q := v.queryForCut[c]
	if q > box.max(c) {
		v.attr.High[c] += magnitude
	} else if q < box.min(c) {
		v.attr.Low[c] += magnitude
	}
}

func (v *attributionVisitor) converged() bool { return false }

func (v *attributionVisitor) result() DiVector { return v.attr }

// DensityOutput is spec §4.5's Density/SimpleDensity result: an
// interpolated density estimate plus directional high/low components
// describing which side of the query the mass was concentrated on.
type DensityOutput struct {
	Density float64
	High    []float64
	Low     []float64
}

func newDensityOutput(dim int) DensityOutput {
	return DensityOutput{High: make([]float64, dim), Low: make([]float64, dim)}
}

func (d DensityOutput) add(other DensityOutput) DensityOutput {
	out := newDensityOutput(len(d.High))
	out.Density = d.Density + other.Density
	for i := range d.High {
		out.High[i] = d.High[i] + other.High[i]
		out.Low[i] = d.Low[i] + other.Low[i]
	}
	return out
}

func (d DensityOutput) scale(f float64) DensityOutput {
	out := newDensityOutput(len(d.High))
	out.Density = d.Density * f
	for i := range d.High {
		out.High[i] = d.High[i] * f
		out.Low[i] = d.Low[i] * f
	}
	return out
}

// densityVisitor accumulates inverse-mass-over-depth contributions along
// the ascent, weighted by probability of cut, the same way
// anomalyScoreVisitor and attributionVisitor do, but reporting an
// interpolated density rather than an anomaly magnitude.
type densityVisitor struct {
	queryHolder
	dim      int
	leafMass int
	out      DensityOutput
}

func newDensityVisitor(dim int, query []float64) *densityVisitor {
	v := &densityVisitor{dim: dim, out: newDensityOutput(dim)}
	v.queryForCut = query
	return v
}

func (v *densityVisitor) acceptLeaf(handle int, lf *leaf, depth int) {
	v.leafMass = lf.leafCount()
	v.out.Density += float64(v.leafMass) / float64(depth+1)
}

func (v *densityVisitor) accept(b *branch, box boundingBox, depth int) {
	p := probabilityOfCut(box, v.queryForCut)
	if p <= 0 {
		return
	}
	contribution := p * float64(v.leafMass) / float64(depth+1)
	v.out.Density += contribution
	c := b.cutDim
	q := v.queryForCut[c]
	if q > box.max(c) {
		v.out.High[c] += contribution
	} else if q < box.min(c) {
		v.out.Low[c] += contribution
	}
}

func (v *densityVisitor) converged() bool { return false }

func (v *densityVisitor) result() DensityOutput { return v.out }

// imputeOnce descends tree guided by point's known coordinates only (spec
// §4.5 ImputeMissingValues): at a cut on a known dimension it follows the
// cut as normal; at a cut on an unknown dimension it resolves randomly.
// This is a dedicated descent rather than the shared ascending visitor,
// since imputation only needs the leaf it lands on, not an ascent.
func (t *rcTree) imputeOnce(point []float64, known []bool, rng *rand.Rand) []float64 {
	out := append([]float64(nil), point...)
	if t.root == nil {
		return out
	}
	node := t.root
	for {
		br, ok := node.(*branch)
		if !ok {
			break
		}
		if known[br.cutDim] {
			if point[br.cutDim] <= br.cutVal {
				node = br.left
			} else {
				node = br.right
			}
		} else if rng.Float64() < 0.5 {
			node = br.left
		} else {
			node = br.right
		}
	}
	lf := node.(*leaf)
	coords := t.store.get(lf.handle())
	for i, k := range known {
		if !k {
			out[i] = coords[i]
		}
	}
	return out
}

// nearNeighbor finds every leaf handle within radius of query, pruning
// subtrees whose bounding box cannot contain a point that close (spec
// §4.5 NearNeighbor). Box-pruned search needs to explore both children of
// a node when either side's box is within range, which the single-path
// guided traverse() cannot express, so this walks the tree directly.
func (t *rcTree) nearNeighbor(query []float64, radius float64, out *[]int) {
	if t.root == nil {
		return
	}
	t.nearNeighborRec(t.root, t.getBox(t.root), query, radius, out)
}

func (t *rcTree) nearNeighborRec(node rcNode, box boundingBox, query []float64, radius float64, out *[]int) {
	if boxDistance(box, query) > radius {
		return
	}
	switch n := node.(type) {
	case *leaf:
		coords := t.store.get(n.handle())
		if euclidean(coords, query) <= radius {
			*out = append(*out, n.handles...)
		}
	case *branch:
		t.nearNeighborRec(n.left, t.getBox(n.left), query, radius, out)
		t.nearNeighborRec(n.right, t.getBox(n.right), query, radius, out)
	}
}

// boxDistance is the Euclidean distance from query to the nearest point
// of box (0 if query is inside box on every axis).
func boxDistance(box boundingBox, query []float64) float64 {
	sumSq := 0.0
	for i := 0; i < box.dim; i++ {
		if query[i] < box.min(i) {
			d := box.min(i) - query[i]
			sumSq += d * d
		} else if query[i] > box.max(i) {
			d := query[i] - box.max(i)
			sumSq += d * d
		}
	}
	return math.Sqrt(sumSq)
}

func euclidean(a, b []float64) float64 {
	sumSq := 0.0
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}
