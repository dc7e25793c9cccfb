// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
)

// rcNode is the capability every tree node exposes. A tagged two-variant
// design (leaf, branch) is used instead of a deeper interface hierarchy,
// matching the closed-set-of-variants guidance in spec §9 and the
// teacher's own leaf/branch split in rrcf_test.go.
type rcNode interface {
	leafCount() int
}

// leaf is a tree leaf, holding every point-store handle that shares its
// coordinates. Per spec §4, duplicate points are coalesced into one leaf
// with mass equal to the occurrence count; handles is the list of every
// handle that coalesced here, in arrival order, so each one can later be
// forgotten independently. tree.leaves maps every handle, including
// duplicates, to this same shared *leaf, exactly as the teacher's
// `self.leaves[index] = duplicate` pattern does when a repeated point
// arrives under a new index.
type leaf struct {
	handles    []int // handles[0] is used for coordinate lookups
	seqIndexes []int64
}

func (l *leaf) leafCount() int { return len(l.handles) }

func (l *leaf) handle() int { return l.handles[0] }

// indexOfHandle returns the position of handle within l.handles, or -1.
func (l *leaf) indexOfHandle(handle int) int {
	for i, h := range l.handles {
		if h == handle {
			return i
		}
	}
	return -1
}

// branch is an internal node: a cut on one coordinate splitting its
// subtree into two children. Bounding boxes are cached only on a
// deterministic subset of nodes when boxCacheFraction < 1 (spec §4.4,
// §9 open question; selection rule documented in SPEC_FULL.md §6).
type branch struct {
	cutDim      int
	cutVal      float64
	left, right rcNode
	mass        int
	box         boundingBox
	hasBox      bool
	center      []float64
	nodeID      uint64
}

func (b *branch) leafCount() int { return b.mass }

// rcTree is a single random-cut tree over a subset of handles held in a
// shared pointStore. Every tree owns its own PRNG; there is no
// shared global rand source.
type rcTree struct {
	rng    *rand.Rand
	store  *pointStore
	root   rcNode
	ndim   int
	leaves map[int]*leaf

	storeSeqIndexes     bool
	centerOfMassEnabled bool
	boxCacheFraction    float64
	nextNodeID          uint64
}

func newRCTree(rng *rand.Rand, store *pointStore) *rcTree {
	return &rcTree{
		rng:              rng,
		store:            store,
		ndim:             store.dim,
		leaves:           make(map[int]*leaf),
		boxCacheFraction: 1.0,
	}
}

func (t *rcTree) size() int { return len(t.leaves) }

// mass returns the tree's total mass (root.mass, or 0 for an empty tree).
func (t *rcTree) mass() int {
	if t.root == nil {
		return 0
	}
	return t.root.leafCount()
}

// getBox returns node's bounding box, recomputing it from children when
// it was not cached.
func (t *rcTree) getBox(node rcNode) boundingBox {
	switch n := node.(type) {
	case *leaf:
		return newBoxFromPoint(t.store.get(n.handle()))
	case *branch:
		if n.hasBox {
			return n.box
		}
		return t.getBox(n.left).merge(t.getBox(n.right))
	default:
		panicInvariant("getBox", "unknown node type")
		return boundingBox{}
	}
}

func shouldCacheBox(nodeID uint64, fraction float64) bool {
	if fraction >= 1 {
		return true
	}
	if fraction <= 0 {
		return false
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nodeID)
	h := fnv.New32a()
	h.Write(buf[:])
	return h.Sum32()%997 < uint32(997*fraction)
}

func equalCoords(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// insertPointCut draws a cut dimension weighted by the axis ranges of
// bbox extended to contain point, then a cut value uniform on that
// dimension's extended range. bbox is the flat [min...,max...] layout
// used throughout this package, matching the teacher's insertPointCut
// contract exactly (see rrcf_test.go's TestInsertPointCut).
func (t *rcTree) insertPointCut(point []float64, bbox []float64) (int, float64) {
	ndim := t.ndim
	ranges := make([]float64, ndim)
	total := 0.0
	for i := 0; i < ndim; i++ {
		lo := bbox[i]
		if point[i] < lo {
			lo = point[i]
		}
		hi := bbox[ndim+i]
		if point[i] > hi {
			hi = point[i]
		}
		ranges[i] = hi - lo
		total += ranges[i]
	}
	if total == 0 {
		return 0, bbox[0]
	}
	r := t.rng.Float64() * total
	cum := 0.0
	dim := ndim - 1
	for i := 0; i < ndim; i++ {
		cum += ranges[i]
		if r <= cum {
			dim = i
			break
		}
	}
	lo := bbox[dim]
	if point[dim] < lo {
		lo = point[dim]
	}
	hi := bbox[ndim+dim]
	if point[dim] > hi {
		hi = point[dim]
	}
	val := lo + t.rng.Float64()*(hi-lo)
	return dim, val
}

// validSeparation reports whether cutting at (dim, val) places
// oldBox entirely on one side and point on the other, per the tree
// invariant L.box.max[cutDim] <= cutValue < R.box.min[cutDim].
func validSeparation(dim int, val float64, oldBox boundingBox, pointVal float64) bool {
	if pointVal <= val {
		return oldBox.min(dim) > val
	}
	return oldBox.max(dim) <= val
}

const maxCutAttempts = 10000

// drawSeparatingCut repeatedly draws a cut until it separates point from
// oldBox, per spec §4.4(b)'s rejection-sampling construction.
func (t *rcTree) drawSeparatingCut(point []float64, oldBox boundingBox) (int, float64) {
	for attempt := 0; attempt < maxCutAttempts; attempt++ {
		dim, val := t.insertPointCut(point, oldBox.b)
		if validSeparation(dim, val, oldBox, point[dim]) {
			return dim, val
		}
	}
	// Deterministic fallback: pick any axis where the point genuinely
	// lies outside oldBox (there must be at least one, since a cut was
	// warranted in the first place) and cut exactly at the boundary.
	for dim := 0; dim < t.ndim; dim++ {
		if point[dim] > oldBox.max(dim) {
			return dim, oldBox.max(dim)
		}
		if point[dim] < oldBox.min(dim) {
			return dim, oldBox.min(dim)
		}
	}
	panicInvariant("drawSeparatingCut", "point does not lie outside oldBox")
	return 0, 0
}

// insertPoint adds pointHandle (already holding coordinates in the
// shared store) to the tree at sequence index seq, returning the leaf
// that now represents it.
func (t *rcTree) insertPoint(handle int, seq int64) *leaf {
	if _, exists := t.leaves[handle]; exists {
		panicInvariant("insertPoint", fmt.Sprintf("handle %d already present", handle))
	}
	coords := t.store.get(handle)
	if len(coords) != t.ndim {
		panicInvariant("insertPoint", fmt.Sprintf("point has %d dims, tree expects %d", len(coords), t.ndim))
	}

	if t.root == nil {
		lf := &leaf{handles: []int{handle}}
		if t.storeSeqIndexes {
			lf.seqIndexes = append(lf.seqIndexes, seq)
		}
		t.root = lf
		t.leaves[handle] = lf
		return lf
	}

	var path []*branch
	node := t.root
	box := t.getBox(node)
	for {
		if lf, ok := node.(*leaf); ok {
			lcoords := t.store.get(lf.handle())
			if equalCoords(lcoords, coords) {
				lf.handles = append(lf.handles, handle)
				if t.storeSeqIndexes {
					lf.seqIndexes = append(lf.seqIndexes, seq)
				}
				for _, anc := range path {
					anc.mass++
				}
				t.leaves[handle] = lf
				return lf
			}
			return t.spliceIn(path, node, box, handle, coords, seq)
		}
		br := node.(*branch)
		p := probabilityOfCut(box, coords)
		if t.rng.Float64() < p {
			return t.spliceIn(path, node, box, handle, coords, seq)
		}
		path = append(path, br)
		// br's box grows to include the new point regardless of where
		// the eventual cut lands; earlier ancestors were already grown
		// in their own iteration of this loop.
		if br.hasBox {
			br.box.mergeInPlace(newBoxFromPoint(coords))
		}
		if coords[br.cutDim] <= br.cutVal {
			node = br.left
		} else {
			node = br.right
		}
		box = t.getBox(node)
	}
}

// spliceIn creates a new branch splitting oldNode (whose bounding box is
// oldBox) from a fresh leaf for handle, and attaches it in place of
// oldNode within path's last branch (or as the new root).
func (t *rcTree) spliceIn(path []*branch, oldNode rcNode, oldBox boundingBox, handle int, coords []float64, seq int64) *leaf {
	dim, val := t.drawSeparatingCut(coords, oldBox)

	newLeaf := &leaf{handles: []int{handle}}
	if t.storeSeqIndexes {
		newLeaf.seqIndexes = append(newLeaf.seqIndexes, seq)
	}

	br := &branch{cutDim: dim, cutVal: val, mass: oldNode.leafCount() + 1, nodeID: t.nextNodeID}
	t.nextNodeID++
	if coords[dim] <= val {
		br.left, br.right = newLeaf, oldNode
	} else {
		br.left, br.right = oldNode, newLeaf
	}
	if shouldCacheBox(br.nodeID, t.boxCacheFraction) {
		br.box = oldBox.mergePoint(coords)
		br.hasBox = true
	}
	if t.centerOfMassEnabled {
		br.center = weightedCenter(t.centerOf(oldNode, oldBox), float64(oldNode.leafCount()), coords, 1)
	}

	if len(path) == 0 {
		t.root = br
	} else {
		parent := path[len(path)-1]
		if parent.left == oldNode {
			parent.left = br
		} else {
			parent.right = br
		}
	}
	for _, anc := range path {
		anc.mass++
	}
	t.leaves[handle] = newLeaf
	return newLeaf
}

// centerOf returns node's center of mass, falling back to its box
// midpoint when center-of-mass tracking was not enabled for its whole
// lifetime.
func (t *rcTree) centerOf(node rcNode, box boundingBox) []float64 {
	if br, ok := node.(*branch); ok && br.center != nil {
		return br.center
	}
	if lf, ok := node.(*leaf); ok {
		return t.store.get(lf.handle())
	}
	mid := make([]float64, box.dim)
	for i := 0; i < box.dim; i++ {
		mid[i] = (box.min(i) + box.max(i)) / 2
	}
	return mid
}

func weightedCenter(oldCenter []float64, oldWeight float64, point []float64, pointWeight float64) []float64 {
	total := oldWeight + pointWeight
	out := make([]float64, len(point))
	for i := range point {
		out[i] = (oldCenter[i]*oldWeight + point[i]*pointWeight) / total
	}
	return out
}

// findPath descends from the root following each branch's own cut
// decision (not a fresh probabilistic draw) until reaching a leaf,
// returning the branches visited in order. Used by forgetPoint, disp and
// codisp, all of which navigate to an already-placed leaf.
func (t *rcTree) findPath(coords []float64) []*branch {
	var path []*branch
	node := t.root
	for {
		br, ok := node.(*branch)
		if !ok {
			return path
		}
		path = append(path, br)
		if coords[br.cutDim] <= br.cutVal {
			node = br.left
		} else {
			node = br.right
		}
	}
}

// forgetPoint removes one occurrence of handle from the tree (spec
// §4.4's deletePoint). If other duplicate occurrences remain under the
// same leaf (mass > 0 after removing this one) no structural change
// happens beyond mass upkeep.
func (t *rcTree) forgetPoint(handle int) {
	lf, ok := t.leaves[handle]
	if !ok {
		panicInvariant("forgetPoint", fmt.Sprintf("handle %d not found", handle))
	}
	idx := lf.indexOfHandle(handle)
	if idx < 0 {
		panicInvariant("forgetPoint", fmt.Sprintf("handle %d not indexed on its own leaf", handle))
	}
	coords := t.store.get(lf.handle())
	path := t.findPath(coords)

	delete(t.leaves, handle)
	lf.handles = append(lf.handles[:idx], lf.handles[idx+1:]...)
	if t.storeSeqIndexes && idx < len(lf.seqIndexes) {
		lf.seqIndexes = append(lf.seqIndexes[:idx], lf.seqIndexes[idx+1:]...)
	}

	if len(lf.handles) > 0 {
		for _, anc := range path {
			anc.mass--
		}
		return
	}

	if len(path) == 0 {
		t.root = nil
		return
	}
	parent := path[len(path)-1]
	var sibling rcNode
	if parent.left == rcNode(lf) {
		sibling = parent.right
	} else {
		sibling = parent.left
	}
	if len(path) == 1 {
		t.root = sibling
	} else {
		grand := path[len(path)-2]
		if grand.left == rcNode(parent) {
			grand.left = sibling
		} else {
			grand.right = sibling
		}
	}
	for i := 0; i < len(path)-1; i++ {
		path[i].mass--
		path[i].hasBox = false
	}
}

// disp is the raw displacement of handle: the mass of its sibling at the
// point of removal (0 if handle's leaf is the tree's root).
func (t *rcTree) disp(handle int) int {
	lf, ok := t.leaves[handle]
	if !ok {
		panicInvariant("disp", fmt.Sprintf("handle %d not found", handle))
	}
	path := t.findPath(t.store.get(lf.handle()))
	if len(path) == 0 {
		return 0
	}
	parent := path[len(path)-1]
	if parent.left == rcNode(lf) {
		return parent.right.leafCount()
	}
	return parent.left.leafCount()
}

// codisp is the collusive displacement of handle: the maximum, over
// every ancestor from the leaf up to the root, of sibling-mass divided
// by the mass of the subtree being displaced at that level.
func (t *rcTree) codisp(handle int) float64 {
	lf, ok := t.leaves[handle]
	if !ok {
		panicInvariant("codisp", fmt.Sprintf("handle %d not found", handle))
	}
	path := t.findPath(t.store.get(lf.handle()))
	if len(path) == 0 {
		return 0
	}
	best := 0.0
	var self rcNode = lf
	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i]
		var sibling rcNode
		if parent.left == self {
			sibling = parent.right
		} else {
			sibling = parent.left
		}
		ratio := float64(sibling.leafCount()) / float64(self.leafCount())
		if ratio > best {
			best = ratio
		}
		self = parent
	}
	return best
}
