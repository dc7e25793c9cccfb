// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"math/rand"
	"testing"
)

// newTestTree builds a tree and its backing store together, since
// insertPoint now takes a handle into a shared pointStore rather than a
// raw point — the teacher's
// newRCTree(rng) took the raw point directly.
func newTestTree(seed int64, dim int, capacity int) (*rcTree, *pointStore) {
	store := newPointStore(capacity, dim)
	tree := newRCTree(rand.New(rand.NewSource(seed)), store)
	return tree, store
}

func mustAdd(t *testing.T, store *pointStore, coords []float64) int {
	t.Helper()
	h, err := store.add(coords)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return h
}

func TestRCTree_EmptyTree(t *testing.T) {
	tree, _ := newTestTree(42, 3, 10)
	if tree.root != nil {
		t.Error("expected nil root for empty tree")
	}
	if len(tree.leaves) != 0 {
		t.Error("expected no leaves for empty tree")
	}
}

func TestRCTree_InsertSinglePoint(t *testing.T) {
	tree, store := newTestTree(42, 3, 10)

	h := mustAdd(t, store, []float64{1.0, 2.0, 3.0})
	lf := tree.insertPoint(h, 0)

	if tree.root != rcNode(lf) {
		t.Error("single point should be root")
	}
	if lf.leafCount() != 1 {
		t.Errorf("expected leaf count=1, got %d", lf.leafCount())
	}
	if tree.leaves[h] != lf {
		t.Error("leaf not in leaves map")
	}
}

func TestRCTree_InsertMultiplePoints(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	points := [][]float64{{1.0, 2.0}, {3.0, 4.0}, {5.0, 6.0}}
	for i, p := range points {
		h := mustAdd(t, store, p)
		tree.insertPoint(h, int64(i))
	}

	if len(tree.leaves) != 3 {
		t.Errorf("expected 3 leaves, got %d", len(tree.leaves))
	}
	if tree.mass() != 3 {
		t.Errorf("expected root mass=3, got %d", tree.mass())
	}
}

func TestRCTree_DuplicatePointIncreasesMass(t *testing.T) {
	tree, store := newTestTree(7, 2, 20)
	for i := 0; i < 5; i++ {
		h := mustAdd(t, store, []float64{3.0, 3.0})
		tree.insertPoint(h, int64(i))
	}
	if tree.mass() != 5 {
		t.Errorf("expected mass 5 after 5 duplicate inserts, got %d", tree.mass())
	}
	if len(tree.leaves) != 5 {
		t.Errorf("expected 5 handles tracked, got %d", len(tree.leaves))
	}
	// All five handles should resolve to the same physical leaf.
	var shared *leaf
	for h := range tree.leaves {
		if shared == nil {
			shared = tree.leaves[h]
		} else if tree.leaves[h] != shared {
			t.Fatal("duplicate inserts should coalesce into one leaf")
		}
	}
	if shared.leafCount() != 5 {
		t.Errorf("expected coalesced leaf mass 5, got %d", shared.leafCount())
	}
}

func TestRCTree_ForgetPoint(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	h0 := mustAdd(t, store, []float64{1.0, 2.0})
	h1 := mustAdd(t, store, []float64{3.0, 4.0})
	h2 := mustAdd(t, store, []float64{5.0, 6.0})
	tree.insertPoint(h0, 0)
	tree.insertPoint(h1, 1)
	tree.insertPoint(h2, 2)

	tree.forgetPoint(h1)

	if len(tree.leaves) != 2 {
		t.Errorf("expected 2 leaves after forget, got %d", len(tree.leaves))
	}
	if _, exists := tree.leaves[h1]; exists {
		t.Error("forgotten leaf should not be in leaves map")
	}
	if tree.mass() != 2 {
		t.Errorf("expected root mass=2, got %d", tree.mass())
	}
}

func TestRCTree_ForgetOnlyPoint(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	h := mustAdd(t, store, []float64{1.0, 2.0})
	tree.insertPoint(h, 0)
	tree.forgetPoint(h)

	if tree.root != nil {
		t.Error("expected nil root after forgetting only point")
	}
	if len(tree.leaves) != 0 {
		t.Error("expected no leaves after forgetting only point")
	}
}

func TestRCTree_Disp(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	h0 := mustAdd(t, store, []float64{1.0, 2.0})
	tree.insertPoint(h0, 0)
	if d := tree.disp(h0); d != 0 {
		t.Errorf("single point disp should be 0, got %d", d)
	}

	h1 := mustAdd(t, store, []float64{100.0, 100.0})
	tree.insertPoint(h1, 1)
	if d := tree.disp(h1); d != 1 {
		t.Errorf("outlier disp should be 1, got %d", d)
	}
}

func TestRCTree_Codisp(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	normal := [][]float64{{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}, {0.4, 0.4}}
	for i, p := range normal {
		h := mustAdd(t, store, p)
		tree.insertPoint(h, int64(i))
	}
	hOutlier := mustAdd(t, store, []float64{100.0, 100.0})
	tree.insertPoint(hOutlier, 100)

	codisp := tree.codisp(hOutlier)
	if codisp <= 0 {
		t.Errorf("outlier codisp should be positive, got %f", codisp)
	}
	if codisp < 1.0 {
		t.Errorf("outlier codisp should be >= 1, got %f", codisp)
	}
}

func TestRCTree_BoundingBoxInvariant(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	points := [][]float64{{0.0, 0.0}, {1.0, 1.0}, {0.5, 0.5}}
	for i, p := range points {
		h := mustAdd(t, store, p)
		tree.insertPoint(h, int64(i))
	}
	br, ok := tree.root.(*branch)
	if !ok {
		t.Fatal("root should be a branch")
	}
	box := tree.getBox(br)
	for d := 0; d < tree.ndim; d++ {
		if box.min(d) != 0.0 {
			t.Errorf("min[%d] should be 0, got %f", d, box.min(d))
		}
		if box.max(d) != 1.0 {
			t.Errorf("max[%d] should be 1, got %f", d, box.max(d))
		}
	}
}

func TestRCTree_DimensionValidationPanics(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	h := mustAdd(t, store, []float64{1.0, 2.0})
	tree.insertPoint(h, 0)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for dimension mismatch")
		}
	}()
	// A 3-dim point handed to a 2-dim store would already fail at add();
	// force the mismatch directly against the tree instead. Handle 0 is
	// already in the tree, so fill it first and insert handle 1: that way
	// the panic comes from the dimension check, not the duplicate-handle one.
	store3 := newPointStore(2, 3)
	_, _ = store3.add([]float64{0.0, 0.0, 0.0})
	h3, _ := store3.add([]float64{1.0, 2.0, 3.0})
	tree.store = store3
	tree.insertPoint(h3, 1)
}

func TestRCTree_ForgetNonexistentPanics(t *testing.T) {
	tree, store := newTestTree(42, 2, 10)
	h := mustAdd(t, store, []float64{1.0, 2.0})
	tree.insertPoint(h, 0)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for nonexistent handle")
		}
	}()
	tree.forgetPoint(999)
}

func TestRCTree_ManyInsertDelete(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree, store := newTestTree(42, 2, 200)

	handles := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		h := mustAdd(t, store, []float64{rng.Float64() * 10, rng.Float64() * 10})
		tree.insertPoint(h, int64(i))
		handles = append(handles, h)
	}
	if len(tree.leaves) != 100 {
		t.Errorf("expected 100 leaves, got %d", len(tree.leaves))
	}

	for i := 0; i < 50; i++ {
		tree.forgetPoint(handles[i])
		store.decRef(handles[i])
	}
	if len(tree.leaves) != 50 {
		t.Errorf("expected 50 leaves after deletion, got %d", len(tree.leaves))
	}
	for i := 50; i < 100; i++ {
		if _, exists := tree.leaves[handles[i]]; !exists {
			t.Errorf("handle %d should exist", handles[i])
		}
		_ = tree.codisp(handles[i])
	}
	if tree.mass() != 50 {
		t.Errorf("root mass %d doesn't match remaining leaves 50", tree.mass())
	}
}

func TestInsertPointCut(t *testing.T) {
	tree, _ := newTestTree(42, 2, 10)
	bbox := []float64{0.0, 0.0, 1.0, 1.0}
	point := []float64{2.0, 0.5}

	for i := 0; i < 100; i++ {
		dim, val := tree.insertPointCut(point, bbox)
		if dim < 0 || dim >= tree.ndim {
			t.Errorf("cut dimension %d out of range", dim)
		}
		minD := bbox[dim]
		if point[dim] < minD {
			minD = point[dim]
		}
		maxD := bbox[tree.ndim+dim]
		if point[dim] > maxD {
			maxD = point[dim]
		}
		if val < minD || val > maxD {
			t.Errorf("cut value %f outside extended range [%f, %f]", val, minD, maxD)
		}
	}
}

// TestRCTree_Determinism exercises spec §8's determinism law directly at
// the tree level: identical seed + identical insert sequence produces a
// structurally identical tree (here checked via resulting mass/box).
func TestRCTree_Determinism(t *testing.T) {
	build := func() *rcTree {
		tree, store := newTestTree(123, 3, 50)
		rng := rand.New(rand.NewSource(99))
		for i := 0; i < 30; i++ {
			p := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
			h := mustAdd(t, store, p)
			tree.insertPoint(h, int64(i))
		}
		return tree
	}
	t1 := build()
	t2 := build()
	if t1.mass() != t2.mass() {
		t.Fatalf("mass mismatch: %d vs %d", t1.mass(), t2.mass())
	}
	b1 := t1.getBox(t1.root)
	b2 := t2.getBox(t2.root)
	for i := 0; i < 3; i++ {
		if b1.min(i) != b2.min(i) || b1.max(i) != b2.max(i) {
			t.Fatalf("bounding box mismatch at dim %d", i)
		}
	}
}
