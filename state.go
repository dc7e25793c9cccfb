// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"container/heap"
	"fmt"
	"math/rand"
)

// ForestState is the format-agnostic field set a Forest round-trips
// through. Wire encoding (JSON/binary) is
// explicitly out of scope; ForestState only fixes the set of
// fields that must survive a round trip, leaving the actual
// serialization schema to the caller (e.g. encoding/json or a protobuf
// the host already depends on).
type ForestState struct {
	Config Config

	PointStore PointStoreState
	Trees      []TreeState
	Samplers   []SamplerState

	TotalUpdates int64
}

// PointStoreState is the PointStore's round-trippable field set (spec
// §6): coordinates, refCounts, and capacity. The free list is not
// persisted; it is recomputed from refCounts on restore.
type PointStoreState struct {
	Dimensions int
	Capacity   int
	Coords     []float64 // capacity*dim, handle h at [h*dim:(h+1)*dim]
	RefCounts  []int32
}

// NodeState is one flattened tree node: either a leaf (Left/Right == -1)
// or an internal node, stored in an array rather than as linked pointers
// so the whole tree round-trips as one flat slice plus a root index.
type NodeState struct {
	CutDim        int
	CutValue      float64
	Left          int // index into Nodes, or -1
	Right         int // index into Nodes, or -1
	Mass          int
	Handles       []int   // non-empty only for leaves
	SeqIndexes    []int64 // parallel to Handles when StoreSequenceIndexesEnabled
}

// TreeState is one tree's round-trippable field set: its node
// array and root index (-1 for an empty tree).
type TreeState struct {
	Root  int
	Nodes []NodeState
}

// SamplerState is one sampler's round-trippable field set:
// its current entries, λ, capacity and size (size is len(Entries)).
type SamplerState struct {
	Capacity    int
	Lambda      float64
	EntriesSeen int64
	Entries     []sampleEntry
}

// ToState snapshots f into a ForestState. The snapshot is a deep copy:
// subsequent updates to f do not alias the returned state.
func (f *Forest) ToState() ForestState {
	f.mu.Lock()
	defer f.mu.Unlock()

	coords := make([]float64, len(f.store.coords))
	copy(coords, f.store.coords)
	refCounts := make([]int32, len(f.store.refCount))
	copy(refCounts, f.store.refCount)

	state := ForestState{
		Config: f.cfg,
		PointStore: PointStoreState{
			Dimensions: f.store.dim,
			Capacity:   f.store.capacity,
			Coords:     coords,
			RefCounts:  refCounts,
		},
		TotalUpdates: f.totalUpdates,
	}

	for _, t := range f.trees {
		state.Trees = append(state.Trees, snapshotTree(t))
	}
	for _, s := range f.samplers {
		state.Samplers = append(state.Samplers, SamplerState{
			Capacity:    s.capacity,
			Lambda:      s.lambda,
			EntriesSeen: s.entriesSeen,
			Entries:     s.entries(),
		})
	}
	return state
}

// snapshotTree flattens t's node pointer graph into a parallel-array
// NodeState list via a preorder walk, recording each child's resulting
// index.
func snapshotTree(t *rcTree) TreeState {
	ts := TreeState{Root: -1}
	if t.root == nil {
		return ts
	}
	var walk func(n rcNode) int
	walk = func(n rcNode) int {
		switch v := n.(type) {
		case *leaf:
			idx := len(ts.Nodes)
			ts.Nodes = append(ts.Nodes, NodeState{
				Left: -1, Right: -1, Mass: v.leafCount(),
				Handles:    append([]int(nil), v.handles...),
				SeqIndexes: append([]int64(nil), v.seqIndexes...),
			})
			return idx
		case *branch:
			idx := len(ts.Nodes)
			ts.Nodes = append(ts.Nodes, NodeState{}) // reserve slot
			left := walk(v.left)
			right := walk(v.right)
			ts.Nodes[idx] = NodeState{
				CutDim: v.cutDim, CutValue: v.cutVal,
				Left: left, Right: right, Mass: v.mass,
			}
			return idx
		default:
			panicInvariant("snapshotTree", "unknown node type")
			return -1
		}
	}
	ts.Root = walk(t.root)
	return ts
}

// FromState rebuilds a Forest from a previously captured ForestState
//. The round-trip law requires that
// anomaly scores of the restored forest agree with the original within
// δ=0.05*log2(sampleSize) on previously seen points; since FromState
// reconstructs the exact tree/sampler/point-store structure rather than
// replaying updates, restored forests agree with the original exactly on
// tree shape, masses, sampler entries and point-store contents, and
// therefore on anomaly score, attribution and density results. The
// per-tree and per-sampler PRNGs are reseeded from Config.RandomSeed
// rather than restored, and internal node ids are reassigned in preorder,
// so randomized operations after the restore (further updates,
// imputation) do not continue the original's random sequence.
func FromState(state ForestState) (*Forest, error) {
	cfg := state.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := &pointStore{
		dim:      state.PointStore.Dimensions,
		capacity: state.PointStore.Capacity,
		coords:   append([]float64(nil), state.PointStore.Coords...),
		refCount: append([]int32(nil), state.PointStore.RefCounts...),
	}
	for h, rc := range store.refCount {
		if rc == 0 {
			store.free = append(store.free, int32(h))
		} else {
			store.size++
		}
	}

	f := &Forest{cfg: cfg, store: store, totalUpdates: state.TotalUpdates}
	if len(state.Trees) != len(state.Samplers) {
		return nil, fmt.Errorf("%w: %d trees but %d samplers in state", ErrInvalidConfig, len(state.Trees), len(state.Samplers))
	}

	seedSrc := rand.New(rand.NewSource(cfg.RandomSeed))
	for i, ts := range state.Trees {
		treeSeed := seedSrc.Int63()
		samplerSeed := seedSrc.Int63()

		tree := newRCTree(rand.New(rand.NewSource(treeSeed)), store)
		tree.storeSeqIndexes = cfg.StoreSequenceIndexesEnabled
		tree.centerOfMassEnabled = cfg.CenterOfMassEnabled
		tree.boxCacheFraction = cfg.BoundingBoxCacheFraction
		restoreTree(tree, ts)
		f.trees = append(f.trees, tree)

		ss := state.Samplers[i]
		s := newSampler(ss.Capacity, ss.Lambda, rand.New(rand.NewSource(samplerSeed)))
		s.entriesSeen = ss.EntriesSeen
		for _, e := range ss.Entries {
			s.heap = append(s.heap, e)
		}
		heap.Init(&s.heap)
		f.samplers = append(f.samplers, s)
	}
	if cfg.InternalShinglingEnabled && cfg.ShingleSize > 1 {
		f.shingle = newShingleBuilder(cfg.Dimensions, cfg.ShingleSize, cfg.ShingleCyclic)
	}
	return f, nil
}

// restoreTree rebuilds t's node pointer graph from ts's parallel arrays,
// the inverse of snapshotTree, and repopulates t.leaves.
func restoreTree(t *rcTree, ts TreeState) {
	if ts.Root < 0 {
		return
	}
	nodes := make([]rcNode, len(ts.Nodes))
	var build func(idx int) rcNode
	build = func(idx int) rcNode {
		if nodes[idx] != nil {
			return nodes[idx]
		}
		ns := ts.Nodes[idx]
		if ns.Left < 0 && ns.Right < 0 {
			lf := &leaf{handles: append([]int(nil), ns.Handles...), seqIndexes: append([]int64(nil), ns.SeqIndexes...)}
			nodes[idx] = lf
			for _, h := range lf.handles {
				t.leaves[h] = lf
			}
			return lf
		}
		br := &branch{cutDim: ns.CutDim, cutVal: ns.CutValue, mass: ns.Mass, nodeID: t.nextNodeID}
		t.nextNodeID++
		nodes[idx] = br
		br.left = build(ns.Left)
		br.right = build(ns.Right)
		if shouldCacheBox(br.nodeID, t.boxCacheFraction) {
			br.box = t.getBox(br.left).merge(t.getBox(br.right))
			br.hasBox = true
		}
		return br
	}
	t.root = build(ts.Root)
}
