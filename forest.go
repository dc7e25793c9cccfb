// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coralml/rcforest/internal/rcflog"
)

// Forest coordinates N random-cut trees over a shared point store. It
// exposes a single-threaded
// logical API: update() and the getX() queries must be externally
// serialized against each other, but a query itself may fan out
// across trees in a bounded worker pool when ParallelExecutionEnabled.
type Forest struct {
	cfg Config

	mu          sync.Mutex // serializes PointStore mutation across update()
	store       *pointStore
	trees       []*rcTree
	samplers    []*sampler
	shingle     *shingleBuilder
	totalUpdates int64

	metrics *Metrics
}

// NewForest validates cfg and builds a forest with cfg.NumberOfTrees
// independent trees/samplers, each seeded deterministically from
// cfg.RandomSeed.
func NewForest(cfg Config) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	forestSeed := cfg.RandomSeed
	seedSrc := rand.New(rand.NewSource(forestSeed))

	effectiveDim := cfg.Dimensions
	if cfg.InternalShinglingEnabled && cfg.ShingleSize > 1 {
		effectiveDim = cfg.Dimensions * cfg.ShingleSize
	}

	store := newPointStore(cfg.NumberOfTrees*cfg.SampleSize, effectiveDim)

	f := &Forest{
		cfg:   cfg,
		store: store,
	}
	for i := 0; i < cfg.NumberOfTrees; i++ {
		treeSeed := seedSrc.Int63()
		samplerSeed := seedSrc.Int63()

		tree := newRCTree(rand.New(rand.NewSource(treeSeed)), store)
		tree.storeSeqIndexes = cfg.StoreSequenceIndexesEnabled
		tree.centerOfMassEnabled = cfg.CenterOfMassEnabled
		tree.boxCacheFraction = cfg.BoundingBoxCacheFraction
		f.trees = append(f.trees, tree)

		f.samplers = append(f.samplers, newSampler(cfg.SampleSize, cfg.TimeDecay, rand.New(rand.NewSource(samplerSeed))))
	}
	if cfg.InternalShinglingEnabled && cfg.ShingleSize > 1 {
		f.shingle = newShingleBuilder(cfg.Dimensions, cfg.ShingleSize, cfg.ShingleCyclic)
	}

	rcflog.Debugf("forest: built numTrees=%d sampleSize=%d dimensions=%d", cfg.NumberOfTrees, cfg.SampleSize, effectiveDim)
	return f, nil
}

// Dimensions returns the dimensionality of points this forest accepts
// through Update/Get* (the shingled dimension, if internal shingling is
// enabled).
func (f *Forest) Dimensions() int { return f.store.dim }

// Size returns the total number of sample occurrences held across every
// tree (Σ tree.root.mass).
func (f *Forest) Size() int {
	total := 0
	for _, t := range f.trees {
		total += t.mass()
	}
	return total
}

// TotalUpdates returns the number of Update calls made so far.
func (f *Forest) TotalUpdates() int64 { return f.totalUpdates }

func (f *Forest) validatePoint(point []float64, expectedDim int) error {
	if len(point) != expectedDim {
		return fmt.Errorf("%w: point has %d dims, forest expects %d", ErrInvalidInput, len(point), expectedDim)
	}
	return nil
}

// Update feeds one raw point into the forest.
// When internal shingling is enabled, raw points are cfg.Dimensions wide
// and are absorbed into the shingle window; until the window fills,
// Update is a no-op beyond bookkeeping. The PointStore mutation this
// triggers is serialized under f.mu so a half-applied update is never
// observable.
func (f *Forest) Update(point []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	input := point
	if f.shingle != nil {
		if err := f.validatePoint(point, f.cfg.Dimensions); err != nil {
			return err
		}
		shingled, full := f.shingle.push(point)
		f.totalUpdates++
		if !full {
			return nil
		}
		input = shingled
	} else {
		if err := f.validatePoint(point, f.store.dim); err != nil {
			return err
		}
		f.totalUpdates++
	}

	for i, s := range f.samplers {
		decision := s.accept(f.totalUpdates)
		if !decision.accepted {
			if f.metrics != nil {
				f.metrics.observeReject()
			}
			continue
		}
		if !decision.warmup {
			evicted := decision.evictedHandle
			f.trees[i].forgetPoint(evicted)
			f.store.decRef(evicted)
		}
		handle, err := f.store.add(input)
		if err != nil {
			return err
		}
		s.commit(decision, handle, f.totalUpdates)
		f.trees[i].insertPoint(handle, f.totalUpdates)
		if f.metrics != nil {
			f.metrics.observeAccept(decision.warmup)
		}
	}
	if f.metrics != nil {
		f.metrics.observeUpdate(f.Size())
	}
	return nil
}

// ready reports whether totalUpdates has reached outputAfter; before
// that, queries return the domain-defined neutral value.
func (f *Forest) ready() bool {
	return f.totalUpdates >= int64(f.cfg.OutputAfter)
}

// foldTreesScalar runs perTree over every tree, sequentially or via a
// bounded worker pool per cfg.ParallelExecutionEnabled, and folds the
// per-tree scalar results into a ConvergingAccumulator. acc may be nil,
// meaning "plain mean, no early stop".
func foldTreesScalar(f *Forest, acc *ConvergingAccumulator, perTree func(i int) float64) (float64, error) {
	n := len(f.trees)
	if !f.cfg.ParallelExecutionEnabled {
		sum := 0.0
		count := 0
		for i := 0; i < n; i++ {
			v := perTree(i)
			sum += v
			count++
			if acc != nil {
				if acc.accept(v) {
					break
				}
			}
		}
		if acc != nil {
			return acc.result(n), nil
		}
		return sum / float64(count), nil
	}

	// Parallel mode performs full fan-out with no per-update convergence
	// short-circuit: every tree is visited regardless.
	results := make([]float64, n)
	pool := f.cfg.ThreadPoolSize
	if pool <= 0 {
		pool = n
	}
	var g errgroup.Group
	g.SetLimit(pool)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = perTree(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range results {
		sum += v
	}
	return sum / float64(n), nil
}

// GetAnomalyScore returns an anomaly score in [0,∞), averaged across
// trees, 0 before outputAfter.
func (f *Forest) GetAnomalyScore(point []float64) (float64, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return 0, err
	}
	if !f.ready() {
		return 0, nil
	}
	// No accumulator: every tree votes and the result is a plain mean.
	// Callers that want the converging short-circuit use
	// GetApproximateAnomalyScore instead.
	score, err := foldTreesScalar(f, nil, func(i int) float64 {
		v := newAnomalyScoreVisitor(point)
		f.trees[i].traverse(point, v)
		return v.result()
	})
	if err != nil {
		return 0, err
	}
	if f.metrics != nil {
		f.metrics.observeScore(score)
	}
	return score, nil
}

// GetApproximateAnomalyScore behaves like GetAnomalyScore but halts
// per-tree traversal once acc converges, reporting the accumulated
// result as if every tree had voted.
func (f *Forest) GetApproximateAnomalyScore(point []float64, acc *ConvergingAccumulator) (float64, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return 0, err
	}
	if !f.ready() {
		return 0, nil
	}
	if f.cfg.ParallelExecutionEnabled {
		// No per-update convergence short-circuit in parallel mode: full
		// fan-out is performed regardless of acc.
		return f.GetAnomalyScore(point)
	}
	return foldTreesScalar(f, acc, func(i int) float64 {
		v := newAnomalyScoreVisitor(point)
		f.trees[i].traverse(point, v)
		return v.result()
	})
}

// GetAnomalyAttribution returns a per-coordinate DiVector summed across
// trees then divided by tree count.
func (f *Forest) GetAnomalyAttribution(point []float64) (DiVector, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return DiVector{}, err
	}
	dim := f.store.dim
	if !f.ready() {
		return newDiVector(dim), nil
	}
	total := newDiVector(dim)
	n := len(f.trees)
	for i := 0; i < n; i++ {
		v := newAttributionVisitor(dim, point)
		f.trees[i].traverse(point, v)
		total = total.add(v.result())
	}
	return total.scale(1.0 / float64(n)), nil
}

// GetSimpleDensity averages the per-tree DensityOutput across trees.
func (f *Forest) GetSimpleDensity(point []float64) (DensityOutput, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return DensityOutput{}, err
	}
	dim := f.store.dim
	if !f.ready() {
		return newDensityOutput(dim), nil
	}
	total := newDensityOutput(dim)
	n := len(f.trees)
	for i := 0; i < n; i++ {
		v := newDensityVisitor(dim, point)
		f.trees[i].traverse(point, v)
		total = total.add(v.result())
	}
	return total.scale(1.0 / float64(n)), nil
}

// ImputeMissingValues has every tree propose a completion for the
// unknown coordinates, and the forest votes by averaging those
// proposals componentwise.
func (f *Forest) ImputeMissingValues(point []float64, missingIdx []int) ([]float64, error) {
	dim := f.store.dim
	if err := f.validatePoint(point, dim); err != nil {
		return nil, err
	}
	known := make([]bool, dim)
	for i := range known {
		known[i] = true
	}
	for _, idx := range missingIdx {
		if idx < 0 || idx >= dim {
			return nil, fmt.Errorf("%w: missing index %d out of range [0,%d)", ErrInvalidInput, idx, dim)
		}
		known[idx] = false
	}
	if !f.ready() {
		out := append([]float64(nil), point...)
		return out, nil
	}

	sum := make([]float64, dim)
	n := 0
	for i, t := range f.trees {
		if t.root == nil {
			continue
		}
		proposal := t.imputeOnce(point, known, f.samplers[i].rng)
		for j := range sum {
			sum[j] += proposal[j]
		}
		n++
	}
	if n == 0 {
		return append([]float64(nil), point...), nil
	}
	out := make([]float64, dim)
	for j := range out {
		if known[j] {
			out[j] = point[j]
		} else {
			out[j] = sum[j] / float64(n)
		}
	}
	return out, nil
}

// NearNeighbors collects the set of point-store handles within radius
// of point across every tree. Handles are deduplicated since the same
// sampled point can be held by multiple trees.
func (f *Forest) NearNeighbors(point []float64, radius float64) ([]int, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return nil, err
	}
	seen := make(map[int]struct{})
	var out []int
	for _, t := range f.trees {
		var hits []int
		t.nearNeighbor(point, radius, &hits)
		for _, h := range hits {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				out = append(out, h)
			}
		}
	}
	return out, nil
}

// Codisplacement is a diagnostic: the collusive-displacement of the
// sample occurrence(s) matching point across trees, averaged.
func (f *Forest) Codisplacement(point []float64) (float64, error) {
	if err := f.validatePoint(point, f.store.dim); err != nil {
		return 0, err
	}
	sum := 0.0
	n := 0
	for _, t := range f.trees {
		for handle, lf := range t.leaves {
			if equalCoords(t.store.get(lf.handle()), point) {
				sum += t.codisp(handle)
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// Reset empties every tree, sampler, and the shingle buffer, and frees
// all point-store slots, returning the forest to its just-built state.
func (f *Forest) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.trees {
		f.trees[i].root = nil
		for h := range f.trees[i].leaves {
			delete(f.trees[i].leaves, h)
		}
		f.samplers[i].reset()
	}
	f.store = newPointStore(f.cfg.NumberOfTrees*f.cfg.SampleSize, f.store.dim)
	for _, t := range f.trees {
		t.store = f.store
	}
	if f.shingle != nil {
		f.shingle.reset()
	}
	f.totalUpdates = 0
}

// AnomalyScoreThreshold returns log2(sampleSize), the nominal cutoff
// above which GetAnomalyScore's result is considered anomalous.
func (f *Forest) AnomalyScoreThreshold() float64 {
	return log2(float64(f.cfg.SampleSize))
}
