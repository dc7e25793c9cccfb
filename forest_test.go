// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForest_BuildValidatesConfig(t *testing.T) {
	_, err := NewForest(Config{Dimensions: 0})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestForest_WarmupScoresAreZero(t *testing.T) {
	f, err := NewForest(NewConfig(
		WithDimensions(2),
		WithNumberOfTrees(5),
		WithSampleSize(32),
		WithOutputAfter(50),
		WithRandomSeed(1),
	))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 40; i++ {
		require.NoError(t, f.Update([]float64{rng.Float64(), rng.Float64()}))
	}
	score, err := f.GetAnomalyScore([]float64{0, 0})
	require.NoError(t, err)
	require.Zero(t, score, "queries before outputAfter must return exactly 0")
}

// TestForest_UniformDataOutlierScoresHigher is spec §8 scenario 1,
// verbatim: d=2, 10 trees, sampleSize=64, λ=0, seed=42, 10,000 points
// from N(0,I). The outlier (100,100) must clear the anomaly threshold
// log2(64)=6; the inlier (0,0) must stay well under it.
func TestForest_UniformDataOutlierScoresHigher(t *testing.T) {
	f, err := NewForest(NewConfig(
		WithDimensions(2),
		WithNumberOfTrees(10),
		WithSampleSize(64),
		WithTimeDecay(0),
		WithRandomSeed(42),
	))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		require.NoError(t, f.Update([]float64{rng.NormFloat64(), rng.NormFloat64()}))
	}

	outlierScore, err := f.GetAnomalyScore([]float64{100, 100})
	require.NoError(t, err)
	normalScore, err := f.GetAnomalyScore([]float64{0, 0})
	require.NoError(t, err)

	require.Greater(t, outlierScore, normalScore)
	require.Greater(t, outlierScore, f.AnomalyScoreThreshold(), "outlier must clear log2(sampleSize)")
	require.Less(t, normalScore, 3.0, "typical point must stay well under log2(sampleSize)")
}

func TestForest_DuplicateMassBoundedBySampleSize(t *testing.T) {
	f, err := NewForest(NewConfig(
		WithDimensions(2),
		WithNumberOfTrees(1),
		WithSampleSize(10),
		WithTimeDecay(0),
		WithRandomSeed(5),
		WithOutputAfter(0),
	))
	require.NoError(t, err)

	p := []float64{3, 3}
	for i := 0; i < 100; i++ {
		require.NoError(t, f.Update(p))
	}
	require.LessOrEqual(t, f.Size(), 10)
	require.Equal(t, f.trees[0].mass(), f.samplers[0].size())
}

func TestForest_Determinism(t *testing.T) {
	build := func() (*Forest, error) {
		f, err := NewForest(NewConfig(
			WithDimensions(3), WithNumberOfTrees(5), WithSampleSize(32), WithRandomSeed(77), WithOutputAfter(0)))
		if err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(999))
		for i := 0; i < 200; i++ {
			if err := f.Update([]float64{rng.Float64(), rng.Float64(), rng.Float64()}); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
	f1, err := build()
	require.NoError(t, err)
	f2, err := build()
	require.NoError(t, err)

	query := []float64{0.5, 0.5, 0.5}
	s1, err := f1.GetAnomalyScore(query)
	require.NoError(t, err)
	s2, err := f2.GetAnomalyScore(query)
	require.NoError(t, err)
	require.Equal(t, s1, s2, "fixed seed + identical input stream must produce identical scores")
}

func TestForest_ShingleBuildsFullDimensionInput(t *testing.T) {
	f, err := NewForest(NewConfig(
		WithDimensions(1),
		WithNumberOfTrees(3),
		WithSampleSize(16),
		WithShingle(4, false),
		WithInternalShingling(true),
		WithRandomSeed(8),
		WithOutputAfter(0),
	))
	require.NoError(t, err)
	require.Equal(t, 4, f.Dimensions())

	for i := 1; i <= 3; i++ {
		require.NoError(t, f.Update([]float64{float64(i)}))
	}
	// 3 raw pushes into a size-4 sliding window never fill it, so no
	// sample occurrence should have reached any tree yet.
	require.Zero(t, f.Size())
}

func TestForest_InvalidInputDimension(t *testing.T) {
	f, err := NewForest(NewConfig(WithDimensions(2), WithRandomSeed(1), WithOutputAfter(0)))
	require.NoError(t, err)
	err = f.Update([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestForest_ParallelAndSequentialAgree(t *testing.T) {
	seed := int64(321)
	points := func() [][]float64 {
		rng := rand.New(rand.NewSource(seed))
		pts := make([][]float64, 500)
		for i := range pts {
			pts[i] = []float64{rng.Float64(), rng.Float64()}
		}
		return pts
	}()

	build := func(parallel bool) *Forest {
		opts := []Option{
			WithDimensions(2), WithNumberOfTrees(8), WithSampleSize(32), WithRandomSeed(55), WithOutputAfter(0),
		}
		if parallel {
			opts = append(opts, WithParallelExecution(true, 4))
		}
		f, err := NewForest(NewConfig(opts...))
		require.NoError(t, err)
		for _, p := range points {
			require.NoError(t, f.Update(p))
		}
		return f
	}

	seq := build(false)
	par := build(true)

	query := []float64{0.5, 0.5}
	sSeq, err := seq.GetAnomalyScore(query)
	require.NoError(t, err)
	sPar, err := par.GetAnomalyScore(query)
	require.NoError(t, err)
	require.InDelta(t, sSeq, sPar, 1e-9, "sequential and parallel fan-out must fold to the same result for a fixed tree order")
}

func TestForest_ImputeMissingValuesPreservesKnown(t *testing.T) {
	f, err := NewForest(NewConfig(WithDimensions(3), WithNumberOfTrees(5), WithSampleSize(32), WithRandomSeed(2), WithOutputAfter(0)))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		require.NoError(t, f.Update([]float64{rng.Float64(), rng.Float64(), rng.Float64()}))
	}
	out, err := f.ImputeMissingValues([]float64{0.2, -1, 0.8}, []int{1})
	require.NoError(t, err)
	require.Equal(t, 0.2, out[0])
	require.Equal(t, 0.8, out[2])
}

func TestForest_ImputeMissingValuesRejectsBadIndex(t *testing.T) {
	f, err := NewForest(NewConfig(WithDimensions(2), WithRandomSeed(1), WithOutputAfter(0)))
	require.NoError(t, err)
	_, err = f.ImputeMissingValues([]float64{0, 0}, []int{5})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestForest_Reset(t *testing.T) {
	f, err := NewForest(NewConfig(WithDimensions(2), WithNumberOfTrees(4), WithSampleSize(16), WithRandomSeed(1), WithOutputAfter(0)))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		require.NoError(t, f.Update([]float64{rng.Float64(), rng.Float64()}))
	}
	require.Greater(t, f.Size(), 0)
	f.Reset()
	require.Zero(t, f.Size())
	require.Zero(t, f.TotalUpdates())
}
