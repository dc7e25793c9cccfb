// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import "fmt"

// Config holds the recognized forest configuration options. There is no
// catch-all map of "other" options, so an unrecognized option is a
// compile-time error rather than a silently-ignored one.
//
// Precision is fixed at float64 throughout this implementation, keeping
// the hot traversal paths free of type-parameter overhead.
type Config struct {
	// Dimensions is the dimensionality of each input point. Required.
	Dimensions int

	// NumberOfTrees is the forest size. Default 50.
	NumberOfTrees int

	// SampleSize is the per-tree reservoir capacity. Default 256.
	SampleSize int

	// TimeDecay is the reservoir's exponential decay rate λ >= 0.
	// Default 0 (classic reservoir sampling).
	TimeDecay float64

	// OutputAfter is the number of updates before queries return
	// non-neutral results. Default SampleSize/4. Zero counts as unset:
	// Validate replaces it with SampleSize/4.
	OutputAfter int

	// ShingleSize is the shingle window length. Default 1 (no shingling).
	ShingleSize int

	// ShingleCyclic selects cyclic (true) vs sliding (false) shingling.
	ShingleCyclic bool

	// RandomSeed seeds every tree and sampler's independent PRNG
	// deterministically. Zero is used as-is like any other seed, so a
	// forest built with it is just as reproducible.
	RandomSeed int64

	// ParallelExecutionEnabled dispatches GetAnomalyScore's per-tree
	// visitors across a bounded worker pool instead of iterating
	// sequentially. Update and the other queries always visit trees in
	// order on the calling goroutine.
	ParallelExecutionEnabled bool

	// ThreadPoolSize bounds the parallel worker pool. Default
	// NumberOfTrees when ParallelExecutionEnabled and unset.
	ThreadPoolSize int

	// StoreSequenceIndexesEnabled tracks the set of stream sequence
	// indexes backing each leaf, for diagnostics and exact round trip.
	StoreSequenceIndexesEnabled bool

	// CenterOfMassEnabled caches a running center-of-mass per internal
	// node (used by density/impute visitors).
	CenterOfMassEnabled bool

	// BoundingBoxCacheFraction selects what fraction of internal nodes
	// retain a cached bounding box, in [0, 1]. 1.0 caches every node.
	BoundingBoxCacheFraction float64

	// InternalShinglingEnabled lets the forest itself maintain the
	// shingle buffer (ShingleBuilder) instead of requiring pre-shingled
	// input from the caller.
	InternalShinglingEnabled bool
}

// DefaultConfig returns a Config with every default applied, and
// Dimensions left at 0 (the caller must set it).
func DefaultConfig() Config {
	return Config{
		NumberOfTrees:            50,
		SampleSize:               256,
		TimeDecay:                0,
		ShingleSize:              1,
		ShingleCyclic:            false,
		BoundingBoxCacheFraction: 1.0,
	}
}

// Validate checks every option's preconditions and fills in defaults
// that depend on other fields (OutputAfter, ThreadPoolSize).
func (c *Config) Validate() error {
	if c.Dimensions < 1 {
		return fmt.Errorf("%w: dimensions must be >= 1, got %d", ErrInvalidConfig, c.Dimensions)
	}
	if c.NumberOfTrees < 1 {
		return fmt.Errorf("%w: numberOfTrees must be >= 1, got %d", ErrInvalidConfig, c.NumberOfTrees)
	}
	if c.SampleSize < 1 {
		return fmt.Errorf("%w: sampleSize must be >= 1, got %d", ErrInvalidConfig, c.SampleSize)
	}
	if c.TimeDecay < 0 {
		return fmt.Errorf("%w: timeDecay must be >= 0, got %f", ErrInvalidConfig, c.TimeDecay)
	}
	if c.ShingleSize < 1 {
		return fmt.Errorf("%w: shingleSize must be >= 1, got %d", ErrInvalidConfig, c.ShingleSize)
	}
	if c.BoundingBoxCacheFraction < 0 || c.BoundingBoxCacheFraction > 1 {
		return fmt.Errorf("%w: boundingBoxCacheFraction must be in [0,1], got %f", ErrInvalidConfig, c.BoundingBoxCacheFraction)
	}
	if c.OutputAfter == 0 {
		c.OutputAfter = c.SampleSize / 4
	}
	if c.OutputAfter < 0 {
		return fmt.Errorf("%w: outputAfter must be >= 0, got %d", ErrInvalidConfig, c.OutputAfter)
	}
	if c.ParallelExecutionEnabled && c.ThreadPoolSize == 0 {
		c.ThreadPoolSize = c.NumberOfTrees
	}
	if c.ThreadPoolSize < 0 {
		return fmt.Errorf("%w: threadPoolSize must be >= 0, got %d", ErrInvalidConfig, c.ThreadPoolSize)
	}
	return nil
}

// Option mutates a Config; functional options let callers build a Config
// incrementally without exposing every field as a required constructor
// argument.
type Option func(*Config)

// WithDimensions sets the required input dimensionality.
func WithDimensions(d int) Option { return func(c *Config) { c.Dimensions = d } }

// WithNumberOfTrees overrides the forest size.
func WithNumberOfTrees(n int) Option { return func(c *Config) { c.NumberOfTrees = n } }

// WithSampleSize overrides the per-tree reservoir capacity.
func WithSampleSize(n int) Option { return func(c *Config) { c.SampleSize = n } }

// WithTimeDecay overrides the reservoir decay rate λ.
func WithTimeDecay(lambda float64) Option { return func(c *Config) { c.TimeDecay = lambda } }

// WithOutputAfter overrides the warmup period before queries are live.
// A value of 0 leaves the SampleSize/4 default in place.
func WithOutputAfter(n int) Option { return func(c *Config) { c.OutputAfter = n } }

// WithShingle configures the shingle window and its cyclic/sliding mode.
func WithShingle(size int, cyclic bool) Option {
	return func(c *Config) {
		c.ShingleSize = size
		c.ShingleCyclic = cyclic
	}
}

// WithInternalShingling has the forest itself maintain the shingle
// buffer rather than requiring pre-shingled caller input.
func WithInternalShingling(enabled bool) Option {
	return func(c *Config) { c.InternalShinglingEnabled = enabled }
}

// WithRandomSeed fixes the forest-wide seed every tree/sampler PRNG is
// derived from.
func WithRandomSeed(seed int64) Option { return func(c *Config) { c.RandomSeed = seed } }

// WithParallelExecution enables GetAnomalyScore's per-tree fan-out across
// a bounded worker pool of the given size (0 defaults to NumberOfTrees).
func WithParallelExecution(enabled bool, poolSize int) Option {
	return func(c *Config) {
		c.ParallelExecutionEnabled = enabled
		c.ThreadPoolSize = poolSize
	}
}

// WithStoreSequenceIndexes enables leaf-level sequence index tracking.
func WithStoreSequenceIndexes(enabled bool) Option {
	return func(c *Config) { c.StoreSequenceIndexesEnabled = enabled }
}

// WithCenterOfMass enables cached per-node center of mass.
func WithCenterOfMass(enabled bool) Option {
	return func(c *Config) { c.CenterOfMassEnabled = enabled }
}

// WithBoundingBoxCacheFraction sets the fraction of internal nodes that
// retain a cached bounding box.
func WithBoundingBoxCacheFraction(fraction float64) Option {
	return func(c *Config) { c.BoundingBoxCacheFraction = fraction }
}

// NewConfig builds a Config by applying opts atop DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
