// Package rcfprof provides optional CPU profile capture around a batch
// of forest operations, mirroring comp/observer's direct dependency on
// github.com/google/pprof for its own anomaly pipeline. It is a thin
// wrapper: start a capture, run a batch of Forest updates/queries, stop
// it, and get back a parsed *profile.Profile for inspection in tests or
// benchmarks rather than a raw pprof.proto file on disk.
package rcfprof

import (
	"bytes"
	"fmt"
	"runtime/pprof"

	"github.com/google/pprof/profile"
)

// Capture runs fn while a CPU profile is active and returns the parsed
// profile. It is meant for benchmark harnesses and tests that exercise a
// batch of updates, not production code paths.
func Capture(fn func()) (*profile.Profile, error) {
	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		return nil, fmt.Errorf("rcfprof: start cpu profile: %w", err)
	}
	fn()
	pprof.StopCPUProfile()

	prof, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("rcfprof: parse cpu profile: %w", err)
	}
	return prof, nil
}

// TotalSamples sums the value of prof's first sample value type across
// every sample, a quick scalar summary used by tests that just want to
// assert "some work happened" without walking the call graph.
func TotalSamples(prof *profile.Profile) int64 {
	var total int64
	for _, s := range prof.Sample {
		if len(s.Value) > 0 {
			total += s.Value[0]
		}
	}
	return total
}
