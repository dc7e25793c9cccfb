// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/coralml/rcforest/internal/rcflog"
)

// sampleEntry is the (pointHandle, weight, sequenceIndex) tuple of spec
// §3. The sampler maintains up to capacity such entries as a max-heap on
// weight, so the current candidate for eviction is always at index 0.
type sampleEntry struct {
	handle int
	weight float64
	seq    int64
}

// entryHeap implements container/heap.Interface as a max-heap on weight.
type entryHeap []sampleEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].weight > h[j].weight } // max-heap
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(sampleEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sampler is a per-tree time-decayed weighted reservoir.
// Each tree and its sampler own an independent PRNG seeded from the
// forest seed - there is no shared global rand source.
type sampler struct {
	capacity              int
	lambda                float64
	initialAcceptFraction float64
	entriesSeen           int64
	mostRecentLambdaSeq   int64
	rng                   *rand.Rand
	heap                  entryHeap
}

func newSampler(capacity int, lambda float64, rng *rand.Rand) *sampler {
	return &sampler{
		capacity:              capacity,
		lambda:                lambda,
		initialAcceptFraction: 1.0,
		rng:                   rng,
		heap:                  make(entryHeap, 0, capacity),
	}
}

func (s *sampler) size() int { return len(s.heap) }

// acceptDecision is the outcome of weighing a newly-seen sequence index
// against the current reservoir, before any point-store or tree mutation
// has happened.
type acceptDecision struct {
	accepted      bool
	warmup        bool
	weight        float64
	evictedHandle int
	evictedSeq    int64
}

// weightFor computes spec §4.3's weight = ln(u) - λ*s. u is drawn from
// (0,1), excluding 0 so log is finite (spec §9 open question: either
// monotone transform is acceptable, this repo fixes this variant).
func (s *sampler) weightFor(seq int64) float64 {
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	return math.Log(u) - s.lambda*float64(seq)
}

// accept decides whether the i-th seen entry (sequence index seq) should
// be retained. It counts the entry in entriesSeen and draws from the
// sampler's PRNG, but leaves the reservoir itself unchanged - the caller
// (forest) must call commit with the outcome once any corresponding
// point-store/tree work has completed, so a rejected point never touches
// shared state.
func (s *sampler) accept(seq int64) acceptDecision {
	s.entriesSeen++
	weight := s.weightFor(seq)

	if len(s.heap) < s.capacity {
		// size<capacity always inserts unconditionally; there is nothing
		// to evict yet regardless of initialAcceptFraction, so this
		// branch is always a warmup accept.
		return acceptDecision{accepted: true, warmup: true, weight: weight, evictedHandle: noHandle}
	}

	top := s.heap[0]
	if weight < top.weight {
		return acceptDecision{accepted: true, warmup: false, weight: weight, evictedHandle: top.handle, evictedSeq: top.seq}
	}
	return acceptDecision{accepted: false}
}

// commit applies an accepted decision: evicting the old max-weight entry
// (if any) and inserting the new one.
func (s *sampler) commit(d acceptDecision, handle int, seq int64) {
	if !d.accepted {
		panicInvariant("sampler.commit", "commit called on rejected decision")
	}
	if d.evictedHandle != noHandle {
		heap.Pop(&s.heap)
		rcflog.Debugf("sampler: evicted handle=%d seq=%d for handle=%d seq=%d", d.evictedHandle, d.evictedSeq, handle, seq)
	}
	heap.Push(&s.heap, sampleEntry{handle: handle, weight: d.weight, seq: seq})
}

// entries returns a snapshot of all current sample entries, for state
// serialization and testing.
func (s *sampler) entries() []sampleEntry {
	out := make([]sampleEntry, len(s.heap))
	copy(out, s.heap)
	return out
}

// reset empties the sampler, as when a forest is reset.
func (s *sampler) reset() {
	s.heap = s.heap[:0]
	s.entriesSeen = 0
}
