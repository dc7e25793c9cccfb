// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

// shingleBuilder turns a stream of base points of dimension baseDim into
// shingled points of dimension size*baseDim by holding the size most
// recent base points (spec Glossary "Shingle", §8 scenario 6). Sliding
// mode shifts the window left and appends the new point at the end;
// cyclic mode overwrites the oldest slot in place and rotates which slot
// is "oldest" next time, matching spec §8 scenario 6 literally:
//
//	sliding: 1,2,3,4,5,6 -> [1,2,3,4],[2,3,4,5],[3,4,5,6]
//	cyclic:  1,2,3,4,5,6 -> [1,2,3,4],[5,2,3,4],[5,6,3,4]
type shingleBuilder struct {
	baseDim int
	size    int
	cyclic  bool

	buf   []float64 // size*baseDim; oldest-to-newest in sliding mode, slots written round-robin in cyclic mode
	count int        // number of base points absorbed so far, capped display at size
	next  int         // cyclic mode: slot index to overwrite next
}

func newShingleBuilder(baseDim, size int, cyclic bool) *shingleBuilder {
	return &shingleBuilder{
		baseDim: baseDim,
		size:    size,
		cyclic:  cyclic,
		buf:     make([]float64, size*baseDim),
	}
}

// push absorbs one base point. It returns (shingled, true) once the
// window is full; before that, (nil, false).
func (s *shingleBuilder) push(point []float64) ([]float64, bool) {
	if s.cyclic {
		slot := s.next
		copy(s.buf[slot*s.baseDim:(slot+1)*s.baseDim], point)
		s.next = (s.next + 1) % s.size
	} else {
		copy(s.buf, s.buf[s.baseDim:])
		copy(s.buf[(s.size-1)*s.baseDim:], point)
	}
	if s.count < s.size {
		s.count++
	}
	if s.count < s.size {
		return nil, false
	}
	out := make([]float64, len(s.buf))
	copy(out, s.buf)
	return out, true
}

// full reports whether the window has absorbed at least size points.
func (s *shingleBuilder) full() bool { return s.count >= s.size }

// reset empties the shingle buffer, as when a forest is reset.
func (s *shingleBuilder) reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.count = 0
	s.next = 0
}
