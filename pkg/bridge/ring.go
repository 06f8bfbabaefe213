package bridge

import "sync/atomic"

// ring is a single-producer single-consumer lock-free ring buffer of
// float32 samples, sized to a power of two so index wraparound is a
// mask rather than a modulo. No ecosystem library in the retrieval
// pack offers an SPSC float ring (see DESIGN.md); this is the one
// primitive in the port built directly on sync/atomic rather than a
// third-party queue.
type ring struct {
	buf  []float32
	mask uint64

	head atomic.Uint64 // next write index; advanced only by the producer
	tail atomic.Uint64 // next read index; advanced only by the consumer
}

// newRing allocates a ring able to hold at least capacity samples,
// rounded up to the next power of two.
func newRing(capacity int) *ring {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &ring{buf: make([]float32, size), mask: uint64(size - 1)}
}

// len reports the number of unread samples currently buffered.
func (r *ring) len() int {
	return int(r.head.Load() - r.tail.Load())
}

// free reports the number of samples that can be pushed before the ring
// is full.
func (r *ring) free() int {
	return len(r.buf) - r.len()
}

// push copies as many leading samples of src as fit and reports how
// many were written plus whether the ring was too full to take them
// all (an overrun).
func (r *ring) push(src []float32) (n int, overrun bool) {
	n = len(src)
	if avail := r.free(); n > avail {
		n = avail
		overrun = true
	}
	head := r.head.Load()
	for i := 0; i < n; i++ {
		r.buf[(head+uint64(i))&r.mask] = src[i]
	}
	r.head.Store(head + uint64(n))
	return n, overrun
}

// pop fills dst with the oldest buffered samples, returning how many
// were available.
func (r *ring) pop(dst []float32) int {
	n := len(dst)
	if avail := r.len(); n > avail {
		n = avail
	}
	tail := r.tail.Load()
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(tail+uint64(i))&r.mask]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// discard drops every currently buffered sample without reading it.
func (r *ring) discard() {
	r.tail.Store(r.head.Load())
}
