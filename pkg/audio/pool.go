package audio

// Pool hands out Buffers of a single Kind, reusing freed buffers of
// sufficient capacity before allocating new ones. The graph compiler's
// buffer-assignment phase keeps one of these per audio Kind it produces —
// KindAudio for node-declared ports, KindIntermediary for delay-comp and
// sum outputs — and returns a buffer to its pool once it has counted down
// every edge still expected to read it, so a later node's output can
// reuse the same Buffer once nothing in the schedule still needs its
// predecessor's data.
//
// Pool is a controller-context (C) type only: it is consulted while
// compiling a Schedule, never touched by the audio thread.
type Pool struct {
	kind      Kind
	free      []*Buffer
	nextIndex uint32
}

// NewPool creates an empty pool for the given buffer kind.
func NewPool(kind Kind) *Pool {
	return &Pool{kind: kind}
}

// Acquire returns a buffer with at least capacity samples, reusing a
// freed one if available, or allocating a fresh one otherwise.
func (p *Pool) Acquire(capacity uint32) *Buffer {
	for i, b := range p.free {
		if uint32(b.Capacity()) >= capacity {
			p.free = append(p.free[:i], p.free[i+1:]...)
			b.refs.Store(1)
			b.SetConstant(false)
			return b
		}
	}
	id := ID{Kind: p.kind, Index: p.nextIndex}
	p.nextIndex++
	return New(id, capacity)
}

// Release returns a buffer to the free list for reuse by a later
// allocation within the same compile pass.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	p.free = append(p.free, b)
}

// Len reports how many buffers are currently idle in the pool.
func (p *Pool) Len() int { return len(p.free) }
