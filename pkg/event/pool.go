package event

import "sync"

// Pool recycles event Buffers across blocks to keep the audio thread
// allocation-free, using the same per-type sync.Pool pattern the rest
// of this codebase uses for event buffers.
type Pool struct {
	bufPool sync.Pool
}

// NewPool creates a new event pool.
func NewPool() *Pool {
	p := &Pool{}
	p.bufPool.New = func() interface{} { return NewBuffer() }
	return p
}

// GetBuffer returns a cleared Buffer from the pool.
func (p *Pool) GetBuffer() *Buffer {
	b := p.bufPool.Get().(*Buffer)
	b.Clear()
	return b
}

// PutBuffer returns a Buffer to the pool for reuse on a later block.
func (p *Pool) PutBuffer(b *Buffer) {
	if b == nil {
		return
	}
	p.bufPool.Put(b)
}
