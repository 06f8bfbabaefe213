// Package audio implements the lock-free shared buffer substrate:
// fixed-capacity, reference-counted audio/event buffers visible to both
// the controller context (C) and the audio context (A).
package audio

import (
	"errors"
	"sync/atomic"
)

// Common errors.
var (
	ErrInvalidRange = errors.New("audio: invalid sample range")
)

// Kind distinguishes the three buffer payload shapes a Schedule wires
// between tasks.
type Kind uint8

const (
	KindAudio Kind = iota
	KindNote
	KindAutomation
	// KindIntermediary marks a buffer the compiler allocated for a
	// delay-compensation or sum task rather than a graph port, so the
	// verifier and diagnostics can tell synthetic wiring from real ports.
	KindIntermediary
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindNote:
		return "note"
	case KindAutomation:
		return "automation"
	case KindIntermediary:
		return "intermediary"
	default:
		return "unknown"
	}
}

// ID is the debug identity used by the compiler's verifier to detect
// aliasing bugs in a candidate schedule.
type ID struct {
	Kind  Kind
	Index uint32
}

// Buffer is a fixed-capacity block of max_block_size samples (for audio)
// shared between the controller and audio threads. Its capacity never
// changes once allocated; the audio thread writes only within
// [0, frames) where frames <= Capacity().
//
// Ownership is reference-counted: any number of tasks in an active
// Schedule may hold a reference to the same Buffer. The buffer is
// returned to the deferred reclaimer (see pkg/engine) only when the
// last schedule referencing it is dropped.
type Buffer struct {
	id       ID
	samples  []float32
	constant atomic.Bool
	refs     atomic.Int64
}

// New allocates a buffer with the given sample capacity. capacity is
// max_block_size for audio buffers, or the max event count for
// note/automation buffers represented as a flat control payload.
func New(id ID, capacity uint32) *Buffer {
	b := &Buffer{
		id:      id,
		samples: make([]float32, capacity),
	}
	b.refs.Store(1)
	return b
}

// ID returns this buffer's debug identity.
func (b *Buffer) ID() ID { return b.id }

// Capacity returns the fixed sample capacity of the buffer.
func (b *Buffer) Capacity() int { return len(b.samples) }

// Retain increments the reference count.
func (b *Buffer) Retain() { b.refs.Add(1) }

// Release decrements the reference count and reports whether this was
// the last reference. The caller (the engine's deferred reclaimer) is
// responsible for recycling the buffer once true is returned.
func (b *Buffer) Release() bool {
	return b.refs.Add(-1) == 0
}

// RefCount returns the current reference count, for tests and
// diagnostics only.
func (b *Buffer) RefCount() int64 { return b.refs.Load() }

// BorrowRead returns a read-only view over the first frames samples.
// The verifier guarantees no task holding a BorrowRead on a buffer also
// holds a concurrent BorrowWrite on it from a different task in the
// same schedule.
func (b *Buffer) BorrowRead(frames int) ([]float32, error) {
	if frames < 0 || frames > len(b.samples) {
		return nil, ErrInvalidRange
	}
	return b.samples[:frames:frames], nil
}

// BorrowWrite returns a mutable view over the first frames samples.
func (b *Buffer) BorrowWrite(frames int) ([]float32, error) {
	if frames < 0 || frames > len(b.samples) {
		return nil, ErrInvalidRange
	}
	return b.samples[:frames], nil
}

// Clear zeroes the first frames samples and marks the buffer constant
// (all-zero is trivially constant).
func (b *Buffer) Clear(frames int) error {
	view, err := b.BorrowWrite(frames)
	if err != nil {
		return err
	}
	for i := range view {
		view[i] = 0
	}
	b.SetConstant(true)
	return nil
}

// IsConstant reports the advisory constant flag: true iff every sample
// written in [0, frames) is known to equal the first sample. Processors
// and sum tasks may use this to skip per-sample work.
func (b *Buffer) IsConstant() bool { return b.constant.Load() }

// SetConstant sets the advisory constant flag.
func (b *Buffer) SetConstant(v bool) { b.constant.Store(v) }

// RecomputeConstant scans [0, frames) and updates the constant flag to
// reflect whether all samples are equal. Used by the executor after the
// bridge copies driver input into a graph-input buffer.
func (b *Buffer) RecomputeConstant(frames int) error {
	view, err := b.BorrowRead(frames)
	if err != nil {
		return err
	}
	constant := true
	if len(view) > 0 {
		first := view[0]
		for _, s := range view[1:] {
			if s != first {
				constant = false
				break
			}
		}
	}
	b.SetConstant(constant)
	return nil
}

// Copy copies frames samples from src into dst and propagates the
// constant flag.
func Copy(dst, src *Buffer, frames int) error {
	srcView, err := src.BorrowRead(frames)
	if err != nil {
		return err
	}
	dstView, err := dst.BorrowWrite(frames)
	if err != nil {
		return err
	}
	copy(dstView, srcView)
	dst.SetConstant(src.IsConstant())
	return nil
}

// Sum writes the elementwise sum of all inputs into dst for the first
// frames samples. If every input is marked constant, the sum is
// computed once from sample 0 of each input and broadcast.
func Sum(dst *Buffer, inputs []*Buffer, frames int) error {
	dstView, err := dst.BorrowWrite(frames)
	if err != nil {
		return err
	}
	for i := range dstView {
		dstView[i] = 0
	}

	allConstant := len(inputs) > 0
	for _, in := range inputs {
		if !in.IsConstant() {
			allConstant = false
			break
		}
	}

	if allConstant {
		var total float32
		for _, in := range inputs {
			view, err := in.BorrowRead(frames)
			if err != nil {
				return err
			}
			if len(view) > 0 {
				total += view[0]
			}
		}
		for i := range dstView {
			dstView[i] = total
		}
		dst.SetConstant(true)
		return nil
	}

	for _, in := range inputs {
		view, err := in.BorrowRead(frames)
		if err != nil {
			return err
		}
		for i := 0; i < len(dstView) && i < len(view); i++ {
			dstView[i] += view[i]
		}
	}
	dst.SetConstant(false)
	return nil
}
