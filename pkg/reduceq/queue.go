// Package reduceq implements the reducing queues that carry parameter
// writes between the controller and audio contexts: single-producer,
// single-consumer, keyed, where a newer write for a key replaces an
// older undrained one rather than queuing behind it. Slots live in a
// fixed open-addressed table of atomics, grounded on the bit-punned
// AtomicFloat64 in pkg/param/atomic.go, generalized from one global
// value per parameter into a table of them so neither Push nor Drain
// blocks the audio thread that calls them every block. Push never
// allocates; Drain allocates the map it returns whenever a key is pending.
package reduceq

import (
	"math"
	"sync/atomic"
)

// emptyKey marks a table slot that has never been claimed by a
// parameter id. uint32's max value is reserved and cannot itself be
// used as a parameter id.
const emptyKey = math.MaxUint32

// tableSize picks a power-of-two slot count keeping the table under
// 25% load for capacityHint distinct keys, so linear probing stays
// short. The table never grows past this; a key pushed once every slot
// is already claimed is silently dropped, same as a capacity-exceeded
// ring buffer.
func tableSize(capacityHint int) uint32 {
	n := uint32(16)
	for int(n) < capacityHint*4 {
		n <<= 1
	}
	return n
}

type valueSlot struct {
	key   atomic.Uint32
	bits  atomic.Int64
	dirty atomic.Bool
}

// ValueQueue is a reducing queue keyed by parameter id carrying a plain
// float64 value, used for the controller-to-audio parameter value and
// modulation channels.
type ValueQueue struct {
	slots []valueSlot
	mask  uint32
}

// NewValueQueue creates an empty value queue. capacityHint is the
// expected number of distinct parameter ids live at once; the backing
// table is sized from it and does not grow.
func NewValueQueue(capacityHint int) *ValueQueue {
	n := tableSize(capacityHint)
	q := &ValueQueue{slots: make([]valueSlot, n), mask: n - 1}
	for i := range q.slots {
		q.slots[i].key.Store(emptyKey)
	}
	return q
}

// find locates paramID's slot, claiming the first empty slot probed if
// paramID has never been pushed before. Returns nil if the table is
// full and paramID isn't already present.
func (q *ValueQueue) find(paramID uint32) *valueSlot {
	idx := paramID & q.mask
	for i := uint32(0); i <= q.mask; i++ {
		s := &q.slots[idx]
		switch s.key.Load() {
		case paramID:
			return s
		case emptyKey:
			if s.key.CompareAndSwap(emptyKey, paramID) || s.key.Load() == paramID {
				return s
			}
		}
		idx = (idx + 1) & q.mask
	}
	return nil
}

// Push writes value for paramID, overwriting any value queued for the
// same id that has not yet been drained. Safe to call from the single
// producer thread for this queue; never allocates.
func (q *ValueQueue) Push(paramID uint32, value float64) {
	s := q.find(paramID)
	if s == nil {
		return
	}
	s.bits.Store(int64(math.Float64bits(value)))
	s.dirty.Store(true)
}

// Drain removes and returns everything queued since the last drain.
// Each key appears at most once. Must be called from the single
// consumer thread for this queue.
func (q *ValueQueue) Drain() map[uint32]float64 {
	var out map[uint32]float64
	for i := range q.slots {
		s := &q.slots[i]
		if !s.dirty.CompareAndSwap(true, false) {
			continue
		}
		key := s.key.Load()
		if key == emptyKey {
			continue
		}
		if out == nil {
			out = make(map[uint32]float64, 4)
		}
		out[key] = math.Float64frombits(uint64(s.bits.Load()))
	}
	return out
}

// Feedback is the audio-to-controller parameter record: a value update,
// a gesture edge, or both. A zero value means "not present": HasValue
// and HasGesture discriminate absent fields.
type Feedback struct {
	HasValue     bool
	Value        float64
	HasGesture   bool
	GestureBegin bool
}

type feedbackSlot struct {
	key          atomic.Uint32
	valueBits    atomic.Int64
	hasValue     atomic.Bool
	gestureBegin atomic.Bool
	hasGesture   atomic.Bool
}

// FeedbackQueue is the audio-to-controller reducing queue: keyed by
// parameter id, merging rather than overwriting on each push. The value
// and gesture fields live behind independent atomics rather than one
// locked record, so a push that sets only one of them can never tear
// the other's in-flight state; §4.3's merge rule falls out of each
// field being pushed and drained independently.
type FeedbackQueue struct {
	slots []feedbackSlot
	mask  uint32
}

// NewFeedbackQueue creates an empty feedback queue sized the same way
// as NewValueQueue.
func NewFeedbackQueue(capacityHint int) *FeedbackQueue {
	n := tableSize(capacityHint)
	q := &FeedbackQueue{slots: make([]feedbackSlot, n), mask: n - 1}
	for i := range q.slots {
		q.slots[i].key.Store(emptyKey)
	}
	return q
}

func (q *FeedbackQueue) find(paramID uint32) *feedbackSlot {
	idx := paramID & q.mask
	for i := uint32(0); i <= q.mask; i++ {
		s := &q.slots[idx]
		switch s.key.Load() {
		case paramID:
			return s
		case emptyKey:
			if s.key.CompareAndSwap(emptyKey, paramID) || s.key.Load() == paramID {
				return s
			}
		}
		idx = (idx + 1) & q.mask
	}
	return nil
}

// Push merges rec into whatever is already queued for paramID: a field
// rec doesn't set is left untouched, so a pending field from an earlier
// undrained push survives.
func (q *FeedbackQueue) Push(paramID uint32, rec Feedback) {
	s := q.find(paramID)
	if s == nil {
		return
	}
	if rec.HasValue {
		s.valueBits.Store(int64(math.Float64bits(rec.Value)))
		s.hasValue.Store(true)
	}
	if rec.HasGesture {
		s.gestureBegin.Store(rec.GestureBegin)
		s.hasGesture.Store(true)
	}
}

// Drain removes and returns everything queued since the last drain.
func (q *FeedbackQueue) Drain() map[uint32]Feedback {
	var out map[uint32]Feedback
	for i := range q.slots {
		s := &q.slots[i]
		hadValue := s.hasValue.CompareAndSwap(true, false)
		hadGesture := s.hasGesture.CompareAndSwap(true, false)
		if !hadValue && !hadGesture {
			continue
		}
		key := s.key.Load()
		if key == emptyKey {
			continue
		}
		fb := Feedback{}
		if hadValue {
			fb.HasValue = true
			fb.Value = math.Float64frombits(uint64(s.valueBits.Load()))
		}
		if hadGesture {
			fb.HasGesture = true
			fb.GestureBegin = s.gestureBegin.Load()
		}
		if out == nil {
			out = make(map[uint32]Feedback, 4)
		}
		out[key] = fb
	}
	return out
}
