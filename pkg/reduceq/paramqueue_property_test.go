package reduceq_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/meadowlarkdaw/dropseed-go/pkg/reduceq"
)

// TestValueQueueLastWriteWins checks the reducing property any number of
// pushes to the same key must have: after a drain, the surviving value
// for each key is the last one pushed before that drain, and every key
// appears at most once.
func TestValueQueueLastWriteWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := reduceq.NewValueQueue(4)
		ids := rapid.SliceOfN(rapid.Uint32Range(0, 7), 1, 30).Draw(rt, "ids")
		values := rapid.SliceOfN(rapid.Float64(), len(ids), len(ids)).Draw(rt, "values")

		want := make(map[uint32]float64)
		for i, id := range ids {
			q.Push(id, values[i])
			want[id] = values[i]
		}

		got := q.Drain()
		require.Equal(t, len(want), len(got))
		for id, v := range want {
			gv, ok := got[id]
			require.True(t, ok)
			require.Equal(t, v, gv)
		}
	})
}

func TestValueQueueDrainIsEmptyAfterward(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := reduceq.NewValueQueue(4)
		n := rapid.IntRange(0, 10).Draw(rt, "n")
		for i := 0; i < n; i++ {
			q.Push(uint32(i), float64(i))
		}
		_ = q.Drain()
		require.Nil(t, q.Drain())
	})
}

// TestFeedbackQueueMergesFieldwise checks §4.3's merge rule: a field set
// on a newer push overwrites, a field left unset on the newer push keeps
// whatever the older push contributed, independent of push order within
// one drain window.
func TestFeedbackQueueMergesFieldwise(t *testing.T) {
	q := reduceq.NewFeedbackQueue(1)
	q.Push(5, reduceq.Feedback{HasValue: true, Value: 0.25})
	q.Push(5, reduceq.Feedback{HasGesture: true, GestureBegin: true})

	got := q.Drain()
	require.Len(t, got, 1)
	fb := got[5]
	require.True(t, fb.HasValue)
	require.Equal(t, 0.25, fb.Value)
	require.True(t, fb.HasGesture)
	require.True(t, fb.GestureBegin)
}

func TestFeedbackQueueNewerValueOverwritesOlder(t *testing.T) {
	q := reduceq.NewFeedbackQueue(1)
	q.Push(1, reduceq.Feedback{HasValue: true, Value: 0.1})
	q.Push(1, reduceq.Feedback{HasValue: true, Value: 0.9})

	got := q.Drain()
	require.Equal(t, 0.9, got[1].Value)
}
