package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/meadowlarkdaw/dropseed-go/pkg/transport"
)

// TestTempoMapFrameBeatsRoundTrip checks that converting a frame position
// to beats and back lands within a one-frame rounding tolerance,
// regardless of sample rate or tempo.
func TestTempoMapFrameBeatsRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sampleRate := rapid.Float64Range(8000, 192000).Draw(rt, "sampleRate")
		bpm := rapid.Float64Range(20, 300).Draw(rt, "bpm")
		frame := rapid.Int64Range(0, 10_000_000).Draw(rt, "frame")

		m := transport.NewTempoMap(sampleRate, bpm, 4, 4)
		beats := m.FrameToBeats(frame)
		back := m.BeatsToNearestFrame(beats)

		diff := back - frame
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, int64(1))
	})
}

// TestTaskAdvancesPlayheadByExactFrameCountWhenNotLooping checks that, with
// looping disabled, the playhead advances by exactly the frame count of
// each Process call, for any sequence of block sizes.
func TestTaskAdvancesPlayheadByExactFrameCountWhenNotLooping(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := transport.NewTempoMap(48000, 120, 4, 4)
		h, task := transport.NewHandle(m)
		h.SetPlaying(true)

		blocks := rapid.SliceOfN(rapid.Uint32Range(1, 2048), 1, 20).Draw(rt, "blocks")

		var want int64
		for _, frames := range blocks {
			task.Process(frames)
			want += int64(frames)
			require.Equal(t, want, h.PlayheadFrame())
			require.Nil(t, task.LastLoopBack())
		}
	})
}

// TestTaskLoopWrapKeepsPlayheadWithinBounds checks that when a block
// crosses the loop end point, the transport wraps the remaining frames
// back to the loop start rather than running past the loop end, and
// reports the wrap via LoopBackInfo.
func TestTaskLoopWrapKeepsPlayheadWithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sampleRate := rapid.Int64Range(1000, 100000).Draw(rt, "sampleRate")
		loopLen := sampleRate // one beat at bpm=60 is exactly sampleRate frames

		chunk1 := rapid.Int64Range(1, loopLen-1).Draw(rt, "chunk1")
		chunk2 := rapid.Int64Range(loopLen-chunk1+1, loopLen).Draw(rt, "chunk2")

		m := transport.NewTempoMap(float64(sampleRate), 60, 4, 4)
		h, task := transport.NewHandle(m)
		h.SetPlaying(true)
		h.SetLoopState(transport.LoopState{Active: true, StartBeats: 0, EndBeats: 1})

		task.Process(uint32(chunk1))
		require.Nil(t, task.LastLoopBack())
		require.Equal(t, chunk1, h.PlayheadFrame())

		task.Process(uint32(chunk2))
		lb := task.LastLoopBack()
		require.NotNil(t, lb)
		require.Equal(t, chunk1, task.PlayheadFrame())
		require.Equal(t, int64(0), lb.LoopStartFrame)
		require.Equal(t, loopLen, lb.LoopEndFrame)

		wantEnd := chunk1 + chunk2 - loopLen
		require.Equal(t, wantEnd, lb.PlayheadEnd)
		require.GreaterOrEqual(t, lb.PlayheadEnd, int64(0))
		require.Less(t, lb.PlayheadEnd, loopLen)
		require.Equal(t, wantEnd, h.PlayheadFrame())
	})
}
