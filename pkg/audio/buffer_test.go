package audio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowlarkdaw/dropseed-go/pkg/audio"
)

func TestBufferClearZeroesAndMarksConstant(t *testing.T) {
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 8)
	view, err := b.BorrowWrite(8)
	require.NoError(t, err)
	for i := range view {
		view[i] = float32(i + 1)
	}
	b.SetConstant(false)

	require.NoError(t, b.Clear(8))
	require.True(t, b.IsConstant())
	read, err := b.BorrowRead(8)
	require.NoError(t, err)
	for _, v := range read {
		require.Zero(t, v)
	}
}

func TestBufferBorrowRejectsOutOfRangeFrames(t *testing.T) {
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	_, err := b.BorrowRead(5)
	require.ErrorIs(t, err, audio.ErrInvalidRange)
	_, err = b.BorrowWrite(-1)
	require.ErrorIs(t, err, audio.ErrInvalidRange)
}

func TestBufferRetainReleaseRefCounting(t *testing.T) {
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	require.EqualValues(t, 1, b.RefCount())

	b.Retain()
	b.Retain()
	require.EqualValues(t, 3, b.RefCount())

	require.False(t, b.Release())
	require.False(t, b.Release())
	require.True(t, b.Release())
	require.EqualValues(t, 0, b.RefCount())
}

func TestCopyPropagatesConstantFlag(t *testing.T) {
	src := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	dst := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	require.NoError(t, src.Clear(4))

	view, _ := src.BorrowWrite(4)
	view[0] = 5
	src.SetConstant(false)

	require.NoError(t, audio.Copy(dst, src, 4))
	dstView, _ := dst.BorrowRead(4)
	require.Equal(t, []float32{5, 0, 0, 0}, dstView)
	require.False(t, dst.IsConstant())
}

func TestSumOfConstantInputsStaysConstant(t *testing.T) {
	a := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	out := audio.New(audio.ID{Kind: audio.KindAudio}, 4)

	fillConstant(t, a, 4, 1.5)
	fillConstant(t, b, 4, 2.5)

	require.NoError(t, audio.Sum(out, []*audio.Buffer{a, b}, 4))
	require.True(t, out.IsConstant())
	view, _ := out.BorrowRead(4)
	for _, v := range view {
		require.InDelta(t, 4.0, v, 1e-6)
	}
}

func TestSumOfNonConstantInputsIsElementwise(t *testing.T) {
	a := audio.New(audio.ID{Kind: audio.KindAudio}, 3)
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 3)
	out := audio.New(audio.ID{Kind: audio.KindAudio}, 3)

	av, _ := a.BorrowWrite(3)
	copy(av, []float32{1, 2, 3})
	a.SetConstant(false)
	bv, _ := b.BorrowWrite(3)
	copy(bv, []float32{10, 20, 30})
	b.SetConstant(false)

	require.NoError(t, audio.Sum(out, []*audio.Buffer{a, b}, 3))
	require.False(t, out.IsConstant())
	view, _ := out.BorrowRead(3)
	require.Equal(t, []float32{11, 22, 33}, view)
}

func TestRecomputeConstantDetectsUniformSamples(t *testing.T) {
	b := audio.New(audio.ID{Kind: audio.KindAudio}, 4)
	view, _ := b.BorrowWrite(4)
	copy(view, []float32{3, 3, 3, 3})
	require.NoError(t, b.RecomputeConstant(4))
	require.True(t, b.IsConstant())

	view[1] = 9
	require.NoError(t, b.RecomputeConstant(4))
	require.False(t, b.IsConstant())
}

func TestPoolAcquireReusesReleasedBufferOfSufficientCapacity(t *testing.T) {
	p := audio.NewPool(audio.KindAudio)
	first := p.Acquire(64)
	p.Release(first)
	require.Equal(t, 1, p.Len())

	second := p.Acquire(32)
	require.Same(t, first, second)
	require.Equal(t, 0, p.Len())
	require.EqualValues(t, 1, second.RefCount())
}

func TestPoolAcquireAllocatesFreshWhenNoneFit(t *testing.T) {
	p := audio.NewPool(audio.KindAudio)
	small := p.Acquire(16)
	p.Release(small)

	large := p.Acquire(128)
	require.NotSame(t, small, large)
	require.Equal(t, 128, large.Capacity())
}

func fillConstant(t *testing.T, b *audio.Buffer, frames int, v float32) {
	t.Helper()
	view, err := b.BorrowWrite(frames)
	require.NoError(t, err)
	for i := range view {
		view[i] = v
	}
	b.SetConstant(true)
}
