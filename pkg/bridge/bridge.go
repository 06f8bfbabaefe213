// Package bridge carries interleaved audio between an external driver
// callback and the engine's block-aligned executor across two
// single-producer single-consumer ring buffers, matching the
// driver-callback/engine-worker split the rest of this port keeps
// between the controller and audio contexts. Grounded on the
// process-call plumbing of pkg/pluginhost/task.go, generalized from one
// plug-in's native buffer view to the whole schedule's interleaved I/O
// boundary, and on original_source/src/engine/audio_thread.rs for the
// spin-wait/overrun shape of the driver-facing half.
package bridge

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/meadowlarkdaw/dropseed-go/internal/ctxcheck"
	"github.com/meadowlarkdaw/dropseed-go/internal/dlog"
	"github.com/meadowlarkdaw/dropseed-go/pkg/executor"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
)

// secondsOfBuffer is how much interleaved audio each ring holds,
// bounding how far the driver and engine can drift apart before an
// overrun.
const secondsOfBuffer = 3

// Bridge owns the two rings connecting an audio driver to the engine's
// schedule executor, plus the atomically-published schedule pointer the
// engine worker reads once per cycle.
type Bridge struct {
	sampleRate  float64
	inChannels  int
	outChannels int
	blockSize   int

	toEngine *ring // driver → engine worker, interleaved input
	toDriver *ring // engine worker → driver, interleaved output

	framesWanted atomic.Uint32 // set by the driver when inChannels == 0

	sched      atomic.Pointer[schedule.Schedule]
	steadyTime atomic.Int64

	// startedVersion is the Version of the schedule A most recently began
	// executing. The deferred reclaimer reads this to tell which
	// superseded schedules A has provably moved past.
	startedVersion atomic.Uint64

	log *dlog.Logger
}

// NewBridge creates a bridge sized for the given format. blockSize is
// the executor's max_block_size; rings are sized for secondsOfBuffer
// seconds of audio so driver and engine can tolerate short stalls
// without an overrun.
func NewBridge(sampleRate float64, inChannels, outChannels, blockSize int, log *dlog.Logger) *Bridge {
	if log == nil {
		log = dlog.Default()
	}
	capacity := int(sampleRate * secondsOfBuffer)
	b := &Bridge{
		sampleRate:  sampleRate,
		inChannels:  inChannels,
		outChannels: outChannels,
		blockSize:   blockSize,
		toDriver:    newRing(capacity * max(outChannels, 1)),
		log:         log,
	}
	b.steadyTime.Store(-1)
	if inChannels > 0 {
		b.toEngine = newRing(capacity * inChannels)
	}
	b.sched.Store(schedule.Empty(blockSize))
	return b
}

// SwapSchedule atomically publishes a newly compiled schedule for the
// engine worker to pick up on its next cycle.
func (b *Bridge) SwapSchedule(s *schedule.Schedule) {
	if s == nil {
		s = schedule.Empty(b.blockSize)
	}
	b.sched.Store(s)
}

// StartedVersion returns the Version of the schedule A most recently
// began executing. Any retained schedule with a strictly smaller
// version is one A has already moved past and is safe to reclaim.
func (b *Bridge) StartedVersion() uint64 { return b.startedVersion.Load() }

// CurrentSchedule returns the schedule most recently published via
// SwapSchedule, for the engine facade to retain for deferred reclaim.
func (b *Bridge) CurrentSchedule() *schedule.Schedule { return b.sched.Load() }

// PushInput is the driver's input call path: buf is interleaved samples
// for channels channels, converted to the bridge's declared input
// channel count and pushed onto the engine-bound ring. Called from the
// driver thread.
func (b *Bridge) PushInput(channels int, buf []float32) {
	if b.inChannels == 0 || channels == 0 || len(buf) == 0 {
		return
	}
	frames := len(buf) / channels
	converted := make([]float32, frames*b.inChannels)
	fanInterleaved(buf, channels, converted, b.inChannels, frames)
	if _, overrun := b.toEngine.push(converted); overrun {
		b.log.Warn("bridge: input ring overrun, dropping %d frames", frames)
	}
}

// ProcessInterleavedOutputOnly is the driver callback entry point: buf
// is filled with len(buf)/channels frames of interleaved output. Called
// from the driver thread; allocates a frames*outChannels scratch slice
// on every call that finds enough output ready, and spins rather than
// blocking past its deadline.
func (b *Bridge) ProcessInterleavedOutputOnly(channels int, buf []float32) {
	if channels == 0 || len(buf) == 0 {
		return
	}
	frames := len(buf) / channels

	if b.inChannels == 0 {
		b.framesWanted.Store(uint32(frames))
	}

	// Discard whatever stale output a missed prior deadline left
	// sitting in the ring so this cycle always reads fresh samples.
	b.toDriver.discard()

	need := frames * b.outChannels
	deadline := time.Now().Add(time.Duration(float64(frames) / b.sampleRate * 0.9 * float64(time.Second)))
	for b.toDriver.len() < need && time.Now().Before(deadline) {
		runtime.Gosched()
	}

	if b.toDriver.len() < need {
		for i := range buf {
			buf[i] = 0
		}
		b.log.Warn("bridge: audio underrun, emitting silence for %d frames", frames)
		return
	}

	produced := make([]float32, need)
	b.toDriver.pop(produced)
	fanInterleaved(produced, b.outChannels, buf, channels, frames)
}

// RunEngineWorker drives the schedule executor on the calling goroutine
// until ctx is cancelled or the output ring overruns. This goroutine is
// the audio context (A): once started it never blocks on I/O, and its own
// fixed-size scratch buffers are claimed once up front. The schedule's
// tasks it runs are not allocation-free: PluginTask builds fresh buffer
// views each block, and a non-empty parameter-queue drain returns a new map.
func (b *Bridge) RunEngineWorker(ctx context.Context) {
	ctxcheck.MarkAudio()
	defer ctxcheck.UnmarkAudio()

	inScratch := make([]float32, b.blockSize*max(b.inChannels, 1))
	inPlanar := make([][]float32, max(b.inChannels, 0))
	for i := range inPlanar {
		inPlanar[i] = make([]float32, b.blockSize)
	}
	outPlanar := make([][]float32, b.outChannels)
	for i := range outPlanar {
		outPlanar[i] = make([]float32, b.blockSize)
	}
	outScratch := make([]float32, b.blockSize*b.outChannels)

	for {
		if ctx.Err() != nil {
			return
		}

		frames := b.blockSize
		if b.inChannels == 0 {
			var fw uint32
			for {
				if fw = b.framesWanted.Swap(0); fw != 0 {
					break
				}
				if ctx.Err() != nil {
					return
				}
				runtime.Gosched()
			}
			frames = int(fw)
			if frames > b.blockSize {
				frames = b.blockSize
			}
		} else {
			need := frames * b.inChannels
			for b.toEngine.len() < need {
				if ctx.Err() != nil {
					return
				}
				runtime.Gosched()
			}
			b.toEngine.pop(inScratch[:need])
			deinterleave(inScratch[:need], b.inChannels, frames, inPlanar)
		}

		for ch := range outPlanar {
			for i := 0; i < frames; i++ {
				outPlanar[ch][i] = 0
			}
		}

		ctxcheck.AssertAudio("RunEngineWorker block")
		sched := b.sched.Load()
		b.startedVersion.Store(sched.Version)
		steady := executor.Run(sched, inPlanar, outPlanar, frames, b.steadyTime.Load())
		b.steadyTime.Store(steady)

		outN := frames * b.outChannels
		interleave(outPlanar, b.outChannels, frames, outScratch[:outN])
		if _, overrun := b.toDriver.push(outScratch[:outN]); overrun {
			b.log.Error("bridge: output ring overrun, engine worker stopping")
			return
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// deinterleave splits a flat interleaved buffer of frames*channels
// samples into dst[channel][0:frames]; each dst row must already have
// at least frames capacity.
func deinterleave(flat []float32, channels, frames int, dst [][]float32) {
	for ch := 0; ch < channels; ch++ {
		dst[ch] = dst[ch][:frames]
		for i := 0; i < frames; i++ {
			dst[ch][i] = flat[i*channels+ch]
		}
	}
}

// interleave packs planar channel buffers into a flat interleaved
// destination.
func interleave(src [][]float32, channels, frames int, dst []float32) {
	for ch := 0; ch < channels && ch < len(src); ch++ {
		for i := 0; i < frames && i < len(src[ch]); i++ {
			dst[i*channels+ch] = src[ch][i]
		}
	}
}

// fanInterleaved re-channels an interleaved buffer from srcChannels to
// dstChannels, fanning the last source channel out to any extra
// destination channels or truncating extras away, per §4.8's
// "translating interleaved channel counts" step.
func fanInterleaved(src []float32, srcChannels int, dst []float32, dstChannels, frames int) {
	for i := 0; i < frames; i++ {
		for ch := 0; ch < dstChannels; ch++ {
			srcCh := ch
			if srcCh >= srcChannels {
				srcCh = srcChannels - 1
			}
			var v float32
			if srcCh >= 0 {
				v = src[i*srcChannels+srcCh]
			}
			dst[i*dstChannels+ch] = v
		}
	}
}
