// Package transport implements the musical-time state machine driving
// playhead, loop, and tempo. Grounded on
// original_source/src/transport/mod.rs, translated from the Rust
// Shared<SharedCell<Parameters>> publish pattern into a single
// atomically-swapped Go struct pointer, matching how the rest of this
// port treats controller-to-audio publication: a cell that atomically
// publishes immutable values allocated on the controller context.
package transport

import (
	"sync/atomic"

	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
)

// LoopState describes whether looping is active and, if so, its bounds
// in beats.
type LoopState struct {
	Active     bool
	StartBeats float64
	EndBeats   float64
}

// parameters is the controller-writable state, published atomically and
// read once per block by the audio-thread Task.
type parameters struct {
	seekTo        float64 // beats
	seekVersion   uint64
	isPlaying     bool
	loopState     LoopState
	loopVersion   uint64
}

// Handle is the controller-context (C) half of the transport: the
// methods user edits call.
type Handle struct {
	params    atomic.Pointer[parameters]
	tempoMap  atomic.Pointer[TempoMap]
	playhead  atomic.Int64 // published frame position, read by C
}

// NewHandle creates a paired Handle/Task sharing the same tempo map and
// parameter cell.
func NewHandle(tempoMap *TempoMap) (*Handle, *Task) {
	h := &Handle{}
	h.params.Store(&parameters{})
	h.tempoMap.Store(tempoMap)

	t := &Task{
		handle:   h,
		tempoMap: tempoMap,
	}
	return h, t
}

func (h *Handle) clone() *parameters {
	p := *h.params.Load()
	return &p
}

// SeekTo requests the playhead jump to the given beat position on the
// transport's next block.
func (h *Handle) SeekTo(beats float64) {
	p := h.clone()
	p.seekTo = beats
	p.seekVersion++
	h.params.Store(p)
}

// SetPlaying starts or stops playback.
func (h *Handle) SetPlaying(playing bool) {
	p := h.clone()
	p.isPlaying = playing
	h.params.Store(p)
}

// SetLoopState changes the loop region or disables looping.
func (h *Handle) SetLoopState(state LoopState) {
	p := h.clone()
	p.loopState = state
	p.loopVersion++
	h.params.Store(p)
}

// UpdateTempoMap atomically republishes a new tempo map, called when the
// graph's tempo map changes.
func (h *Handle) UpdateTempoMap(m *TempoMap) {
	h.tempoMap.Store(m)
}

// PlayheadFrame returns the last frame position the audio thread
// published.
func (h *Handle) PlayheadFrame() int64 { return h.playhead.Load() }

// LoopBackInfo describes a loop wrap that occurred within a block.
type LoopBackInfo struct {
	LoopStartFrame int64
	LoopEndFrame   int64
	PlayheadEnd    int64
}

// rangeChecker answers IsRangeActive/IsFrameActive queries against the
// frame span the current block covers, including the loop-split case
// (original_source/src/transport/mod.rs RangeChecker).
type rangeChecker struct {
	playing  bool
	looping  bool
	endFrame int64 // valid when playing && !looping

	endFrame1   int64
	startFrame2 int64
	endFrame2   int64
}

// IsRangeActive reports whether [start, end) overlaps the span the
// transport is currently active over.
func (r rangeChecker) IsRangeActive(playhead, start, end int64) bool {
	if !r.playing {
		return false
	}
	if r.looping {
		return (playhead < end && start < r.endFrame1) || (r.startFrame2 < end && start < r.endFrame2)
	}
	return playhead < end && start < r.endFrame
}

// IsFrameActive reports whether a single frame falls within the active
// span.
func (r rangeChecker) IsFrameActive(playhead, frame int64) bool {
	if !r.playing {
		return false
	}
	if r.looping {
		return (frame >= playhead && frame < r.endFrame1) || (frame >= r.startFrame2 && frame < r.endFrame2)
	}
	return frame >= playhead && frame < r.endFrame
}

// Task is the audio-context (A) half: the per-block process loop calls
// Process exactly once per executor pass.
type Task struct {
	handle   *Handle
	tempoMap *TempoMap

	playheadFrame     int64
	nextPlayheadFrame int64
	isPlaying         bool
	loopActive        bool
	loopStartFrame    int64
	loopEndFrame      int64

	seekVersion uint64
	loopVersion uint64

	loopBack *LoopBackInfo
	rc       rangeChecker
}

// Process advances the transport by frames samples and returns at most
// one TransportEvent plus loop-back information for this block.
func (t *Task) Process(frames uint32) (*event.TransportEvent, *LoopBackInfo) {
	p := t.handle.params.Load()

	if newMap := t.handle.tempoMap.Load(); newMap != t.tempoMap {
		// Tempo changed: recompute the frame position from musical time
		// so the playhead's musical position survives a tempo change.
		beats := t.tempoMap.FrameToBeats(t.playheadFrame)
		t.tempoMap = newMap
		t.nextPlayheadFrame = t.tempoMap.BeatsToNearestFrame(beats)
	}

	loopChanged := p.loopVersion != t.loopVersion
	if loopChanged {
		t.loopVersion = p.loopVersion
		t.loopActive = p.loopState.Active
		if t.loopActive {
			t.loopStartFrame = t.tempoMap.BeatsToNearestFrame(p.loopState.StartBeats)
			t.loopEndFrame = t.tempoMap.BeatsToNearestFrame(p.loopState.EndBeats)
		}
	}

	seeked := p.seekVersion != t.seekVersion
	if seeked {
		t.seekVersion = p.seekVersion
		t.nextPlayheadFrame = t.tempoMap.BeatsToNearestFrame(p.seekTo)
	}

	wasPlaying := t.isPlaying
	t.isPlaying = p.isPlaying
	t.loopBack = nil
	t.playheadFrame = t.nextPlayheadFrame

	doReturnEvent := wasPlaying || t.isPlaying || loopChanged || seeked

	var tempo, tempoInc float64
	var barNumber int32
	var barStartBeats float64

	if t.isPlaying {
		procFrames := int64(frames)
		didLoop := false
		if t.loopActive && t.playheadFrame < t.loopEndFrame && t.playheadFrame+procFrames >= t.loopEndFrame {
			firstFrames := t.loopEndFrame - t.playheadFrame
			secondFrames := procFrames - firstFrames

			t.rc = rangeChecker{
				playing:     true,
				looping:     true,
				endFrame1:   t.loopEndFrame,
				startFrame2: t.loopStartFrame,
				endFrame2:   t.loopStartFrame + secondFrames,
			}

			t.nextPlayheadFrame = t.loopStartFrame + secondFrames
			t.loopBack = &LoopBackInfo{
				LoopStartFrame: t.loopStartFrame,
				LoopEndFrame:   t.loopEndFrame,
				PlayheadEnd:    t.nextPlayheadFrame,
			}
			didLoop = true
		}

		if !didLoop {
			t.nextPlayheadFrame = t.playheadFrame + procFrames
			t.rc = rangeChecker{playing: true, looping: false, endFrame: t.nextPlayheadFrame}
		}

		tempo = t.tempoMap.BPM
		tempoInc = t.tempoMap.TempoIncrement()
		barNumber, barStartBeats = t.tempoMap.BarAt(t.playheadFrame)
	} else {
		t.rc = rangeChecker{playing: false}
	}

	t.handle.playhead.Store(t.nextPlayheadFrame)

	if !doReturnEvent {
		return nil, t.loopBack
	}

	flags := event.FlagHasTempo | event.FlagHasBeatsTime | event.FlagHasSecondsTime | event.FlagHasTimeSignature
	if t.isPlaying {
		flags |= event.FlagIsPlaying
	} else {
		tempoInc = 0
	}
	if t.loopActive {
		flags |= event.FlagIsLoopActive
	}

	ev := &event.TransportEvent{
		Flags:              flags,
		SongPosBeats:       t.tempoMap.FrameToBeats(t.playheadFrame),
		SongPosSeconds:     t.tempoMap.FrameToSeconds(t.playheadFrame),
		Tempo:              tempo,
		TempoInc:           tempoInc,
		BarNumber:          barNumber,
		BarStartBeats:      barStartBeats,
		TimeSignatureNum:   t.tempoMap.TimeSignatureNum,
		TimeSignatureDenom: t.tempoMap.TimeSignatureDenom,
	}
	return ev, t.loopBack
}

// IsRangeActive reports whether [start, end) overlaps the range this
// block is active over.
func (t *Task) IsRangeActive(start, end int64) bool {
	return t.rc.IsRangeActive(t.playheadFrame, start, end)
}

// IsFrameActive reports whether a single frame is within the active
// range for this block.
func (t *Task) IsFrameActive(frame int64) bool {
	return t.rc.IsFrameActive(t.playheadFrame, frame)
}

// PlayheadFrame returns the playhead position at the start of the block
// just processed.
func (t *Task) PlayheadFrame() int64 { return t.playheadFrame }

// LastLoopBack returns the loop-back descriptor produced by the most
// recent Process call, or nil if the block did not wrap the loop.
func (t *Task) LastLoopBack() *LoopBackInfo { return t.loopBack }
