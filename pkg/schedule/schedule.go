// Package schedule defines the compiled, buffer-assigned task list the
// executor drives once per block, and the task variants the compiler
// emits. Grounded on the single-owner task-list pattern the verifier in
// pkg/compiler enforces; the task variants mirror the original engine's task taxonomy.
package schedule

import (
	"github.com/meadowlarkdaw/dropseed-go/pkg/audio"
	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/transport"
)

// Task is anything the executor can drive once per block.
type Task interface {
	Process(info process.Info)
}

// BufferUser exposes the buffers a task reads from and writes to, keyed
// by pointer identity. The compiler's verifier (§4.6 Phase 4) walks every
// task's WriteBuffers/ReadBuffers to statically rule out aliasing bugs
// before a schedule is ever swapped onto the audio thread.
type BufferUser interface {
	ReadBuffers() []any
	WriteBuffers() []any
}

func audioPtrs(bufs []*audio.Buffer) []any {
	out := make([]any, 0, len(bufs))
	for _, b := range bufs {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func eventPtrs(bufs ...*event.Buffer) []any {
	out := make([]any, 0, len(bufs))
	for _, b := range bufs {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// PluginTask wraps a hosted plug-in's audio-side Task with the shared
// buffers the compiler assigned it.
type PluginTask struct {
	ID   graph.PluginID
	Task *pluginhost.Task

	AudioIn, AudioOut []*audio.Buffer
	NoteIn, NoteOut   []*event.Buffer
	AutomationIn      *event.Buffer
	AutomationOut     *event.Buffer
	HasAutomationOut  bool

	FramesThisBlock int
}

func (t *PluginTask) ReadBuffers() []any {
	out := audioPtrs(t.AudioIn)
	out = append(out, eventPtrs(t.NoteIn...)...)
	out = append(out, eventPtrs(t.AutomationIn)...)
	return out
}

func (t *PluginTask) WriteBuffers() []any {
	out := audioPtrs(t.AudioOut)
	out = append(out, eventPtrs(t.NoteOut...)...)
	out = append(out, eventPtrs(t.AutomationOut)...)
	return out
}

func (t *PluginTask) Process(info process.Info) {
	buffers := pluginhost.ProcessBuffers{
		AudioIn:          viewAll(t.AudioIn, int(info.Frames)),
		AudioOut:         viewAll(t.AudioOut, int(info.Frames)),
		AutomationOut:    t.AutomationOut,
		HasAutomationOut: t.HasAutomationOut,
	}
	t.Task.NoteInPorts = t.NoteIn
	t.Task.NoteOutPorts = t.NoteOut
	t.Task.AutomationIn = t.AutomationIn
	t.Task.AutomationOut = t.AutomationOut
	t.Task.Process(info, buffers)
}

func viewAll(buffers []*audio.Buffer, frames int) [][]float32 {
	out := make([][]float32, len(buffers))
	for i, b := range buffers {
		view, err := b.BorrowWrite(frames)
		if err != nil {
			view = nil
		}
		out[i] = view
	}
	return out
}

// UnloadedPluginTask wires inputs through to outputs for a plug-in that
// failed to load or is inactive.
type UnloadedPluginTask struct {
	AudioThrough    [][2]*audio.Buffer // [0]=in, [1]=out, min channel count pairs
	NoteThrough     [2]*event.Buffer
	HasNoteThrough  bool
	ClearAudioOut   []*audio.Buffer
	ClearNoteOut    []*event.Buffer
	ClearAutomation *event.Buffer
}

func (t *UnloadedPluginTask) ReadBuffers() []any {
	out := make([]any, 0, len(t.AudioThrough))
	for _, pair := range t.AudioThrough {
		if pair[0] != nil {
			out = append(out, pair[0])
		}
	}
	if t.HasNoteThrough {
		out = append(out, eventPtrs(t.NoteThrough[0])...)
	}
	return out
}

func (t *UnloadedPluginTask) WriteBuffers() []any {
	out := make([]any, 0, len(t.AudioThrough)+len(t.ClearAudioOut))
	for _, pair := range t.AudioThrough {
		if pair[1] != nil {
			out = append(out, pair[1])
		}
	}
	out = append(out, audioPtrs(t.ClearAudioOut)...)
	if t.HasNoteThrough {
		out = append(out, eventPtrs(t.NoteThrough[1])...)
	}
	out = append(out, eventPtrs(t.ClearNoteOut...)...)
	out = append(out, eventPtrs(t.ClearAutomation)...)
	return out
}

func (t *UnloadedPluginTask) Process(info process.Info) {
	frames := int(info.Frames)
	for _, pair := range t.AudioThrough {
		_ = audio.Copy(pair[1], pair[0], frames)
	}
	if t.HasNoteThrough {
		t.NoteThrough[1].Clear()
		for _, n := range t.NoteThrough[0].Notes() {
			t.NoteThrough[1].PushNote(n)
		}
	}
	for _, b := range t.ClearAudioOut {
		_ = b.Clear(frames)
	}
	for _, b := range t.ClearNoteOut {
		b.Clear()
	}
	if t.ClearAutomation != nil {
		t.ClearAutomation.Clear()
	}
}

// DelayCompTask advances a per-key ring buffer of length Delay samples.
type DelayCompTask struct {
	Key   DelayCompKey
	Delay int

	AudioIn, AudioOut *audio.Buffer

	ring    []float32
	ringPos int
}

// DelayCompKey identifies a delay line across compiler runs so the same
// ring survives recompilation without audible clicks.
type DelayCompKey struct {
	DelaySamples   int
	SourceNode     uint32
	PortStableID   uint32
	PortChannel    uint16
}

func NewDelayCompTask(key DelayCompKey, in, out *audio.Buffer) *DelayCompTask {
	return &DelayCompTask{Key: key, Delay: key.DelaySamples, AudioIn: in, AudioOut: out, ring: make([]float32, key.DelaySamples)}
}

func (t *DelayCompTask) ReadBuffers() []any  { return audioPtrs([]*audio.Buffer{t.AudioIn}) }
func (t *DelayCompTask) WriteBuffers() []any { return audioPtrs([]*audio.Buffer{t.AudioOut}) }

func (t *DelayCompTask) Process(info process.Info) {
	frames := int(info.Frames)
	in, err := t.AudioIn.BorrowRead(frames)
	if err != nil {
		return
	}
	out, err := t.AudioOut.BorrowWrite(frames)
	if err != nil {
		return
	}
	if t.Delay == 0 {
		copy(out, in)
		t.AudioOut.SetConstant(t.AudioIn.IsConstant())
		return
	}
	allConstant := t.AudioIn.IsConstant()
	for i := 0; i < frames; i++ {
		out[i] = t.ring[t.ringPos]
		t.ring[t.ringPos] = in[i]
		t.ringPos = (t.ringPos + 1) % len(t.ring)
		if i > 0 && out[i] != out[0] {
			allConstant = false
		}
	}
	t.AudioOut.SetConstant(allConstant)
}

// AudioSumTask writes the elementwise sum of its inputs into its
// output.
type AudioSumTask struct {
	Inputs []*audio.Buffer
	Output *audio.Buffer
}

func (t *AudioSumTask) ReadBuffers() []any  { return audioPtrs(t.Inputs) }
func (t *AudioSumTask) WriteBuffers() []any { return audioPtrs([]*audio.Buffer{t.Output}) }

func (t *AudioSumTask) Process(info process.Info) {
	_ = audio.Sum(t.Output, t.Inputs, int(info.Frames))
}

// NoteSumTask copies the notes of every input note buffer into the
// output, input by input; the merged notes are not re-sorted by time.
type NoteSumTask struct {
	Inputs []*event.Buffer
	Output *event.Buffer
}

func (t *NoteSumTask) ReadBuffers() []any  { return eventPtrs(t.Inputs...) }
func (t *NoteSumTask) WriteBuffers() []any { return eventPtrs(t.Output) }

func (t *NoteSumTask) Process(info process.Info) {
	t.Output.Clear()
	for _, in := range t.Inputs {
		for _, n := range in.Notes() {
			t.Output.PushNote(n)
		}
	}
}

// ParamEventSumTask merges all input automation event buffers into the
// output.
type ParamEventSumTask struct {
	Inputs []*event.Buffer
	Output *event.Buffer
}

func (t *ParamEventSumTask) ReadBuffers() []any  { return eventPtrs(t.Inputs...) }
func (t *ParamEventSumTask) WriteBuffers() []any { return eventPtrs(t.Output) }

func (t *ParamEventSumTask) Process(info process.Info) {
	t.Output.Clear()
	for _, in := range t.Inputs {
		for _, v := range in.ParamValues() {
			t.Output.PushParamValue(v)
		}
	}
}

// Schedule is the immutable, compiled task list A executes once
// published. It is allocated on C and swapped into A through an
// atomic shared cell.
type Schedule struct {
	Tasks []Task

	GraphInputBuffers  []*audio.Buffer
	GraphOutputBuffers []*audio.Buffer

	Transport *transport.Task

	BlockSize int

	// AllBuffers lists every buffer this schedule references, for the
	// deferred reclaimer to release once this schedule is replaced.
	AllBuffers []*audio.Buffer

	// Version is assigned by the compiler's caller (the engine facade)
	// in swap order; the bridge publishes the version it last started
	// executing so the reclaimer can tell which superseded schedules A
	// is provably done with.
	Version uint64
}

// Empty returns a schedule with no tasks and no buffers, installed on a
// compile failure.
func Empty(blockSize int) *Schedule {
	return &Schedule{BlockSize: blockSize}
}
