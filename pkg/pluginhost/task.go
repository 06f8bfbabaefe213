package pluginhost

import (
	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/reduceq"
)

// Task is the audio-context half of a plug-in: it runs entirely within
// the executor's per-block loop, implementing the process contract.
// Beyond what Channel holds it owns its EventsIn/EventsOut scratch
// buffers, allocated once in NewTask.
type Task struct {
	Channel *Channel

	local      ProcessingState
	lastStatus process.Status

	// EventsIn/EventsOut are the plug-in's private event scratch
	// buffers, reused block to block.
	EventsIn  *event.Buffer
	EventsOut *event.Buffer

	NoteInPorts  []*event.Buffer
	NoteOutPorts []*event.Buffer

	// AutomationIn carries modulation routed from an upstream plug-in's
	// automation-out port; it is merged into EventsIn alongside the
	// controller's own reducing queues. Nil when nothing is connected.
	AutomationIn  *event.Buffer
	AutomationOut *event.Buffer
}

// NewTask creates a plugin task bound to a channel, starting stopped.
func NewTask(ch *Channel) *Task {
	return &Task{
		Channel:   ch,
		local:     ProcessingStopped,
		EventsIn:  event.NewBuffer(),
		EventsOut: event.NewBuffer(),
	}
}

// clearOutputs clears the event-out scratch buffer and zeroes any
// declared audio outputs.
func (t *Task) clearOutputs(buffers ProcessBuffers, frames int) {
	t.EventsOut.Clear()
	for _, out := range buffers.AudioOut {
		n := frames
		if n > len(out) {
			n = len(out)
		}
		for i := 0; i < n; i++ {
			out[i] = 0
		}
	}
}

// Process implements the plug-in task process contract. The transport
// snapshot, if any was produced this block, is both carried on info for
// the executor's own bookkeeping and appended to EventsIn so a plug-in
// reading its input event buffer observes it like any other event.
func (t *Task) Process(info process.Info, buffers ProcessBuffers) {
	t.EventsOut.Clear()

	state := t.Channel.State()

	if state == StateWaitingToDrop {
		if t.local == ProcessingStarted {
			if proc := t.Channel.Processor(); proc != nil {
				proc.StopProcessing()
			}
		}
		t.clearOutputs(buffers, int(info.Frames))
		t.Channel.dropProcessor()
		t.Channel.setState(StateDroppedAndReadyToDeactivate)
		return
	}

	if t.Channel.ConsumeStartProcessing() && t.local == ProcessingStopped {
		t.local = ProcessingWaitingForStart
	}

	if t.local == ProcessingErrored {
		t.clearOutputs(buffers, int(info.Frames))
		return
	}

	proc := t.Channel.Processor()
	if proc == nil {
		t.clearOutputs(buffers, int(info.Frames))
		return
	}

	t.EventsIn.Clear()
	for id, v := range t.Channel.ValueQueue.Drain() {
		t.EventsIn.PushParamValue(event.ParamValueEvent{ParamID: id, Value: v})
	}
	for id, v := range t.Channel.ModQueue.Drain() {
		t.EventsIn.PushParamMod(event.ParamModEvent{ParamID: id, Amount: v})
	}

	for portIdx, noteIn := range t.NoteInPorts {
		for _, n := range noteIn.Notes() {
			n.Header.Port = uint16(portIdx)
			t.EventsIn.PushNote(n)
		}
	}

	if info.Transport != nil {
		ts := info.Transport
		t.EventsIn.PushTransport(event.TransportEvent{
			Flags:              event.Flags(ts.Flags),
			SongPosBeats:       ts.SongPosBeats,
			SongPosSeconds:     ts.SongPosSeconds,
			Tempo:              ts.Tempo,
			TempoInc:           ts.TempoInc,
			TimeSignatureNum:   ts.TimeSignatureNum,
			TimeSignatureDenom: ts.TimeSignatureDenom,
		})
	}

	if t.AutomationIn != nil {
		for _, v := range t.AutomationIn.ParamValues() {
			t.EventsIn.PushParamValue(v)
		}
		for _, m := range t.AutomationIn.ParamMods() {
			t.EventsIn.PushParamMod(m)
		}
	}

	hasNotes := t.EventsIn.HasNotes()

	if t.local == ProcessingStarted && t.lastStatus == process.StatusContinueIfNotQuiet &&
		!hasNotes && len(buffers.AudioIn) > 0 && allSilent(buffers.AudioIn, int(info.Frames)) {
		proc.StopProcessing()
		t.clearOutputs(buffers, int(info.Frames))
		t.flushParams(proc)
		t.local = ProcessingStopped
		return
	}

	if (t.local == ProcessingStopped || t.local == ProcessingWaitingForStart) && !hasNotes {
		t.clearOutputs(buffers, int(info.Frames))
		t.flushParams(proc)
		return
	}

	if t.local != ProcessingStarted {
		if err := proc.StartProcessing(); err != nil {
			t.local = ProcessingErrored
			t.clearOutputs(buffers, int(info.Frames))
			return
		}
		t.local = ProcessingStarted
	}

	status, err := proc.Process(info, buffers, t.EventsIn, t.EventsOut)
	if err != nil {
		t.local = ProcessingErrored
		t.clearOutputs(buffers, int(info.Frames))
		return
	}

	for _, n := range t.EventsOut.Notes() {
		port := int(n.Header.Port)
		if port < len(t.NoteOutPorts) {
			t.NoteOutPorts[port].PushNote(n)
		}
	}
	for _, pv := range t.EventsOut.ParamValues() {
		if buffers.HasAutomationOut && t.AutomationOut != nil {
			t.AutomationOut.PushParamValue(pv)
		}
		t.Channel.FeedbackQueue.Push(pv.ParamID, reduceq.Feedback{HasValue: true, Value: pv.Value})
	}
	for _, g := range t.EventsOut.Gestures() {
		t.Channel.FeedbackQueue.Push(g.ParamID, reduceq.Feedback{HasGesture: true, GestureBegin: g.IsBegin})
	}

	t.lastStatus = status
	switch status {
	case process.StatusContinue, process.StatusContinueIfNotQuiet, process.StatusTail:
		t.local = ProcessingStarted
	case process.StatusSleep:
		proc.StopProcessing()
		t.local = ProcessingStopped
	case process.StatusError:
		t.clearOutputs(buffers, int(info.Frames))
		t.local = ProcessingErrored
	}
}

func (t *Task) flushParams(proc Processor) {
	if t.EventsIn.Len() == 0 {
		return
	}
	proc.ParamFlush(t.EventsIn, t.EventsOut)
}

func allSilent(channels [][]float32, frames int) bool {
	for _, ch := range channels {
		n := frames
		if n > len(ch) {
			n = len(ch)
		}
		for i := 0; i < n; i++ {
			if ch[i] != 0 {
				return false
			}
		}
	}
	return true
}
