package event

// Buffer is a block-scoped, time-ordered collection of events read by or
// written to a note or automation port during one executor pass. It is
// cleared at the start of every block and is not safe for concurrent
// use — exactly one task writes it and exactly one task (or the bridge,
// for graph ports) reads it per block, matching the single-owner
// discipline the verifier enforces for audio buffers.
type Buffer struct {
	id        BufferID
	notes     []NoteEvent
	params    []ParamValueEvent
	mods      []ParamModEvent
	gestures  []ParamGestureEvent
	transport *TransportEvent
}

// BufferID is the debug identity the compiler's verifier attaches to a
// graph-routed note or automation buffer, mirroring audio.ID.
type BufferID struct {
	IsAutomation bool
	Index        uint32
}

// NewBuffer creates an empty, anonymous event buffer (task-local scratch
// use, e.g. a plug-in's private EventsIn/EventsOut).
func NewBuffer() *Buffer { return &Buffer{} }

// NewGraphBuffer creates an event buffer tagged with a debug identity, for
// buffers the compiler wires between tasks as graph note/automation ports.
func NewGraphBuffer(id BufferID) *Buffer { return &Buffer{id: id} }

// ID returns this buffer's debug identity.
func (b *Buffer) ID() BufferID { return b.id }

// Clear drops all events, ready for the next block.
func (b *Buffer) Clear() {
	b.notes = b.notes[:0]
	b.params = b.params[:0]
	b.mods = b.mods[:0]
	b.gestures = b.gestures[:0]
	b.transport = nil
}

func (b *Buffer) PushNote(e NoteEvent)              { b.notes = append(b.notes, e) }
func (b *Buffer) PushParamValue(e ParamValueEvent)  { b.params = append(b.params, e) }
func (b *Buffer) PushParamMod(e ParamModEvent)      { b.mods = append(b.mods, e) }
func (b *Buffer) PushGesture(e ParamGestureEvent)   { b.gestures = append(b.gestures, e) }

// PushTransport stores this block's transport snapshot as an event so a
// plug-in consuming in_events sees it alongside note and parameter
// events, not only through the process-call's own transport field.
func (b *Buffer) PushTransport(e TransportEvent) { b.transport = &e }

func (b *Buffer) Notes() []NoteEvent            { return b.notes }
func (b *Buffer) ParamValues() []ParamValueEvent { return b.params }
func (b *Buffer) ParamMods() []ParamModEvent     { return b.mods }
func (b *Buffer) Gestures() []ParamGestureEvent  { return b.gestures }

// Transport returns this block's transport event, or nil if the
// transport produced none (or none was appended).
func (b *Buffer) Transport() *TransportEvent { return b.transport }

// Len returns the number of note, parameter-value, parameter-mod and
// gesture events currently queued; the transport snapshot is not counted.
func (b *Buffer) Len() int {
	return len(b.notes) + len(b.params) + len(b.mods) + len(b.gestures)
}

// HasNotes reports whether any note events are queued this block — used
// by the plug-in task's "continue if not quiet" silence check.
func (b *Buffer) HasNotes() bool { return len(b.notes) > 0 }
