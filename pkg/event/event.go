// Package event defines the event payloads carried through note and
// automation buffers, and the reducing-queue-ready parameter records
// exchanged between the controller and audio contexts.
package event

// Type identifies the payload carried by an event-buffer slot.
type Type uint8

const (
	TypeNoteOn Type = iota
	TypeNoteOff
	TypeNoteChoke
	TypeNoteEnd
	TypeParamValue
	TypeParamMod
	TypeParamGestureBegin
	TypeParamGestureEnd
	TypeTransport
)

// Header is common metadata every event carries: the sample offset
// within the current block it applies to, and the port it was read
// from or will be written to.
type Header struct {
	Time uint32 // sample offset within the current block, 0 <= Time < frames
	Port uint16
}

// NoteEvent represents a note on/off/choke/end event carried on a note
// port.
type NoteEvent struct {
	Header   Header
	Type     Type
	NoteID   int32
	Channel  int16
	Key      int16
	Velocity float64
}

// ParamValueEvent is a parameter-value event appended to a plug-in's
// input event buffer by the host channel drain, or emitted on a
// plug-in's output events.
type ParamValueEvent struct {
	Header  Header
	ParamID uint32
	Value   float64
}

// ParamModEvent is a parameter-modulation event, same shape as
// ParamValueEvent but interpreted as a modulation offset rather than an
// absolute value.
type ParamModEvent struct {
	Header  Header
	ParamID uint32
	Amount  float64
}

// ParamGestureEvent marks the start or end of a user gesture on a
// parameter, flowing from the audio context back to the controller.
type ParamGestureEvent struct {
	Header  Header
	ParamID uint32
	IsBegin bool
}

// TransportEvent is the single per-block transport snapshot a Transport
// produces.
type TransportEvent struct {
	Header             Header
	Flags              Flags
	SongPosBeats       float64
	SongPosSeconds     float64
	Tempo              float64
	TempoInc           float64
	BarNumber          int32
	BarStartBeats      float64
	TimeSignatureNum   uint16
	TimeSignatureDenom uint16
}

// Flags are the bit flags a TransportEvent carries.
type Flags uint32

const (
	FlagHasTempo Flags = 1 << iota
	FlagHasBeatsTime
	FlagHasSecondsTime
	FlagHasTimeSignature
	FlagIsPlaying
	FlagIsRecording
	FlagIsLoopActive
	FlagIsWithinPreRoll
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
