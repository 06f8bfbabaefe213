package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
)

func TestBufferPushAndLen(t *testing.T) {
	b := event.NewBuffer()
	require.Zero(t, b.Len())
	require.False(t, b.HasNotes())

	b.PushNote(event.NoteEvent{Header: event.Header{Time: 0}, Type: event.TypeNoteOn, Key: 60})
	b.PushParamValue(event.ParamValueEvent{ParamID: 1, Value: 0.5})
	b.PushParamMod(event.ParamModEvent{ParamID: 1, Amount: 0.1})
	b.PushGesture(event.ParamGestureEvent{ParamID: 1, IsBegin: true})

	require.Equal(t, 4, b.Len())
	require.True(t, b.HasNotes())
	require.Len(t, b.Notes(), 1)
	require.Len(t, b.ParamValues(), 1)
	require.Len(t, b.ParamMods(), 1)
	require.Len(t, b.Gestures(), 1)
}

func TestBufferClearDropsEveryKind(t *testing.T) {
	b := event.NewBuffer()
	b.PushNote(event.NoteEvent{})
	b.PushParamValue(event.ParamValueEvent{})
	b.Clear()
	require.Zero(t, b.Len())
	require.False(t, b.HasNotes())
}

func TestNewGraphBufferCarriesDebugID(t *testing.T) {
	id := event.BufferID{IsAutomation: true, Index: 7}
	b := event.NewGraphBuffer(id)
	require.Equal(t, id, b.ID())
}

func TestFlagsHasChecksBitMembership(t *testing.T) {
	f := event.FlagHasTempo | event.FlagIsPlaying
	require.True(t, f.Has(event.FlagHasTempo))
	require.True(t, f.Has(event.FlagIsPlaying))
	require.False(t, f.Has(event.FlagIsLoopActive))
}

func TestPoolGetBufferReturnsClearedBuffer(t *testing.T) {
	p := event.NewPool()
	b := p.GetBuffer()
	b.PushNote(event.NoteEvent{})
	require.Equal(t, 1, b.Len())

	p.PutBuffer(b)
	reused := p.GetBuffer()
	require.Zero(t, reused.Len())
}
