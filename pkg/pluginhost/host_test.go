package pluginhost_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
)

type stubProcessor struct {
	status process.Status
}

func (p *stubProcessor) StartProcessing() error { return nil }
func (p *stubProcessor) StopProcessing()        {}
func (p *stubProcessor) Process(info process.Info, buffers pluginhost.ProcessBuffers, in, out *event.Buffer) (process.Status, error) {
	return p.status, nil
}
func (p *stubProcessor) ParamFlush(in, out *event.Buffer) {}

type stubMain struct {
	proc    *stubProcessor
	params  []pluginhost.ParamInfo
	values  map[uint32]float64
	latency uint32
	blob    []byte
}

func (m *stubMain) AudioPorts() (pluginhost.PortsDescriptorAudio, error) {
	return pluginhost.PortsDescriptorAudio{
		In:  []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainInOnly}},
		Out: []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainOutOnly}},
	}, nil
}
func (m *stubMain) NotePorts() (pluginhost.PortsDescriptorNote, error) {
	return pluginhost.PortsDescriptorNote{}, nil
}
func (m *stubMain) NumParams() uint32 { return uint32(len(m.params)) }
func (m *stubMain) ParamInfo(index uint32) (pluginhost.ParamInfo, error) {
	return m.params[index], nil
}
func (m *stubMain) ParamValue(id uint32) (float64, error) { return m.values[id], nil }
func (m *stubMain) Activate(float64, uint32, uint32) (pluginhost.Processor, error) {
	return m.proc, nil
}
func (m *stubMain) Deactivate()               {}
func (m *stubMain) OnMainThread()              {}
func (m *stubMain) HasAutomationOutPort() bool { return false }
func (m *stubMain) UpdateTempoMap(uint64)      {}
func (m *stubMain) Latency() uint32            { return m.latency }
func (m *stubMain) LoadSaveState(blob []byte) error {
	m.blob = append([]byte(nil), blob...)
	return nil
}
func (m *stubMain) CollectSaveState() ([]byte, bool) {
	if m.blob == nil {
		return nil, false
	}
	return m.blob, true
}

func newStubMain() *stubMain {
	return &stubMain{
		proc:   &stubProcessor{status: process.StatusContinue},
		params: []pluginhost.ParamInfo{{ID: 1, Name: "gain", DefaultValue: 1, MinValue: 0, MaxValue: 2}},
		values: map[uint32]float64{1: 1},
	}
}

func TestHostActivateMovesToStateActiveAndCapturesParams(t *testing.T) {
	m := newStubMain()
	m.latency = 17
	h := pluginhost.NewHost(1, "test.plugin", m)
	require.Equal(t, pluginhost.StateInactive, h.State())

	require.NoError(t, h.Activate(48000, 1, 64))
	require.Equal(t, pluginhost.StateActive, h.State())
	require.EqualValues(t, 17, h.Latency())

	v, ok := h.ParamValue(1)
	require.True(t, ok)
	require.Equal(t, 1.0, v)
}

func TestHostScheduleDeactivateThenFinishDeactivateReturnsToInactive(t *testing.T) {
	m := newStubMain()
	h := pluginhost.NewHost(1, "test.plugin", m)
	require.NoError(t, h.Activate(48000, 1, 64))

	h.ScheduleDeactivate()
	require.Equal(t, pluginhost.StateWaitingToDrop, h.State())

	h.Channel().RaiseRequest(0) // no-op, exercises RaiseRequest/DrainRequests roundtrip
	require.Zero(t, h.Channel().DrainRequests())

	// The audio-side task transitions WaitingToDrop -> DroppedAndReadyToDeactivate.
	h.Task().Process(process.Info{Frames: 4}, pluginhost.ProcessBuffers{})
	require.Equal(t, pluginhost.StateDroppedAndReadyToDeactivate, h.State())

	h.FinishDeactivate()
	require.Equal(t, pluginhost.StateInactive, h.State())
}

func TestHostRestartRequestDrivesFullDeactivateReactivateCycle(t *testing.T) {
	m := newStubMain()
	h := pluginhost.NewHost(1, "test.plugin", m)
	require.NoError(t, h.Activate(48000, 1, 64))

	h.Channel().RaiseRequest(pluginhost.RequestRestart)
	ir := h.OnIdle()
	require.Equal(t, pluginhost.StateWaitingToDrop, h.State())
	require.True(t, ir.MustRecompile)

	// Audio-side task would normally run the WaitingToDrop branch of
	// Process and publish DroppedAndReadyToDeactivate; simulate that
	// handoff directly since this test drives the controller side only.
	h.Task().Process(process.Info{Frames: 4}, pluginhost.ProcessBuffers{})
	require.Equal(t, pluginhost.StateDroppedAndReadyToDeactivate, h.State())

	ir = h.OnIdle()
	require.True(t, ir.Deactivated)
	require.True(t, ir.Reactivated)
	require.NoError(t, ir.ReactivateErr)
	require.Equal(t, pluginhost.StateActive, h.State())
}

func TestHostActivationFailurePropagatesFailureKind(t *testing.T) {
	m := newStubMain()
	m.params = []pluginhost.ParamInfo{} // force ParamInfo never called; fail on Activate instead
	m.proc = nil
	h := pluginhost.NewHost(1, "broken.plugin", &failingMain{stubMain: m})

	err := h.Activate(48000, 1, 64)
	require.Error(t, err)
	require.Equal(t, pluginhost.StateInactiveWithError, h.State())
	require.Equal(t, pluginhost.FailureActivate, h.FailureKind())
}

type failingMain struct {
	*stubMain
}

func (m *failingMain) Activate(float64, uint32, uint32) (pluginhost.Processor, error) {
	return nil, pluginhost.ErrActivationFailed
}

func TestHostSaveStateRoundTripsOpaqueBlob(t *testing.T) {
	m := newStubMain()
	h := pluginhost.NewHost(1, "test.plugin", m)

	require.NoError(t, h.LoadSaveState([]byte("state-blob")))
	blob, ok := h.CollectSaveState()
	require.True(t, ok)
	require.Equal(t, []byte("state-blob"), blob)
}

func TestHostDirtyFlagSetByMarkDirtyRequestAlone(t *testing.T) {
	m := newStubMain()
	h := pluginhost.NewHost(1, "test.plugin", m)
	require.NoError(t, h.Activate(48000, 1, 64))
	require.False(t, h.IsDirty())

	h.Channel().RaiseRequest(pluginhost.RequestMarkDirty)
	h.OnIdle()
	require.True(t, h.IsDirty())

	h.ClearDirty()
	require.False(t, h.IsDirty())
}

func TestChannelValueQueueReducesToLastWrite(t *testing.T) {
	ch := pluginhost.NewChannel(1)
	ch.ValueQueue.Push(1, 0.1)
	ch.ValueQueue.Push(1, 0.9)
	drained := ch.ValueQueue.Drain()
	require.Equal(t, 0.9, drained[1])
}

func TestTaskStaysStoppedWithoutNotesUntilStartProcessingRequested(t *testing.T) {
	m := newStubMain()
	h := pluginhost.NewHost(1, "test.plugin", m)
	require.NoError(t, h.Activate(48000, 1, 64))

	task := h.Task()
	buffers := pluginhost.ProcessBuffers{
		AudioIn:  [][]float32{make([]float32, 4), make([]float32, 4)},
		AudioOut: [][]float32{make([]float32, 4), make([]float32, 4)},
	}
	// Freshly activated, no start-processing request and no notes: the
	// task stays asleep and just clears outputs.
	task.Process(process.Info{Frames: 4}, buffers)
	for _, ch := range buffers.AudioOut {
		for _, v := range ch {
			require.Zero(t, v)
		}
	}

	// RequestStartProcessing moves the task from Stopped to
	// WaitingForStart on the next block; with no notes queued it still
	// only clears outputs and does not call the processor.
	h.Channel().RequestStartProcessing()
	task.Process(process.Info{Frames: 4}, buffers)
}
