// Package pluginhost implements the per-plug-in lifecycle state machine
// and the lock-free channel that carries parameter writes, gestures,
// and host requests between the controller and audio contexts.
// Grounded on pkg/plugin/base.go's PluginBase (the activate/deactivate/
// idle lifecycle glue) and pkg/param/manager.go (the parameter table),
// generalized from a single CLAP-ABI plug-in object into the abstract
// MainThread/Processor capability split this engine's core is scoped
// to host.
package pluginhost

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/reduceq"
)

// State is the plug-in host's lifecycle state, shared between the
// controller and audio contexts as one atomic word.
type State int32

const (
	StateInactive State = iota
	StateInactiveWithError
	StateActive
	StateWaitingToDrop
	StateDroppedAndReadyToDeactivate
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "Inactive"
	case StateInactiveWithError:
		return "InactiveWithError"
	case StateActive:
		return "Active"
	case StateWaitingToDrop:
		return "WaitingToDrop"
	case StateDroppedAndReadyToDeactivate:
		return "DroppedAndReadyToDeactivate"
	default:
		return "Unknown"
	}
}

// ProcessingState is the audio-thread-local processing posture used by
// the plug-in task's process contract, distinct from the shared State.
type ProcessingState int32

const (
	ProcessingStopped ProcessingState = iota
	ProcessingWaitingForStart
	ProcessingStarted
	ProcessingErrored
)

// HostRequest is a bitset of requests a plug-in, or the controller,
// raises on the shared channel. Any side may set bits via an atomic
// fetch-or; the controller drains them via fetch-and-clear on each
// idle tick.
type HostRequest uint32

const (
	RequestRestart HostRequest = 1 << iota
	RequestProcess
	RequestCallback
	RequestGUIClosed
	RequestGUIDestroyed
	RequestMarkDirty
)

// AudioPortInfo describes one audio port on a plug-in.
type AudioPortInfo struct {
	StableID uint32
	Channels uint16
	TypeHint string
	Main     MainLayout
}

// NotePortInfo describes one note port on a plug-in.
type NotePortInfo struct {
	StableID uint32
	Main     MainLayout
}

// MainLayout classifies a port's role in the plug-in's declared main
// in/out pairing, used by the graph compiler to pick default routing.
type MainLayout uint8

const (
	MainNone MainLayout = iota
	MainInOnly
	MainOutOnly
	MainInOut
)

// PortsDescriptor is everything Activate learns about a plug-in's I/O
// shape.
type PortsDescriptor struct {
	AudioIn, AudioOut []AudioPortInfo
	NoteIn, NoteOut   []NotePortInfo
	// HasAutomationOut reports whether the plug-in declared an
	// automation output port; every plug-in has exactly one automation
	// input port, implicit and not listed here.
	HasAutomationOut bool
}

// ParamInfo is the static description of one parameter.
type ParamInfo struct {
	ID           uint32
	Name         string
	DefaultValue float64
	MinValue     float64
	MaxValue     float64
}

var (
	ErrActivationFailed = errors.New("pluginhost: activation failed")
	ErrNotActive        = errors.New("pluginhost: plugin is not active")
)

// ActivationFailureKind distinguishes which main-thread call failed
// during Activate, for error reporting.
type ActivationFailureKind int

const (
	FailureNone ActivationFailureKind = iota
	FailureAudioPorts
	FailureNotePorts
	FailureParamInfo
	FailureParamValue
	FailureActivate
)

// MainThread is the main-thread capability set a plug-in adapter must
// implement.
type MainThread interface {
	AudioPorts() (PortsDescriptorAudio, error)
	NotePorts() (PortsDescriptorNote, error)
	NumParams() uint32
	ParamInfo(index uint32) (ParamInfo, error)
	ParamValue(id uint32) (float64, error)
	Activate(sampleRate float64, minFrames, maxFrames uint32) (Processor, error)
	Deactivate()
	OnMainThread()
	HasAutomationOutPort() bool
	UpdateTempoMap(tempoMapVersion uint64)
	// Latency reports the plug-in's current processing latency in
	// samples, queried once at activation and whenever the plug-in
	// raises RequestRestart. The compiler reads it to size delay-comp
	// lines so parallel chains stay phase-aligned at a summing point.
	Latency() uint32
	// LoadSaveState restores a previously collected opaque state blob,
	// called before Activate during a save-state restore.
	LoadSaveState(blob []byte) error
	// CollectSaveState returns the plug-in's current opaque state blob,
	// or ok=false if the plug-in has none to offer.
	CollectSaveState() (blob []byte, ok bool)
}

// PortsDescriptorAudio and PortsDescriptorNote are the raw shapes
// MainThread.AudioPorts/NotePorts return, kept separate from the merged
// PortsDescriptor the host assembles.
type PortsDescriptorAudio struct {
	In, Out []AudioPortInfo
}
type PortsDescriptorNote struct {
	In, Out []NotePortInfo
}

// Processor is the audio-thread capability set.
type Processor interface {
	StartProcessing() error
	StopProcessing()
	Process(info process.Info, buffers ProcessBuffers, in *event.Buffer, out *event.Buffer) (process.Status, error)
	ParamFlush(in *event.Buffer, out *event.Buffer)
}

// ProcessBuffers is the native I/O view a Processor reads/writes,
// reassembled by the executor from the schedule's shared buffers into
// the plug-in's declared port layout.
type ProcessBuffers struct {
	AudioIn, AudioOut [][]float32
	AutomationOut     *event.Buffer
	HasAutomationOut  bool
}

// Channel is the lock-free bridge between one plug-in's controller-side
// Host and its audio-side task: reducing queues for parameter traffic,
// an atomically-published processor handle, the shared lifecycle state,
// and the host-request bitset.
type Channel struct {
	ValueQueue    *reduceq.ValueQueue
	ModQueue      *reduceq.ValueQueue
	FeedbackQueue *reduceq.FeedbackQueue

	state           atomic.Int32
	startProcessing atomic.Bool
	hostRequest     atomic.Uint32
	processor       atomic.Pointer[Processor]
}

// NewChannel creates a channel sized for numParams live parameters.
func NewChannel(numParams int) *Channel {
	return &Channel{
		ValueQueue:    reduceq.NewValueQueue(3 * numParams),
		ModQueue:      reduceq.NewValueQueue(3 * numParams),
		FeedbackQueue: reduceq.NewFeedbackQueue(3 * numParams),
	}
}

func (c *Channel) State() State       { return State(c.state.Load()) }
func (c *Channel) setState(s State)   { c.state.Store(int32(s)) }

// RequestStartProcessing asks the audio side to wake the plug-in from
// sleep on its next cycle.
func (c *Channel) RequestStartProcessing() { c.startProcessing.Store(true) }

// ConsumeStartProcessing atomically reads and clears the start-processing
// flag; called once per block by the audio-side task.
func (c *Channel) ConsumeStartProcessing() bool { return c.startProcessing.Swap(false) }

// RaiseRequest sets bits in the host-request bitset; callable from any
// thread.
func (c *Channel) RaiseRequest(bits HostRequest) {
	for {
		old := c.hostRequest.Load()
		if c.hostRequest.CompareAndSwap(old, old|uint32(bits)) {
			return
		}
	}
}

// DrainRequests atomically reads and clears the host-request bitset.
func (c *Channel) DrainRequests() HostRequest {
	return HostRequest(c.hostRequest.Swap(0))
}

// Processor returns the currently published processor, or nil if the
// plug-in has no active processor.
func (c *Channel) Processor() Processor {
	p := c.processor.Load()
	if p == nil {
		return nil
	}
	return *p
}

// publishProcessor installs a new processor handle, called by Activate.
func (c *Channel) publishProcessor(p Processor) {
	if p == nil {
		c.processor.Store(nil)
		return
	}
	c.processor.Store(&p)
}

// dropProcessor clears the processor handle; called by the audio-side
// task once it has called StopProcessing on a WaitingToDrop plug-in.
func (c *Channel) dropProcessor() { c.processor.Store(nil) }

// Host is the controller-context half of a plug-in: the main-thread
// object, its port descriptors, save state, and the shared Channel.
type Host struct {
	ID         uint64
	ScannedKey string
	main       MainThread

	mu         sync.Mutex
	ports      PortsDescriptor
	paramInfos map[uint32]ParamInfo
	gesturing  map[uint32]bool
	values     map[uint32]float64

	channel *Channel
	task    *Task

	removeRequested bool
	failureKind     ActivationFailureKind
	dirty           bool

	latency atomic.Uint32

	// activation settings cached from the most recent successful Activate so a
	// RESTART-driven reactivation (OnIdle's DroppedAndReadyToDeactivate
	// handling) can re-run Activate without the engine having to thread
	// engine settings back through the idle path.
	sampleRate           float64
	minFrames, maxFrames uint32

	// portsRemoved holds the port-channels syncPortsLocked's most recent
	// call found present in the old port set but absent from the new one,
	// awaiting a ConsumeRemovedPorts call from the graph so it can drop
	// edges that referenced them.
	portsRemoved []PortChannelKey
}

// PortKind distinguishes the two port families a plug-in declares,
// mirroring graph.PortType without pluginhost depending on the graph
// package.
type PortKind uint8

const (
	PortKindAudio PortKind = iota
	PortKindNote
)

// PortChannelKey identifies one port channel by the same tuple the
// graph uses to match edges across a restart: port family, stable id,
// direction, and channel index.
type PortChannelKey struct {
	Kind     PortKind
	StableID uint32
	IsInput  bool
	Channel  uint16
}

// expandPortChannels flattens a PortsDescriptor's audio and note ports
// into the full set of individual channels it declares, the unit
// syncPortsLocked diffs across a restart.
func expandPortChannels(ports PortsDescriptor) map[PortChannelKey]bool {
	out := make(map[PortChannelKey]bool)
	addAudio := func(list []AudioPortInfo, isInput bool) {
		for _, p := range list {
			for ch := uint16(0); ch < p.Channels; ch++ {
				out[PortChannelKey{Kind: PortKindAudio, StableID: p.StableID, IsInput: isInput, Channel: ch}] = true
			}
		}
	}
	addNote := func(list []NotePortInfo, isInput bool) {
		for _, p := range list {
			out[PortChannelKey{Kind: PortKindNote, StableID: p.StableID, IsInput: isInput, Channel: 0}] = true
		}
	}
	addAudio(ports.AudioIn, true)
	addAudio(ports.AudioOut, false)
	addNote(ports.NoteIn, true)
	addNote(ports.NoteOut, false)
	return out
}

// Task returns the audio-context task bound to this host's current
// channel, reused across compiler runs so its processing-state machine
// (§4.7.1) survives schedule replacement. Valid only while State() ==
// StateActive; callers must not retain it past a subsequent Activate.
func (h *Host) Task() *Task { return h.task }

// Latency returns the plug-in's last-queried processing latency in
// samples. Safe to call from the controller context at any time; the
// compiler reads it when sizing delay-compensation lines.
func (h *Host) Latency() uint32 { return h.latency.Load() }

// refreshLatency re-queries the plug-in's reported latency, called
// after activation and after any restart-driven reactivation.
func (h *Host) refreshLatency() { h.latency.Store(h.main.Latency()) }

// NewHost wraps a main-thread plug-in object, initially Inactive.
// scannedKey identifies the scanned plug-in entry this instance was
// created from, carried verbatim into save state (§3.7).
func NewHost(id uint64, scannedKey string, main MainThread) *Host {
	h := &Host{
		ID:         id,
		ScannedKey: scannedKey,
		main:       main,
		paramInfos: make(map[uint32]ParamInfo),
		gesturing:  make(map[uint32]bool),
		values:     make(map[uint32]float64),
		channel:    NewChannel(0),
	}
	h.channel.setState(StateInactive)
	return h
}

// Channel returns the shared C/A channel for this plug-in.
func (h *Host) Channel() *Channel { return h.channel }

// State returns the current shared lifecycle state.
func (h *Host) State() State { return h.channel.State() }

// Ports returns the last-synchronized port descriptor.
func (h *Host) Ports() PortsDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports
}

// Activate runs the activation sequence: query ports, enumerate
// parameters, call the plug-in's Activate, create reducing queues sized
// for the parameter count, and publish Active.
func (h *Host) Activate(sampleRate float64, minFrames, maxFrames uint32) error {
	audioPorts, err := h.main.AudioPorts()
	if err != nil {
		h.fail(FailureAudioPorts)
		return err
	}
	notePorts, err := h.main.NotePorts()
	if err != nil {
		h.fail(FailureNotePorts)
		return err
	}

	h.mu.Lock()
	h.syncPortsLocked(audioPorts, notePorts)
	h.mu.Unlock()

	numParams := h.main.NumParams()
	values := make(map[uint32]float64, numParams)
	infos := make(map[uint32]ParamInfo, numParams)
	for i := uint32(0); i < numParams; i++ {
		info, err := h.main.ParamInfo(i)
		if err != nil {
			h.fail(FailureParamInfo)
			return err
		}
		value, err := h.main.ParamValue(info.ID)
		if err != nil {
			h.fail(FailureParamValue)
			return err
		}
		infos[info.ID] = info
		values[info.ID] = value
	}

	processor, err := h.main.Activate(sampleRate, minFrames, maxFrames)
	if err != nil {
		h.fail(FailureActivate)
		return err
	}

	h.mu.Lock()
	h.paramInfos = infos
	h.values = values
	h.mu.Unlock()

	h.channel = NewChannel(int(numParams))
	h.channel.publishProcessor(processor)
	h.task = NewTask(h.channel)
	h.channel.setState(StateActive)
	h.failureKind = FailureNone
	h.refreshLatency()
	h.sampleRate, h.minFrames, h.maxFrames = sampleRate, minFrames, maxFrames
	return nil
}

func (h *Host) fail(kind ActivationFailureKind) {
	h.failureKind = kind
	h.channel.setState(StateInactiveWithError)
}

// FailureKind reports which activation step failed, valid only when
// State() == StateInactiveWithError.
func (h *Host) FailureKind() ActivationFailureKind { return h.failureKind }

// ScheduleDeactivate begins the deactivate sequence: clear the
// processor handle and move to WaitingToDrop. The audio side completes
// the transition to DroppedAndReadyToDeactivate on its next cycle.
func (h *Host) ScheduleDeactivate() {
	if h.State() != StateActive {
		return
	}
	h.channel.dropProcessor()
	h.channel.setState(StateWaitingToDrop)
}

// ScheduleRemove schedules deactivation and marks the plug-in for
// removal once it finishes dropping.
func (h *Host) ScheduleRemove() {
	h.removeRequested = true
	h.ScheduleDeactivate()
}

// RemoveRequested reports whether ScheduleRemove was called.
func (h *Host) RemoveRequested() bool { return h.removeRequested }

// FinishDeactivate completes the deactivation handshake once the audio
// side has reported DroppedAndReadyToDeactivate: calls the plug-in's
// Deactivate and returns to Inactive.
func (h *Host) FinishDeactivate() {
	if h.State() != StateDroppedAndReadyToDeactivate {
		return
	}
	h.main.Deactivate()
	h.channel.setState(StateInactive)
}

// IdleResult reports what OnIdle observed, consumed by the graph's
// on_idle pass.
type IdleResult struct {
	MustRecompile  bool
	ParamsModified []uint32
	GUIClosed      bool
	GUIDestroyed   bool
	// Deactivated reports that this tick completed a deactivate
	// handshake (FinishDeactivate ran), whether or not a restart-driven
	// reactivation followed.
	Deactivated bool
	// Reactivated reports that a restart cycle's reactivation attempt
	// ran this tick; ReactivateErr is non-nil if it failed.
	Reactivated   bool
	ReactivateErr error
}

// OnIdle runs the on-idle sequence.
func (h *Host) OnIdle() IdleResult {
	var res IdleResult

	reqs := h.channel.DrainRequests()
	if reqs&RequestMarkDirty != 0 {
		// MARK_DIRTY alone bumps the save-state dirty bit even with no
		// parameter changes this tick; resolves the open question in
		// spec §9 in favor of the plug-in's own judgment of dirtiness.
		h.dirty = true
	}
	if reqs&RequestCallback != 0 {
		h.main.OnMainThread()
	}
	if reqs&RequestRestart != 0 && h.State() == StateActive {
		h.ScheduleDeactivate()
		res.MustRecompile = true
	}
	if reqs&RequestGUIClosed != 0 {
		res.GUIClosed = true
	}
	if reqs&RequestGUIDestroyed != 0 {
		res.GUIDestroyed = true
	}

	feedback := h.channel.FeedbackQueue.Drain()
	if len(feedback) > 0 {
		h.mu.Lock()
		for id, rec := range feedback {
			if rec.HasGesture {
				h.gesturing[id] = rec.GestureBegin
			}
			if rec.HasValue {
				h.values[id] = rec.Value
				res.ParamsModified = append(res.ParamsModified, id)
			}
		}
		h.mu.Unlock()
	}

	if h.State() == StateDroppedAndReadyToDeactivate {
		h.FinishDeactivate()
		res.Deactivated = true
		if h.removeRequested {
			res.MustRecompile = true
		} else {
			res.Reactivated = true
			res.ReactivateErr = h.activateAfterRestart()
			res.MustRecompile = true
		}
	}

	return res
}

// activateAfterRestart re-activates a plug-in that went through a
// restart cycle without being removed, using the sample-rate/frame
// bounds cached from its most recent successful Activate. A failure here leaves the
// plug-in InactiveWithError, same as any other activation failure.
func (h *Host) activateAfterRestart() error {
	return h.Activate(h.sampleRate, h.minFrames, h.maxFrames)
}

// syncPortsLocked reconciles the host's graph-visible port set with a
// fresh descriptor obtained from Activate, matching existing ports by
// (type, stable id, direction, channel) so the graph can tell exactly
// which port-channels a restart removed rather than assuming every edge
// survives. Removed channels are recorded for the next ConsumeRemovedPorts
// call; h.mu is already held by the caller.
func (h *Host) syncPortsLocked(audio PortsDescriptorAudio, note PortsDescriptorNote) {
	before := expandPortChannels(h.ports)

	h.ports = PortsDescriptor{
		AudioIn:          audio.In,
		AudioOut:         audio.Out,
		NoteIn:           note.In,
		NoteOut:          note.Out,
		HasAutomationOut: h.main.HasAutomationOutPort(),
	}

	after := expandPortChannels(h.ports)
	for key := range before {
		if !after[key] {
			h.portsRemoved = append(h.portsRemoved, key)
		}
	}
}

// ConsumeRemovedPorts returns the port-channels the most recent
// syncPortsLocked found removed, clearing them so a later call only
// reports channels lost since the last consume.
func (h *Host) ConsumeRemovedPorts() []PortChannelKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := h.portsRemoved
	h.portsRemoved = nil
	return removed
}

// ParamValue returns the last known value of a parameter, as observed
// through Activate or subsequent A→C feedback.
func (h *Host) ParamValue(id uint32) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[id]
	return v, ok
}

// SetParam queues a controller-side parameter write for the audio side
// to pick up on its next block.
func (h *Host) SetParam(id uint32, value float64) {
	h.channel.ValueQueue.Push(id, value)
	h.mu.Lock()
	h.values[id] = value
	h.mu.Unlock()
}

// SetParamMod queues a controller-side modulation write.
func (h *Host) SetParamMod(id uint32, amount float64) {
	h.channel.ModQueue.Push(id, amount)
}

// IsGesturing reports whether the given parameter is mid-gesture, per
// the last A→C feedback observed.
func (h *Host) IsGesturing(id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gesturing[id]
}

// UpdateTempoMap forwards a tempo-map version bump to the underlying
// main-thread object.
func (h *Host) UpdateTempoMap(version uint64) { h.main.UpdateTempoMap(version) }

// ParamValues returns a snapshot of every known parameter's last value,
// for save-state collection.
func (h *Host) ParamValues() map[uint32]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uint32]float64, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// PortsSnapshot returns a copy of the backup port descriptor used by save state
// when this plug-in later fails to load (§3.7).
func (h *Host) PortsSnapshot() PortsDescriptor { return h.Ports() }

// LoadSaveState forwards a previously collected state blob to the
// plug-in, called before Activate during a restore.
func (h *Host) LoadSaveState(blob []byte) error {
	if blob == nil {
		return nil
	}
	return h.main.LoadSaveState(blob)
}

// CollectSaveState returns the plug-in's current opaque state blob.
func (h *Host) CollectSaveState() ([]byte, bool) { return h.main.CollectSaveState() }

// IsDirty reports whether a save-state-affecting change has occurred
// since the last ClearDirty.
func (h *Host) IsDirty() bool { return h.dirty }

// ClearDirty resets the dirty bit, called after a save state has been
// collected.
func (h *Host) ClearDirty() { h.dirty = false }
