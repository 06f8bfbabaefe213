// Package engine implements the facade that owns every other
// controller-context component — the graph, the compiler, the audio
// bridge, and the transport — and turns a queue of requests into
// compiled schedules atomically swapped onto the audio thread. Grounded
// on pkg/graph.Graph's mutex-guarded single-owner discipline,
// generalized from "apply one mutation" to "apply a batch, recompile,
// swap, and recover from a bad compile", per
// original_source/src/engine/mod.rs's top-level Engine.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/meadowlarkdaw/dropseed-go/internal/ctxcheck"
	"github.com/meadowlarkdaw/dropseed-go/internal/dlog"
	"github.com/meadowlarkdaw/dropseed-go/pkg/bridge"
	"github.com/meadowlarkdaw/dropseed-go/pkg/compiler"
	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/savestate"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
	"github.com/meadowlarkdaw/dropseed-go/pkg/transport"
)

// Settings carries everything ActivateEngine needs to stand up the
// graph, transport, and bridge for one driver format.
type Settings struct {
	SampleRate    float64
	MinBlockSize  uint32
	MaxBlockSize  uint32
	NumAudioIn    uint16
	NumAudioOut   uint16
	Tempo         float64
	TimeSigNum    uint16
	TimeSigDenom  uint16
}

// Scanner is the plugin binary scanner/loader collaborator this facade
// forwards scan-directory requests to. Its implementation (walking a
// filesystem, loading shared objects) is a deliberately out-of-scope
// concern; Engine only needs somewhere to route the request.
type Scanner interface {
	AddScanDirectory(path string)
	RemoveScanDirectory(path string)
	RescanPluginDirectories()
}

// CrashHandler is signalled when a ModifyGraph's recompile fails and the
// facade has to drop the graph and install an empty schedule.
type CrashHandler interface {
	EngineCrashed(err error)
}

// AddPluginRequest names one plug-in to instantiate via its scanned key
// and the main-thread object the (out-of-scope) scanner/loader already
// produced for it.
type AddPluginRequest struct {
	ScannedKey string
	Main       pluginhost.MainThread
}

// ConnectEdgeRequest names one new edge by the endpoints' plugin ids and
// port selectors.
type ConnectEdgeRequest struct {
	Req graph.ConnectRequest
	Src graph.PluginID
	Dst graph.PluginID
}

// ModifyGraphRequest is the batched graph-mutation request from §4.9:
// applied disconnect, then remove, then add, then connect, in that
// order, followed by one recompile and schedule swap.
type ModifyGraphRequest struct {
	DisconnectEdges []graph.EdgeID
	RemovePlugins   []graph.PluginID
	AddPlugins      []AddPluginRequest
	ConnectNewEdges []ConnectEdgeRequest
}

// ModifyGraphResult reports what happened to an AddPlugins batch plus
// the final affected-plugin set that was recompiled.
type ModifyGraphResult struct {
	AddedIDs      []graph.PluginID
	ActivateErrs  map[graph.PluginID]error
	ConnectErrs   []error
	Affected      []graph.PluginID
	CompileErr    error
}

// Engine owns the graph, compiler, transport, and bridge for one active
// session. All of its methods run on the controller context; only
// bridge.RunEngineWorker runs on the audio context.
type Engine struct {
	settings Settings

	graph      *graph.Graph
	compiler   *compiler.Compiler
	bridge     *bridge.Bridge
	transport  *transport.Handle
	transportT *transport.Task

	scanner Scanner
	crash   CrashHandler
	log     *dlog.Logger

	workerCancel context.CancelFunc

	nextVersion uint64
	retained    []retainedSchedule

	active bool
}

// New creates an inactive facade. ActivateEngine must be called before any
// graph mutation or audio processing.
func New(scanner Scanner, crash CrashHandler, log *dlog.Logger) *Engine {
	if log == nil {
		log = dlog.Default()
	}
	ctxcheck.SetController()
	return &Engine{scanner: scanner, crash: crash, log: log}
}

// Event mirrors the engine event channel of §6.3.
type Event struct {
	Kind           string
	Info           Settings
	Reason         string
	PluginID       graph.PluginID
	ActivateErr    error
	ParamsModified []uint32
	Summary        string
}

// ActivateEngine stands up the graph, transport, compiler, and bridge
// for the given format and starts the engine-worker goroutine.
func (e *Engine) ActivateEngine(settings Settings) Event {
	e.settings = settings
	e.graph = graph.New(settings.NumAudioIn, settings.NumAudioOut)
	e.compiler = compiler.New()

	tempoMap := transport.NewTempoMap(settings.SampleRate, settings.Tempo, settings.TimeSigNum, settings.TimeSigDenom)
	e.transport, e.transportT = transport.NewHandle(tempoMap)
	e.graph.UpdateTempoMap(tempoMap)

	e.bridge = bridge.NewBridge(settings.SampleRate, int(settings.NumAudioIn), int(settings.NumAudioOut), int(settings.MaxBlockSize), e.log)

	ctx, cancel := context.WithCancel(context.Background())
	e.workerCancel = cancel
	go e.bridge.RunEngineWorker(ctx)

	e.active = true
	return Event{Kind: "EngineActivated", Info: settings}
}

// DeactivateEngine stops the engine worker and drops every plug-in,
// giving the graph up to 10 seconds to let each host finish its
// deactivate sequence before forcibly clearing it (§5 Cancellation).
func (e *Engine) DeactivateEngine(reason string) Event {
	if !e.active {
		return Event{Kind: "EngineDeactivated", Reason: reason}
	}

	e.graph.Reset()
	deadline := time.Now().Add(10 * time.Second)
	for {
		remaining := 0
		for _, n := range e.graph.Nodes() {
			if n.Host != nil {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			e.log.Warn("engine: reset timed out with %d plug-ins still dropping, forcing clear", remaining)
			e.graph.ForceClear()
			break
		}
		e.graph.OnIdle()
		time.Sleep(2 * time.Millisecond)
	}

	if e.workerCancel != nil {
		e.workerCancel()
	}
	e.retained = nil
	e.active = false
	return Event{Kind: "EngineDeactivated", Reason: reason}
}

// affectedSet collects plugin ids touched by a ModifyGraph batch,
// excluding the graph's fixed input/output nodes, per §4.9.
type affectedSet struct {
	seen map[uint32]bool
	ids  []graph.PluginID
}

func newAffectedSet(g *graph.Graph) *affectedSet {
	return &affectedSet{seen: make(map[uint32]bool)}
}

func (s *affectedSet) add(g *graph.Graph, id graph.PluginID) {
	if id.Equal(g.GraphInputID()) || id.Equal(g.GraphOutputID()) {
		return
	}
	if s.seen[id.NodeIndex] {
		return
	}
	s.seen[id.NodeIndex] = true
	s.ids = append(s.ids, id)
}

// ModifyGraph applies disconnects, then removes, then adds, then new
// connects, computes the affected-plugin set, recompiles, and atomically
// swaps the schedule. A compile failure installs an empty schedule,
// drops the graph, and signals the crash handler (§4.9).
func (e *Engine) ModifyGraph(req ModifyGraphRequest) ModifyGraphResult {
	ctxcheck.AssertController("ModifyGraph")
	var res ModifyGraphResult
	res.ActivateErrs = make(map[graph.PluginID]error)
	affected := newAffectedSet(e.graph)

	edgesByID := make(map[graph.EdgeID]*graph.Edge, len(e.graph.Edges()))
	for _, edge := range e.graph.Edges() {
		edgesByID[edge.ID] = edge
	}
	for _, id := range req.DisconnectEdges {
		edge, ok := edgesByID[id]
		if !ok {
			continue
		}
		if e.graph.DisconnectEdge(id) {
			affected.add(e.graph, edge.SrcPlugin)
			affected.add(e.graph, edge.DstPlugin)
		}
	}

	for _, id := range e.graph.RemovePlugins(req.RemovePlugins) {
		affected.add(e.graph, id)
	}

	for _, add := range req.AddPlugins {
		id, host := e.graph.AddPlugin(add.ScannedKey, add.Main)
		if err := host.Activate(e.settings.SampleRate, e.settings.MinBlockSize, e.settings.MaxBlockSize); err != nil {
			res.ActivateErrs[id] = err
		} else if _, err := e.graph.SyncNodePorts(id); err != nil {
			res.ActivateErrs[id] = err
		}
		res.AddedIDs = append(res.AddedIDs, id)
		affected.add(e.graph, id)
	}

	for _, conn := range req.ConnectNewEdges {
		if _, err := e.graph.ConnectEdge(conn.Req, conn.Src, conn.Dst); err != nil {
			res.ConnectErrs = append(res.ConnectErrs, err)
			continue
		}
		affected.add(e.graph, conn.Src)
		affected.add(e.graph, conn.Dst)
	}
	res.Affected = affected.ids

	e.recompileAndSwap(&res)
	return res
}

// recompileAndSwap compiles the current graph and, on success, publishes
// the new schedule with the next version and retains the previous one
// for the deferred reclaimer. On failure it installs an empty schedule,
// drops the graph, and notifies the crash handler.
func (e *Engine) recompileAndSwap(res *ModifyGraphResult) {
	sched, err := e.compiler.Compile(e.graph, e.transportT, int(e.settings.MaxBlockSize))
	if err != nil {
		res.CompileErr = err
		e.log.Error("engine: compile failed, dropping graph: %v", err)
		e.graph.ForceClear()
		e.bridge.SwapSchedule(nil)
		if e.crash != nil {
			e.crash.EngineCrashed(fmt.Errorf("engine: graph compile failed: %w", err))
		}
		return
	}

	e.nextVersion++
	sched.Version = e.nextVersion

	old := e.bridge.CurrentSchedule()
	e.bridge.SwapSchedule(sched)
	if old != nil && len(old.AllBuffers) > 0 {
		e.retained = append(e.retained, retainedSchedule{sched: old})
	}
}

// RestoreFromSaveState re-adds every plug-in and edge in state via the
// configured factory, activates each restored plug-in, reconnects edges
// against the live port layout, recompiles, and swaps. Edges whose ports
// no longer exist on a reloaded plug-in are skipped and returned rather
// than failing the whole restore (§8 round-trip property).
func (e *Engine) RestoreFromSaveState(state savestate.GraphSaveState, factory savestate.Factory) ([]error, ModifyGraphResult) {
	ctxcheck.AssertController("RestoreFromSaveState")
	restored := savestate.Restore(e.graph, state, factory)
	var res ModifyGraphResult
	res.ActivateErrs = make(map[graph.PluginID]error)
	res.AddedIDs = restored.PluginIDs
	affected := newAffectedSet(e.graph)

	for i, ps := range state.Plugins {
		id := restored.PluginIDs[i]
		if id == (graph.PluginID{}) {
			continue
		}
		node, ok := e.graph.Node(id)
		if !ok || node.Host == nil {
			continue
		}
		if !ps.Active {
			affected.add(e.graph, id)
			continue
		}
		if err := node.Host.Activate(e.settings.SampleRate, e.settings.MinBlockSize, e.settings.MaxBlockSize); err != nil {
			res.ActivateErrs[id] = err
		} else if _, err := e.graph.SyncNodePorts(id); err != nil {
			res.ActivateErrs[id] = err
		}
		affected.add(e.graph, id)
	}

	edgeErrs := savestate.ReconnectEdges(e.graph, state, restored.PluginIDs)
	for _, id := range restored.PluginIDs {
		if id != (graph.PluginID{}) {
			affected.add(e.graph, id)
		}
	}
	res.Affected = affected.ids
	res.ConnectErrs = edgeErrs

	e.recompileAndSwap(&res)
	return append(restored.Errors, edgeErrs...), res
}

// RequestLatestSaveState snapshots the live graph, the mirror of
// RestoreFromSaveState.
func (e *Engine) RequestLatestSaveState() savestate.GraphSaveState {
	return savestate.Collect(e.graph)
}

// GraphInputID and GraphOutputID expose the active graph's fixed nodes
// so a caller can wire connect_new_edges against them.
func (e *Engine) GraphInputID() graph.PluginID  { return e.graph.GraphInputID() }
func (e *Engine) GraphOutputID() graph.PluginID { return e.graph.GraphOutputID() }

// AddScanDirectory, RemoveScanDirectory, and RescanPluginDirectories
// forward to the scanner collaborator untouched (§4.9); a nil scanner
// makes these no-ops.
func (e *Engine) AddScanDirectory(path string) {
	if e.scanner != nil {
		e.scanner.AddScanDirectory(path)
	}
}

func (e *Engine) RemoveScanDirectory(path string) {
	if e.scanner != nil {
		e.scanner.RemoveScanDirectory(path)
	}
}

func (e *Engine) RescanPluginDirectories() {
	if e.scanner != nil {
		e.scanner.RescanPluginDirectories()
	}
}

// OnIdleTick runs the graph's idle pass, collects events for the
// subscriber, and runs the deferred-reclamation sweep (§4.9).
func (e *Engine) OnIdleTick() []Event {
	result := e.graph.OnIdle()
	var events []Event
	for id, mods := range result.Modified {
		events = append(events, Event{Kind: "PluginParamsModified", PluginID: id, ParamsModified: mods})
	}
	for _, le := range result.Lifecycle {
		if le.Deactivated {
			events = append(events, Event{Kind: "PluginDeactivated", PluginID: le.PluginID})
		}
		if le.Reactivated {
			events = append(events, Event{Kind: "PluginActivated", PluginID: le.PluginID, ActivateErr: le.ReactivateErr})
		}
	}
	if result.Err != nil {
		e.log.Warn("engine: idle pass reactivation errors: %v", result.Err)
	}
	if result.MustRecompile {
		var res ModifyGraphResult
		res.ActivateErrs = make(map[graph.PluginID]error)
		e.recompileAndSwap(&res)
		events = append(events, Event{Kind: "AudioGraphModified", Summary: "idle pass triggered recompile"})
	}
	e.ReclaimGarbage()
	return events
}

// retainedSchedule is a superseded schedule still reachable until the
// audio thread has provably moved past its version.
type retainedSchedule struct {
	sched *schedule.Schedule
}
