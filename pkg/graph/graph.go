package graph

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/transport"
)

var (
	ErrPortNotFound    = errors.New("graph: port not found")
	ErrPluginNotFound  = errors.New("graph: plugin not found")
	ErrWouldCreateCycle = errors.New("graph: connection would create a cycle")
	ErrDuplicateEdge   = errors.New("graph: edge already exists")
)

// Node is one vertex of the graph: either a hosted plug-in or one of
// the two distinguished graph-input/graph-output nodes.
type Node struct {
	ID   PluginID
	Host *pluginhost.Host // nil for graph-input/graph-output

	AudioIn, AudioOut []pluginhost.AudioPortInfo
	NoteIn, NoteOut   []pluginhost.NotePortInfo
	HasAutomationOut  bool
	// automation input is implicit on every hosted node; graph I/O
	// nodes carry no automation port.
}

// Latency reports the node's reported processing latency in samples.
// Graph I/O nodes and unloaded plug-ins always report zero.
func (n *Node) Latency() uint32 {
	if n.Host == nil || n.Host.State() != pluginhost.StateActive {
		return 0
	}
	return n.Host.Latency()
}

// Graph owns the node and edge sets, mirroring the mutex-guarded map
// discipline of a shared registry: all mutation happens under a single
// lock, held only on the controller context.
type Graph struct {
	mu sync.RWMutex

	nodes map[uint32]*Node
	edges map[EdgeID]*Edge

	nextNodeIndex uint32
	nextUniqueID  uint64
	nextEdgeID    uint64

	graphInputID  PluginID
	graphOutputID PluginID

	tempoMap        *transport.TempoMap
	tempoMapVersion uint64
}

// New creates an empty graph with its two fixed nodes wired for
// numAudioIn/numAudioOut channels.
func New(numAudioIn, numAudioOut uint16) *Graph {
	g := &Graph{
		nodes: make(map[uint32]*Node),
		edges: make(map[EdgeID]*Edge),
	}

	inID := g.allocID(NodeGraphInput, "graph.input")
	outID := g.allocID(NodeGraphOutput, "graph.output")
	g.graphInputID = inID
	g.graphOutputID = outID

	g.nodes[inID.NodeIndex] = &Node{
		ID:       inID,
		AudioOut: []pluginhost.AudioPortInfo{{StableID: 0, Channels: numAudioIn, Main: pluginhost.MainOutOnly}},
	}
	g.nodes[outID.NodeIndex] = &Node{
		ID:      outID,
		AudioIn: []pluginhost.AudioPortInfo{{StableID: 0, Channels: numAudioOut, Main: pluginhost.MainInOnly}},
	}

	return g
}

func (g *Graph) allocID(kind NodeKind, name string) PluginID {
	idx := g.nextNodeIndex
	g.nextNodeIndex++
	uid := g.nextUniqueID
	g.nextUniqueID++
	return PluginID{NodeIndex: idx, UniqueID: uid, Kind: kind, Name: name}
}

// GraphInputID and GraphOutputID return the two fixed node identities.
func (g *Graph) GraphInputID() PluginID  { return g.graphInputID }
func (g *Graph) GraphOutputID() PluginID { return g.graphOutputID }

// LoadStatus reports the outcome of AddPlugin's first activation
// attempt.
type LoadStatus int

const (
	LoadOK LoadStatus = iota
	LoadFailed
)

// AddPlugin inserts a new hosted node wrapping the given main-thread
// object and returns its identity. Ports are populated lazily by the
// first Activate the caller drives through the returned Host.
func (g *Graph) AddPlugin(name string, main pluginhost.MainThread) (PluginID, *pluginhost.Host) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.allocID(NodeInternal, name)
	host := pluginhost.NewHost(id.UniqueID, name, main)
	g.nodes[id.NodeIndex] = &Node{ID: id, Host: host}
	return id, host
}

// SyncNodePorts refreshes a node's cached port spec after its host
// completes an Activate, so connect_edge validation sees the latest
// layout. It also reconciles the node's live edges against the new
// layout, matching existing ports by (type, stable id, direction,
// channel) and removing any edge that referenced a port-channel the new
// layout no longer has — e.g. a plug-in restart that shrank a port's
// channel count — so the compiler never walks a stale edge into a port
// index that no longer exists. Call this once per successful activation.
func (g *Graph) SyncNodePorts(id PluginID) ([]*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id.NodeIndex]
	if !ok || node.Host == nil {
		return nil, ErrPluginNotFound
	}
	return g.syncNodePortsLocked(id, node), nil
}

// syncNodePortsLocked does the work SyncNodePorts and OnIdle's
// restart-reactivation path both need, with g.mu already held.
func (g *Graph) syncNodePortsLocked(id PluginID, node *Node) []*Edge {
	ports := node.Host.Ports()
	node.AudioIn, node.AudioOut = ports.AudioIn, ports.AudioOut
	node.NoteIn, node.NoteOut = ports.NoteIn, ports.NoteOut
	node.HasAutomationOut = ports.HasAutomationOut

	removed := node.Host.ConsumeRemovedPorts()
	if len(removed) == 0 {
		return nil
	}
	removedChans := make(map[PortChannel]bool, len(removed))
	for _, r := range removed {
		var t PortType
		switch r.Kind {
		case pluginhost.PortKindAudio:
			t = PortAudio
		case pluginhost.PortKindNote:
			t = PortNote
		}
		removedChans[PortChannel{Type: t, StableID: r.StableID, IsInput: r.IsInput, Channel: r.Channel}] = true
	}

	var goneEdges []*Edge
	for eid, e := range g.edges {
		stale := (e.SrcPlugin.Equal(id) && removedChans[e.SrcPort]) ||
			(e.DstPlugin.Equal(id) && removedChans[e.DstPort])
		if stale {
			goneEdges = append(goneEdges, e)
			delete(g.edges, eid)
		}
	}
	return goneEdges
}

// RemovePlugins schedules each listed plug-in for removal (deactivation
// if hosted) and, for nodes with no host (already inactive), deletes
// them and their edges immediately. Returns the ids actually affected.
func (g *Graph) RemovePlugins(ids []PluginID) []PluginID {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []PluginID
	for _, id := range ids {
		node, ok := g.nodes[id.NodeIndex]
		if !ok {
			continue
		}
		if node.Host != nil {
			node.Host.ScheduleRemove()
		} else {
			g.deleteNodeLocked(id)
		}
		removed = append(removed, id)
	}
	return removed
}

// ReapRemoved deletes nodes whose host has finished its drop cycle and
// was marked for removal; called from on_idle after OnIdle has run on
// every host.
func (g *Graph) ReapRemoved() []PluginID {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reaped []PluginID
	for idx, node := range g.nodes {
		if node.Host == nil {
			continue
		}
		if node.Host.RemoveRequested() && node.Host.State() == pluginhost.StateInactive {
			reaped = append(reaped, node.ID)
			delete(g.nodes, idx)
		}
	}
	for _, id := range reaped {
		g.deleteEdgesForLocked(id)
	}
	return reaped
}

func (g *Graph) deleteNodeLocked(id PluginID) {
	delete(g.nodes, id.NodeIndex)
	g.deleteEdgesForLocked(id)
}

func (g *Graph) deleteEdgesForLocked(id PluginID) {
	for eid, e := range g.edges {
		if e.SrcPlugin.Equal(id) || e.DstPlugin.Equal(id) {
			delete(g.edges, eid)
		}
	}
}

// ConnectRequest names the two endpoints of a prospective edge.
type ConnectRequest struct {
	Type PortType
	Src  PortRef
	Dst  PortRef
}

// ConnectEdge validates the request against the live port layout,
// resolves Main references to the node's first main port of the
// matching type/direction, rejects cycles and duplicate edges, and on
// success records the new edge.
func (g *Graph) ConnectEdge(req ConnectRequest, srcPlugin, dstPlugin PluginID) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	srcNode, ok := g.nodes[srcPlugin.NodeIndex]
	if !ok {
		return nil, ErrPluginNotFound
	}
	dstNode, ok := g.nodes[dstPlugin.NodeIndex]
	if !ok {
		return nil, ErrPluginNotFound
	}

	srcPort, err := resolvePort(srcNode, req.Type, false, req.Src)
	if err != nil {
		return nil, err
	}
	dstPort, err := resolvePort(dstNode, req.Type, true, req.Dst)
	if err != nil {
		return nil, err
	}

	for _, e := range g.edges {
		if e.SrcPlugin.Equal(srcPlugin) && e.SrcPort == srcPort &&
			e.DstPlugin.Equal(dstPlugin) && e.DstPort == dstPort {
			return nil, ErrDuplicateEdge
		}
	}

	if g.createsCycleLocked(srcPlugin, dstPlugin) {
		return nil, ErrWouldCreateCycle
	}

	id := EdgeID(g.nextEdgeID)
	g.nextEdgeID++
	edge := &Edge{ID: id, Type: req.Type, SrcPlugin: srcPlugin, SrcPort: srcPort, DstPlugin: dstPlugin, DstPort: dstPort}
	g.edges[id] = edge
	return edge, nil
}

func resolvePort(node *Node, typ PortType, isInput bool, ref PortRef) (PortChannel, error) {
	switch typ {
	case PortAudio:
		ports := node.AudioIn
		if !isInput {
			ports = node.AudioOut
		}
		for _, p := range ports {
			if ref.Main {
				wantIn := pluginhost.MainInOnly
				wantOut := pluginhost.MainOutOnly
				if (isInput && (p.Main == wantIn || p.Main == pluginhost.MainInOut)) ||
					(!isInput && (p.Main == wantOut || p.Main == pluginhost.MainInOut)) {
					return PortChannel{Type: PortAudio, StableID: p.StableID, IsInput: isInput, Channel: ref.Channel}, nil
				}
				continue
			}
			if p.StableID == ref.StableID {
				return PortChannel{Type: PortAudio, StableID: p.StableID, IsInput: isInput, Channel: ref.Channel}, nil
			}
		}
	case PortNote:
		ports := node.NoteIn
		if !isInput {
			ports = node.NoteOut
		}
		for _, p := range ports {
			if ref.Main || p.StableID == ref.StableID {
				return PortChannel{Type: PortNote, StableID: p.StableID, IsInput: isInput, Channel: ref.Channel}, nil
			}
		}
	case PortAutomation:
		// every hosted node has exactly one automation input; output is
		// optional and declared via HasAutomationOut.
		if isInput {
			return PortChannel{Type: PortAutomation, StableID: 0, IsInput: true, Channel: 0}, nil
		}
		if node.HasAutomationOut {
			return PortChannel{Type: PortAutomation, StableID: 0, IsInput: false, Channel: 0}, nil
		}
	}
	return PortChannel{}, ErrPortNotFound
}

// createsCycleLocked reports whether adding src→dst would create a
// cycle, via a DFS from dst looking for a path back to src.
func (g *Graph) createsCycleLocked(src, dst PluginID) bool {
	if src.Equal(dst) {
		return true
	}
	visited := make(map[uint32]bool)
	var visit func(cur uint32) bool
	visit = func(cur uint32) bool {
		if cur == src.NodeIndex {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		for _, e := range g.edges {
			if e.SrcPlugin.NodeIndex == cur {
				if visit(e.DstPlugin.NodeIndex) {
					return true
				}
			}
		}
		return false
	}
	return visit(dst.NodeIndex)
}

// DisconnectEdge removes an edge by id. Idempotent: returns true the
// first time, false thereafter.
func (g *Graph) DisconnectEdge(id EdgeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[id]; !ok {
		return false
	}
	delete(g.edges, id)
	return true
}

// UpdateTempoMap re-publishes the tempo map to every hosted node's
// main-thread object.
func (g *Graph) UpdateTempoMap(m *transport.TempoMap) {
	g.mu.Lock()
	g.tempoMap = m
	g.tempoMapVersion++
	version := g.tempoMapVersion
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.Unlock()

	for _, n := range nodes {
		if n.Host != nil {
			n.Host.UpdateTempoMap(version)
		}
	}
}

// TempoMap returns the currently published tempo map.
func (g *Graph) TempoMap() *transport.TempoMap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tempoMap
}

// LifecycleEvent reports a plug-in-host state-machine hop observed
// during an idle pass (§4.4's activate/deactivate/restart cycle).
type LifecycleEvent struct {
	PluginID      PluginID
	Deactivated   bool
	Reactivated   bool
	ReactivateErr error
}

// OnIdleResult aggregates the idle pass across every hosted node. Err
// combines every node's ReactivateErr via multierr, so a caller that
// only cares whether idle processing hit trouble this tick can check
// one error instead of walking Lifecycle itself.
type OnIdleResult struct {
	MustRecompile bool
	Modified      map[PluginID][]uint32
	Lifecycle     []LifecycleEvent
	Err           error
	// RemovedEdges lists edges dropped because a restart-driven
	// reactivation shrank the port layout they referenced.
	RemovedEdges []*Edge
}

// OnIdle runs OnIdle on every hosted node, resyncs ports (and prunes any
// edge a restart invalidated) for nodes that came back from a restart
// cycle, and reaps nodes that have fully dropped after a removal
// request.
func (g *Graph) OnIdle() OnIdleResult {
	g.mu.RLock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.RUnlock()

	res := OnIdleResult{Modified: make(map[PluginID][]uint32)}
	for _, n := range nodes {
		if n.Host == nil {
			continue
		}
		ir := n.Host.OnIdle()
		if ir.MustRecompile {
			res.MustRecompile = true
		}
		if len(ir.ParamsModified) > 0 {
			res.Modified[n.ID] = ir.ParamsModified
		}
		if ir.Deactivated || ir.Reactivated {
			res.Lifecycle = append(res.Lifecycle, LifecycleEvent{
				PluginID:      n.ID,
				Deactivated:   ir.Deactivated,
				Reactivated:   ir.Reactivated,
				ReactivateErr: ir.ReactivateErr,
			})
			if ir.ReactivateErr != nil {
				res.Err = multierr.Append(res.Err, fmt.Errorf("graph: reactivate %v: %w", n.ID, ir.ReactivateErr))
			}
			if ir.Reactivated && ir.ReactivateErr == nil {
				g.mu.Lock()
				gone := g.syncNodePortsLocked(n.ID, n)
				g.mu.Unlock()
				if len(gone) > 0 {
					res.RemovedEdges = append(res.RemovedEdges, gone...)
					// A restart that dropped port-channels invalidates the
					// currently running schedule's buffer wiring for this
					// node even though nothing else asked for a recompile.
					res.MustRecompile = true
				}
			}
		}
	}

	if reaped := g.ReapRemoved(); len(reaped) > 0 {
		res.MustRecompile = true
	}
	return res
}

// Reset schedules every hosted plug-in for removal; the caller is
// responsible for waiting (with a deadline) for OnIdle to drain them
// before calling ForceClear.
func (g *Graph) Reset() {
	g.mu.RLock()
	ids := make([]PluginID, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.Host != nil {
			ids = append(ids, n.ID)
		}
	}
	g.mu.RUnlock()
	g.RemovePlugins(ids)
}

// ForceClear unconditionally empties the graph, used when Reset's
// deadline elapses before every plug-in finished dropping.
func (g *Graph) ForceClear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = map[uint32]*Node{
		g.graphInputID.NodeIndex:  g.nodes[g.graphInputID.NodeIndex],
		g.graphOutputID.NodeIndex: g.nodes[g.graphOutputID.NodeIndex],
	}
	g.edges = make(map[EdgeID]*Edge)
}

// Nodes returns a snapshot of the current node set, for the compiler.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns a snapshot of the current edge set, for the compiler.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// Node looks up a node by plug-in id.
func (g *Graph) Node(id PluginID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id.NodeIndex]
	return n, ok
}
