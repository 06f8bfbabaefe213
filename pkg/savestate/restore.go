package savestate

import (
	"fmt"

	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
)

// Factory re-instantiates a plug-in's main-thread object from its
// scanned-plugin key, the same lookup an engine facade uses to satisfy
// a fresh add_plugins request.
type Factory func(scannedKey string) (pluginhost.MainThread, error)

// RestoreResult reports what Restore actually did, index-aligned with
// the GraphSaveState.Plugins it was given.
type RestoreResult struct {
	PluginIDs []graph.PluginID
	Errors    []error
}

// Restore re-adds every plugin in state to g and, where a state blob was
// recorded, loads it before the caller activates the node. It does not
// activate nodes or reconnect edges itself: activation may fail and
// needs the engine's crash-handling path, and edges can only be resolved
// once activation has published live port layouts. Call ReconnectEdges
// after activating every returned id.
func Restore(g *graph.Graph, state GraphSaveState, factory Factory) RestoreResult {
	res := RestoreResult{PluginIDs: make([]graph.PluginID, len(state.Plugins))}
	for i, ps := range state.Plugins {
		main, err := factory(ps.ScannedKey)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("savestate: restore %q: %w", ps.ScannedKey, err))
			continue
		}
		id, host := g.AddPlugin(ps.ScannedKey, main)
		if len(ps.StateBlob) > 0 {
			if err := host.LoadSaveState(ps.StateBlob); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("savestate: load state for %q: %w", ps.ScannedKey, err))
			}
		}
		res.PluginIDs[i] = id
	}
	return res
}

// ReconnectEdges replays state's edges against the freshly restored
// graph, mapping each plugin index back to the id Restore produced for
// it (or one of the graph's fixed input/output nodes). Edges whose
// ports no longer exist on the reloaded plug-ins are skipped and
// reported rather than failing the whole restore, matching the
// round-trip property's "modulo edges whose ports no longer exist"
// allowance.
func ReconnectEdges(g *graph.Graph, state GraphSaveState, ids []graph.PluginID) []error {
	resolve := func(idx int) (graph.PluginID, bool) {
		switch idx {
		case GraphInputIndex:
			return g.GraphInputID(), true
		case GraphOutputIndex:
			return g.GraphOutputID(), true
		default:
			if idx < 0 || idx >= len(ids) {
				return graph.PluginID{}, false
			}
			return ids[idx], true
		}
	}

	var errs []error
	for _, es := range state.Edges {
		src, ok1 := resolve(es.SrcPluginIndex)
		dst, ok2 := resolve(es.DstPluginIndex)
		if !ok1 || !ok2 {
			errs = append(errs, fmt.Errorf("savestate: edge references unknown plugin index"))
			continue
		}
		req := graph.ConnectRequest{
			Type: es.Type,
			Src:  graph.PortRef{Type: es.Type, StableID: es.SrcPort.StableID, IsInput: false, Channel: es.SrcPort.Channel},
			Dst:  graph.PortRef{Type: es.Type, StableID: es.DstPort.StableID, IsInput: true, Channel: es.DstPort.Channel},
		}
		if _, err := g.ConnectEdge(req, src, dst); err != nil {
			errs = append(errs, fmt.Errorf("savestate: reconnect edge %d->%d: %w", es.SrcPluginIndex, es.DstPluginIndex, err))
		}
	}
	return errs
}
