package savestate

import (
	"sort"

	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
)

// Collect snapshots every hosted plug-in and edge currently in g into a
// GraphSaveState. Plugin order follows node index so a round trip
// produces a stable, diffable record.
func Collect(g *graph.Graph) GraphSaveState {
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.NodeIndex < nodes[j].ID.NodeIndex })

	var out GraphSaveState
	indexOf := make(map[uint32]int, len(nodes))

	for _, n := range nodes {
		if n.Host == nil {
			continue
		}
		indexOf[n.ID.NodeIndex] = len(out.Plugins)
		out.Plugins = append(out.Plugins, collectPlugin(n))
	}
	indexOf[g.GraphInputID().NodeIndex] = GraphInputIndex
	indexOf[g.GraphOutputID().NodeIndex] = GraphOutputIndex

	for _, e := range g.Edges() {
		srcIdx, okSrc := indexOf[e.SrcPlugin.NodeIndex]
		dstIdx, okDst := indexOf[e.DstPlugin.NodeIndex]
		if !okSrc || !okDst {
			continue
		}
		out.Edges = append(out.Edges, EdgeSaveState{
			Type:           e.Type,
			SrcPluginIndex: srcIdx,
			DstPluginIndex: dstIdx,
			SrcPort:        e.SrcPort,
			DstPort:        e.DstPort,
		})
	}
	return out
}

func collectPlugin(n *graph.Node) PluginSaveState {
	ps := PluginSaveState{
		ScannedKey:     n.Host.ScannedKey,
		Active:         n.Host.State() == pluginhost.StateActive,
		BackupAudioIn:  convertAudioPorts(n.AudioIn),
		BackupAudioOut: convertAudioPorts(n.AudioOut),
		BackupNoteIn:   convertNotePorts(n.NoteIn),
		BackupNoteOut:  convertNotePorts(n.NoteOut),
	}
	if blob, ok := n.Host.CollectSaveState(); ok {
		ps.StateBlob = blob
	}
	return ps
}

func convertAudioPorts(ports []pluginhost.AudioPortInfo) []AudioPort {
	if len(ports) == 0 {
		return nil
	}
	out := make([]AudioPort, len(ports))
	for i, p := range ports {
		out[i] = AudioPort{StableID: p.StableID, Channels: p.Channels, TypeHint: p.TypeHint, Main: uint8(p.Main)}
	}
	return out
}

func convertNotePorts(ports []pluginhost.NotePortInfo) []NotePort {
	if len(ports) == 0 {
		return nil
	}
	out := make([]NotePort, len(ports))
	for i, p := range ports {
		out[i] = NotePort{StableID: p.StableID, Main: uint8(p.Main)}
	}
	return out
}
