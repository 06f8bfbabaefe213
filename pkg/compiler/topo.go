package compiler

import (
	"sort"

	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
)

// topoSort returns nodes in a deterministic topological order (ties
// broken by node index), or ErrCyclicGraph if the edge set is not a
// DAG. The graph's own ConnectEdge already runs an incremental cycle
// check (spec §9), so this should only ever fail on a malformed graph.
func topoSort(nodes []*graph.Node, edges []*graph.Edge) ([]*graph.Node, error) {
	indeg := make(map[uint32]int, len(nodes))
	adj := make(map[uint32][]uint32, len(nodes))
	byIndex := make(map[uint32]*graph.Node, len(nodes))
	for _, n := range nodes {
		indeg[n.ID.NodeIndex] = 0
		byIndex[n.ID.NodeIndex] = n
	}
	for _, e := range edges {
		adj[e.SrcPlugin.NodeIndex] = append(adj[e.SrcPlugin.NodeIndex], e.DstPlugin.NodeIndex)
		indeg[e.DstPlugin.NodeIndex]++
	}

	var ready []uint32
	for idx, d := range indeg {
		if d == 0 {
			ready = append(ready, idx)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]*graph.Node, 0, len(nodes))
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		order = append(order, byIndex[idx])

		var unlocked []uint32
		for _, nb := range adj[idx] {
			indeg[nb]--
			if indeg[nb] == 0 {
				unlocked = append(unlocked, nb)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
		ready = append(ready, unlocked...)
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	}

	if len(order) != len(nodes) {
		return nil, ErrCyclicGraph
	}
	return order, nil
}
