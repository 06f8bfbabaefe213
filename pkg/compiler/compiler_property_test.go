package compiler_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/meadowlarkdaw/dropseed-go/pkg/compiler"
	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
)

// stereoMain is a stereo-in/stereo-out plug-in whose reported latency is
// fixed at construction, used to drive arbitrary-length chains through
// the compiler without a real audio adapter.
type stereoMain struct {
	latency uint32
}

func (m *stereoMain) AudioPorts() (pluginhost.PortsDescriptorAudio, error) {
	return pluginhost.PortsDescriptorAudio{
		In:  []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainInOnly}},
		Out: []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainOutOnly}},
	}, nil
}
func (m *stereoMain) NotePorts() (pluginhost.PortsDescriptorNote, error) {
	return pluginhost.PortsDescriptorNote{}, nil
}
func (m *stereoMain) NumParams() uint32                              { return 0 }
func (m *stereoMain) ParamInfo(uint32) (pluginhost.ParamInfo, error) { return pluginhost.ParamInfo{}, nil }
func (m *stereoMain) ParamValue(uint32) (float64, error)             { return 0, nil }
func (m *stereoMain) Activate(float64, uint32, uint32) (pluginhost.Processor, error) {
	return &stereoProcessor{}, nil
}
func (m *stereoMain) Deactivate()                          {}
func (m *stereoMain) OnMainThread()                         {}
func (m *stereoMain) HasAutomationOutPort() bool            { return false }
func (m *stereoMain) UpdateTempoMap(uint64)                 {}
func (m *stereoMain) Latency() uint32                       { return m.latency }
func (m *stereoMain) LoadSaveState([]byte) error            { return nil }
func (m *stereoMain) CollectSaveState() ([]byte, bool)      { return nil, false }

type stereoProcessor struct{}

func (p *stereoProcessor) StartProcessing() error { return nil }
func (p *stereoProcessor) StopProcessing()        {}
func (p *stereoProcessor) Process(info process.Info, buffers pluginhost.ProcessBuffers, in, out *event.Buffer) (process.Status, error) {
	return process.StatusContinue, nil
}
func (p *stereoProcessor) ParamFlush(in, out *event.Buffer) {}

// TestCompileStraightChainTopologicalOrderAndBufferCoverage builds a
// random-length straight-through chain of stereo plug-ins with random
// per-plug-in latencies, compiles it, and checks the invariants any
// acyclic chain must satisfy: compilation succeeds, every hosted plug-in
// produces exactly one PluginTask, and the schedule's task list orders
// each plug-in's task after all of its upstream producers'.
func TestCompileStraightChainTopologicalOrderAndPluginTaskCoverage(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		latencies := rapid.SliceOfN(rapid.Uint32Range(0, 32), n, n).Draw(rt, "latencies")

		g := graph.New(2, 2)
		ids := make([]graph.PluginID, n)
		for i := 0; i < n; i++ {
			id, host := g.AddPlugin(fmt.Sprintf("node-%d", i), &stereoMain{latency: latencies[i]})
			require.NoError(t, host.Activate(48000, 1, 64))
			_, err := g.SyncNodePorts(id)
			require.NoError(t, err)
			ids[i] = id
		}

		mainPort := graph.PortRef{Type: graph.PortAudio, Main: true}
		req := graph.ConnectRequest{Type: graph.PortAudio, Src: mainPort, Dst: mainPort}

		prev := g.GraphInputID()
		for i := 0; i < n; i++ {
			_, err := g.ConnectEdge(req, prev, ids[i])
			require.NoError(t, err)
			prev = ids[i]
		}
		_, err := g.ConnectEdge(req, prev, g.GraphOutputID())
		require.NoError(t, err)

		c := compiler.New()
		sched, err := c.Compile(g, nil, 64)
		require.NoError(t, err)
		require.NotNil(t, sched)

		taskIndex := make(map[graph.PluginID]int)
		for i, task := range sched.Tasks {
			if pt, ok := task.(*schedule.PluginTask); ok {
				taskIndex[pt.ID] = i
			}
		}
		require.Len(t, taskIndex, n)

		// Each plug-in's task must be scheduled after the task of the
		// plug-in immediately upstream of it in the chain.
		for i := 1; i < n; i++ {
			require.Less(t, taskIndex[ids[i-1]], taskIndex[ids[i]])
		}
	})
}

// TestCompileEmptyGraphNeverErrors checks that a graph with only the two
// fixed graph-input/graph-output nodes compiles without error to a
// non-nil schedule, regardless of requested block size.
func TestCompileEmptyGraphNeverErrors(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		blockSize := rapid.IntRange(1, 2048).Draw(rt, "blockSize")
		g := graph.New(2, 2)
		c := compiler.New()
		sched, err := c.Compile(g, nil, blockSize)
		require.NoError(t, err)
		require.NotNil(t, sched)
	})
}
