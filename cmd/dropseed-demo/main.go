// The dropseed-demo command stands up an engine facade with a single
// built-in gain plug-in wired input-to-output, compiles and swaps in its
// schedule, and prints a summary of the settings. No audio driver is
// attached, so no block is processed. It exists to exercise pkg/engine
// end to end without a real audio driver or a scanned plug-in binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/meadowlarkdaw/dropseed-go/internal/dlog"
	"github.com/meadowlarkdaw/dropseed-go/pkg/engine"
	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/savestate"
)

var (
	sampleRate   = pflag.Float64P("sample-rate", "r", 48000, "sample rate in Hz")
	blockSize    = pflag.Uint32P("block-size", "b", 128, "max block size in frames")
	channels     = pflag.Uint16P("channels", "c", 2, "audio in/out channel count")
	numBlocks    = pflag.IntP("blocks", "n", 4, "block count echoed in the summary (no audio driver is attached, so none are processed)")
	gain         = pflag.Float64P("gain", "g", 0.5, "fixed gain applied by the demo plug-in")
	saveStateOut = pflag.StringP("save-state-out", "s", "", "write the collected graph save state as YAML to this path (stdout if \"-\")")
	help         = pflag.BoolP("help", "h", false, "display help text")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "dropseed-demo wires a one-plug-in graph, swaps in its compiled schedule and prints a summary.")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	log := dlog.Default()
	defer log.Sync()

	e := engine.New(nil, nil, log)
	e.ActivateEngine(engine.Settings{
		SampleRate:   *sampleRate,
		MinBlockSize: 1,
		MaxBlockSize: *blockSize,
		NumAudioIn:   *channels,
		NumAudioOut:  *channels,
		Tempo:        120,
		TimeSigNum:   4,
		TimeSigDenom: 4,
	})
	defer e.DeactivateEngine("demo complete")

	plug := newGainMain(*gain)
	res := e.ModifyGraph(engine.ModifyGraphRequest{
		AddPlugins: []engine.AddPluginRequest{{ScannedKey: "dropseed.demo.gain", Main: plug}},
	})
	if len(res.ActivateErrs) > 0 {
		fmt.Fprintf(os.Stderr, "activation failed: %v\n", res.ActivateErrs)
		os.Exit(1)
	}
	pluginID := res.AddedIDs[0]

	mainPort := graph.PortRef{Type: graph.PortAudio, Main: true}
	connReq := graph.ConnectRequest{Type: graph.PortAudio, Src: mainPort, Dst: mainPort}
	res = e.ModifyGraph(engine.ModifyGraphRequest{
		ConnectNewEdges: []engine.ConnectEdgeRequest{
			{Req: connReq, Src: e.GraphInputID(), Dst: pluginID},
			{Req: connReq, Src: pluginID, Dst: e.GraphOutputID()},
		},
	})
	if len(res.ConnectErrs) > 0 || res.CompileErr != nil {
		fmt.Fprintf(os.Stderr, "wiring failed: connect=%v compile=%v\n", res.ConnectErrs, res.CompileErr)
		os.Exit(1)
	}

	fmt.Printf("dropseed-demo: %d channel(s), %.0f Hz, block size %d, gain %.2f\n",
		*channels, *sampleRate, *blockSize, *gain)
	fmt.Printf("compiled and swapped in a schedule for one gain plug-in; %d block(s) requested, none processed (no audio driver attached)\n", *numBlocks)

	if *saveStateOut != "" {
		encoded, err := e.RequestLatestSaveState().Encode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "save state encode failed: %v\n", err)
			os.Exit(1)
		}
		if *saveStateOut == "-" {
			os.Stdout.Write(encoded)
			return
		}
		if err := os.WriteFile(*saveStateOut, encoded, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "save state write failed: %v\n", err)
			os.Exit(1)
		}
	}
}

// gainMain is the demo's one built-in plug-in: a fixed-gain passthrough
// with no parameters and no GUI, standing in for a real scanned plug-in
// binary (out of scope for this core, per §1).
type gainMain struct {
	gain float64
}

func newGainMain(gain float64) *gainMain { return &gainMain{gain: gain} }

func (m *gainMain) AudioPorts() (pluginhost.PortsDescriptorAudio, error) {
	return pluginhost.PortsDescriptorAudio{
		In:  []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainInOnly}},
		Out: []pluginhost.AudioPortInfo{{StableID: 0, Channels: 2, Main: pluginhost.MainOutOnly}},
	}, nil
}
func (m *gainMain) NotePorts() (pluginhost.PortsDescriptorNote, error) {
	return pluginhost.PortsDescriptorNote{}, nil
}
func (m *gainMain) NumParams() uint32 { return 0 }
func (m *gainMain) ParamInfo(uint32) (pluginhost.ParamInfo, error) {
	return pluginhost.ParamInfo{}, fmt.Errorf("dropseed-demo: gain plug-in has no parameters")
}
func (m *gainMain) ParamValue(uint32) (float64, error) { return 0, nil }
func (m *gainMain) Activate(float64, uint32, uint32) (pluginhost.Processor, error) {
	return &gainProcessor{gain: m.gain}, nil
}
func (m *gainMain) Deactivate()                          {}
func (m *gainMain) OnMainThread()                         {}
func (m *gainMain) HasAutomationOutPort() bool            { return false }
func (m *gainMain) UpdateTempoMap(uint64)                 {}
func (m *gainMain) Latency() uint32                       { return 0 }
func (m *gainMain) LoadSaveState([]byte) error            { return nil }
func (m *gainMain) CollectSaveState() ([]byte, bool)      { return nil, false }

type gainProcessor struct {
	gain float64
}

func (p *gainProcessor) StartProcessing() error { return nil }
func (p *gainProcessor) StopProcessing()        {}

func (p *gainProcessor) Process(info process.Info, buffers pluginhost.ProcessBuffers, in, out *event.Buffer) (process.Status, error) {
	for ch := range buffers.AudioOut {
		n := len(buffers.AudioOut[ch])
		if ch < len(buffers.AudioIn) {
			n = min(n, len(buffers.AudioIn[ch]))
		}
		for i := 0; i < n; i++ {
			buffers.AudioOut[ch][i] = buffers.AudioIn[ch][i] * float32(p.gain)
		}
	}
	return process.StatusContinue, nil
}

func (p *gainProcessor) ParamFlush(in, out *event.Buffer) {}
