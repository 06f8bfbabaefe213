// Package compiler turns a live graph.Graph into an immutable
// schedule.Schedule: a topologically ordered task list with every
// buffer pre-assigned, delay-compensation inserted at points where
// parallel chains of differing latency reconverge, and constant-mask
// silence left for the tasks themselves to exploit. Grounded on the
// registry-to-execution-plan split of pkg/registry together with the
// phase-by-phase compile pass described in
// original_source/src/graph/mod.rs's GraphCompiler.
package compiler

import (
	"github.com/meadowlarkdaw/dropseed-go/pkg/audio"
	"github.com/meadowlarkdaw/dropseed-go/pkg/event"
	"github.com/meadowlarkdaw/dropseed-go/pkg/graph"
	"github.com/meadowlarkdaw/dropseed-go/pkg/pluginhost"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
	"github.com/meadowlarkdaw/dropseed-go/pkg/transport"
)

// Compiler holds the only state that must survive across Compile calls:
// the delay-line cache, keyed so the same ring buffer (and therefore the
// same in-flight delayed audio) carries over when a recompile re-derives
// an unchanged delay requirement. Every other intermediate — the audio,
// note and automation buffers a compile wires between tasks — is
// allocated fresh per call from local pools so a schedule the audio
// thread is still draining can never have one of its buffers handed to
// an unrelated task by the next compile.
type Compiler struct {
	delayLines map[schedule.DelayCompKey]*schedule.DelayCompTask
}

// New creates a compiler with an empty delay-line cache.
func New() *Compiler {
	return &Compiler{delayLines: make(map[schedule.DelayCompKey]*schedule.DelayCompTask)}
}

// nodeOutputs collects the buffers a node's own processing produces,
// keyed the way downstream resolvePort lookups want them.
type nodeOutputs struct {
	audio     map[portKey][]*audio.Buffer // per port StableID, indexed by channel
	notePorts map[uint32]*event.Buffer    // per port StableID
	automation *event.Buffer
}

type portKey uint32

// Compile builds a fresh schedule from the graph's current node and edge
// set, sized for blocks of up to blockSize frames. transportTask is
// carried into the schedule unchanged: the transport's own Task lives
// on the audio context across compiles, independent of buffer
// assignment.
func (c *Compiler) Compile(g *graph.Graph, transportTask *transport.Task, blockSize int) (*schedule.Schedule, error) {
	nodes := g.Nodes()
	edges := g.Edges()

	order, err := topoSort(nodes, edges)
	if err != nil {
		return schedule.Empty(blockSize), err
	}

	inAudio := make(map[uint32][]*graph.Edge) // keyed by dst node index
	inNote := make(map[uint32][]*graph.Edge)
	inAutomation := make(map[uint32][]*graph.Edge)
	for _, e := range edges {
		switch e.Type {
		case graph.PortAudio:
			inAudio[e.DstPlugin.NodeIndex] = append(inAudio[e.DstPlugin.NodeIndex], e)
		case graph.PortNote:
			inNote[e.DstPlugin.NodeIndex] = append(inNote[e.DstPlugin.NodeIndex], e)
		case graph.PortAutomation:
			inAutomation[e.DstPlugin.NodeIndex] = append(inAutomation[e.DstPlugin.NodeIndex], e)
		}
	}

	// remainingAudioReaders counts, per produced audio channel, how many
	// edges still need to read it. resolveAudioChannel decrements this as
	// it consumes each edge; once a channel hits zero nothing in the
	// schedule will ever read that buffer again and it is handed back to
	// its pool for Phase 2 reuse by a later node's output.
	type audioSrcKey struct {
		node     uint32
		stableID uint32
		channel  uint16
	}
	remainingAudioReaders := make(map[audioSrcKey]int)
	for _, e := range edges {
		if e.Type != graph.PortAudio {
			continue
		}
		remainingAudioReaders[audioSrcKey{e.SrcPlugin.NodeIndex, e.SrcPort.StableID, e.SrcPort.Channel}]++
	}

	audioPool := audio.NewPool(audio.KindAudio)
	interPool := audio.NewPool(audio.KindIntermediary)
	var allBuffers []*audio.Buffer
	acquireAudio := func(pool *audio.Pool) *audio.Buffer {
		b := pool.Acquire(uint32(blockSize))
		allBuffers = append(allBuffers, b)
		return b
	}

	// releaseAfterNode collects buffers resolveAudioChannel has determined
	// are fully drained while resolving the node currently being built.
	// Releases are deferred to the end of that node's own processing
	// rather than issued immediately, so a buffer freed while resolving
	// this node's inputs can never be handed straight back out as one of
	// this same node's own outputs — which would alias a task's input and
	// output buffer by accident instead of by the plug-in's declared
	// in-place support.
	type pendingRelease struct {
		pool *audio.Pool
		buf  *audio.Buffer
	}
	var releaseAfterNode []pendingRelease
	flushReleases := func() {
		for _, r := range releaseAfterNode {
			r.pool.Release(r.buf)
		}
		releaseAfterNode = nil
	}

	nextEventIndex := uint32(0)
	newEventBuffer := func(isAutomation bool) *event.Buffer {
		id := event.BufferID{IsAutomation: isAutomation, Index: nextEventIndex}
		nextEventIndex++
		return event.NewGraphBuffer(id)
	}

	inputLatency := make(map[uint32]uint32, len(nodes))
	outputLatency := make(map[uint32]uint32, len(nodes))
	for _, n := range order {
		maxIn := uint32(0)
		for _, e := range inAudio[n.ID.NodeIndex] {
			if l := outputLatency[e.SrcPlugin.NodeIndex]; l > maxIn {
				maxIn = l
			}
		}
		inputLatency[n.ID.NodeIndex] = maxIn
		outputLatency[n.ID.NodeIndex] = maxIn + n.Latency()
	}

	outputs := make(map[uint32]*nodeOutputs, len(nodes))
	var tasks []schedule.Task
	// preseeded lists buffers no task ever writes — unconnected ports
	// left permanently silent/empty — so the verifier treats them as
	// already produced rather than flagging a read with no writer.
	var preseeded []any

	seenDelayKeys := make(map[schedule.DelayCompKey]bool)

	resolveAudioChannel := func(n *graph.Node, stableID uint32, channel uint16) *audio.Buffer {
		var matches []*graph.Edge
		for _, e := range inAudio[n.ID.NodeIndex] {
			if e.DstPort.StableID == stableID && e.DstPort.Channel == channel {
				matches = append(matches, e)
			}
		}
		if len(matches) == 0 {
			silent := acquireAudio(interPool)
			_ = silent.Clear(blockSize)
			preseeded = append(preseeded, silent)
			releaseAfterNode = append(releaseAfterNode, pendingRelease{interPool, silent})
			return silent
		}

		want := inputLatency[n.ID.NodeIndex]
		var resolved []*audio.Buffer
		for _, e := range matches {
			src := outputs[e.SrcPlugin.NodeIndex]
			srcBuf := src.audio[portKey(e.SrcPort.StableID)][e.SrcPort.Channel]

			srcKey := audioSrcKey{e.SrcPlugin.NodeIndex, e.SrcPort.StableID, e.SrcPort.Channel}
			remainingAudioReaders[srcKey]--
			if remainingAudioReaders[srcKey] == 0 {
				releaseAfterNode = append(releaseAfterNode, pendingRelease{audioPool, srcBuf})
			}

			delay := int(want) - int(outputLatency[e.SrcPlugin.NodeIndex])
			if delay <= 0 {
				resolved = append(resolved, srcBuf)
				continue
			}
			key := schedule.DelayCompKey{
				DelaySamples: delay,
				SourceNode:   e.SrcPlugin.NodeIndex,
				PortStableID: e.SrcPort.StableID,
				PortChannel:  e.SrcPort.Channel,
			}
			seenDelayKeys[key] = true
			task, ok := c.delayLines[key]
			out := acquireAudio(interPool)
			if !ok {
				task = schedule.NewDelayCompTask(key, srcBuf, out)
				c.delayLines[key] = task
			} else {
				task.AudioIn = srcBuf
				task.AudioOut = out
			}
			tasks = append(tasks, task)
			resolved = append(resolved, out)
			releaseAfterNode = append(releaseAfterNode, pendingRelease{interPool, out})
		}

		if len(resolved) == 1 {
			return resolved[0]
		}
		out := acquireAudio(interPool)
		tasks = append(tasks, &schedule.AudioSumTask{Inputs: resolved, Output: out})
		releaseAfterNode = append(releaseAfterNode, pendingRelease{interPool, out})
		return out
	}

	resolveNotePort := func(n *graph.Node, stableID uint32) *event.Buffer {
		var matches []*graph.Edge
		for _, e := range inNote[n.ID.NodeIndex] {
			if e.DstPort.StableID == stableID {
				matches = append(matches, e)
			}
		}
		if len(matches) == 0 {
			empty := newEventBuffer(false)
			preseeded = append(preseeded, empty)
			return empty
		}
		var inputs []*event.Buffer
		for _, e := range matches {
			inputs = append(inputs, outputs[e.SrcPlugin.NodeIndex].notePorts[e.SrcPort.StableID])
		}
		if len(inputs) == 1 {
			return inputs[0]
		}
		out := newEventBuffer(false)
		tasks = append(tasks, &schedule.NoteSumTask{Inputs: inputs, Output: out})
		return out
	}

	resolveAutomationIn := func(n *graph.Node) *event.Buffer {
		matches := inAutomation[n.ID.NodeIndex]
		if len(matches) == 0 {
			return nil
		}
		var inputs []*event.Buffer
		for _, e := range matches {
			inputs = append(inputs, outputs[e.SrcPlugin.NodeIndex].automation)
		}
		if len(inputs) == 1 {
			return inputs[0]
		}
		out := newEventBuffer(true)
		tasks = append(tasks, &schedule.ParamEventSumTask{Inputs: inputs, Output: out})
		return out
	}

	var graphInputBuffers, graphOutputBuffers []*audio.Buffer

	for _, n := range order {
		out := &nodeOutputs{audio: make(map[portKey][]*audio.Buffer), notePorts: make(map[uint32]*event.Buffer)}

		switch n.ID.Kind {
		case graph.NodeGraphInput:
			port := n.AudioOut[0]
			bufs := make([]*audio.Buffer, port.Channels)
			for ch := range bufs {
				bufs[ch] = acquireAudio(audioPool)
			}
			out.audio[portKey(port.StableID)] = bufs
			graphInputBuffers = bufs
			outputs[n.ID.NodeIndex] = out
			flushReleases()
			continue

		case graph.NodeGraphOutput:
			port := n.AudioIn[0]
			bufs := make([]*audio.Buffer, port.Channels)
			for ch := range bufs {
				bufs[ch] = resolveAudioChannel(n, port.StableID, uint16(ch))
			}
			graphOutputBuffers = bufs
			outputs[n.ID.NodeIndex] = out
			flushReleases()
			continue
		}

		// Hosted node: resolve every declared input port/channel first.
		audioIn := make([]*audio.Buffer, 0)
		for _, port := range n.AudioIn {
			for ch := uint16(0); ch < port.Channels; ch++ {
				audioIn = append(audioIn, resolveAudioChannel(n, port.StableID, ch))
			}
		}
		noteIn := make([]*event.Buffer, 0, len(n.NoteIn))
		for _, port := range n.NoteIn {
			noteIn = append(noteIn, resolveNotePort(n, port.StableID))
		}
		automationIn := resolveAutomationIn(n)
		if automationIn == nil {
			automationIn = newEventBuffer(true)
			preseeded = append(preseeded, automationIn)
		}

		if n.Host == nil || n.Host.State() != pluginhost.StateActive {
			// Unloaded or inactive: pass audio/notes through 1:1 up to the
			// shorter of in/out channel counts, clear anything beyond.
			audioOut := make([]*audio.Buffer, 0)
			var through [][2]*audio.Buffer
			var clearAudio []*audio.Buffer
			outCh := 0
			for _, port := range n.AudioOut {
				for ch := uint16(0); ch < port.Channels; ch++ {
					buf := acquireAudio(audioPool)
					audioOut = append(audioOut, buf)
					if outCh < len(audioIn) {
						through = append(through, [2]*audio.Buffer{audioIn[outCh], buf})
					} else {
						clearAudio = append(clearAudio, buf)
					}
					outCh++
				}
			}
			noteOut := make([]*event.Buffer, 0, len(n.NoteOut))
			var clearNote []*event.Buffer
			var noteThrough [2]*event.Buffer
			hasNoteThrough := len(noteIn) > 0 && len(n.NoteOut) > 0
			for i, port := range n.NoteOut {
				_ = port
				buf := newEventBuffer(false)
				noteOut = append(noteOut, buf)
				if i == 0 && hasNoteThrough {
					noteThrough = [2]*event.Buffer{noteIn[0], buf}
				} else {
					clearNote = append(clearNote, buf)
				}
			}
			var automationOut *event.Buffer
			if n.HasAutomationOut {
				automationOut = newEventBuffer(true)
			}
			tasks = append(tasks, &schedule.UnloadedPluginTask{
				AudioThrough:    through,
				NoteThrough:     noteThrough,
				HasNoteThrough:  hasNoteThrough,
				ClearAudioOut:   clearAudio,
				ClearNoteOut:    clearNote,
				ClearAutomation: automationOut,
			})

			out.audio = splitByPort(n.AudioOut, audioOut)
			for i, port := range n.NoteOut {
				out.notePorts[port.StableID] = noteOut[i]
			}
			out.automation = automationOut
			outputs[n.ID.NodeIndex] = out
			flushReleases()
			continue
		}

		audioOut := make([]*audio.Buffer, 0)
		for _, port := range n.AudioOut {
			for ch := uint16(0); ch < port.Channels; ch++ {
				_ = ch
				audioOut = append(audioOut, acquireAudio(audioPool))
			}
		}
		noteOut := make([]*event.Buffer, 0, len(n.NoteOut))
		for range n.NoteOut {
			noteOut = append(noteOut, newEventBuffer(false))
		}
		var automationOut *event.Buffer
		if n.HasAutomationOut {
			automationOut = newEventBuffer(true)
		}

		tasks = append(tasks, &schedule.PluginTask{
			ID:               n.ID,
			Task:             n.Host.Task(),
			AudioIn:          audioIn,
			AudioOut:         audioOut,
			NoteIn:           noteIn,
			NoteOut:          noteOut,
			AutomationIn:     automationIn,
			AutomationOut:    automationOut,
			HasAutomationOut: n.HasAutomationOut,
		})

		out.audio = splitByPort(n.AudioOut, audioOut)
		for i, port := range n.NoteOut {
			out.notePorts[port.StableID] = noteOut[i]
		}
		out.automation = automationOut
		outputs[n.ID.NodeIndex] = out
		flushReleases()
	}

	for key := range c.delayLines {
		if !seenDelayKeys[key] {
			delete(c.delayLines, key)
		}
	}

	sched := &schedule.Schedule{
		Tasks:              tasks,
		GraphInputBuffers:  graphInputBuffers,
		GraphOutputBuffers: graphOutputBuffers,
		Transport:          transportTask,
		BlockSize:          blockSize,
		AllBuffers:         allBuffers,
	}

	if err := verify(sched, preseeded); err != nil {
		return schedule.Empty(blockSize), err
	}
	return sched, nil
}

// splitByPort re-groups a flat, channel-major buffer slice back into
// per-port slices so a later node's resolveAudioChannel can index
// [stableID][channel] directly.
func splitByPort(ports []pluginhost.AudioPortInfo, flat []*audio.Buffer) map[portKey][]*audio.Buffer {
	out := make(map[portKey][]*audio.Buffer, len(ports))
	i := 0
	for _, p := range ports {
		bufs := make([]*audio.Buffer, p.Channels)
		copy(bufs, flat[i:i+int(p.Channels)])
		out[portKey(p.StableID)] = bufs
		i += int(p.Channels)
	}
	return out
}
