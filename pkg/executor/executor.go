// Package executor drives a compiled schedule.Schedule one block at a
// time: splitting a driver callback's frame count into sub-blocks no
// larger than the schedule's BlockSize, copying the caller's planar
// input into the graph's input buffers, advancing the transport, and
// running every task in its precomputed order before copying the
// graph's output buffers back out. Grounded on the per-block process
// loop pkg/bridge/bridge.go drives over a single plug-in's Process,
// generalized to a whole schedule's task list.
package executor

import (
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
)

// Run processes frames samples of input into output, both planar
// (one []float32 per channel, each at least offset+frames long),
// splitting into sub-blocks of at most sched.BlockSize frames. steadyTime
// is the caller's running sample counter, or -1 if unknown; it advances
// by each sub-block's frame count between calls to Process.
func Run(sched *schedule.Schedule, input, output [][]float32, frames int, steadyTime int64) int64 {
	offset := 0
	for offset < frames {
		n := sched.BlockSize
		if remaining := frames - offset; remaining < n {
			n = remaining
		}
		if n <= 0 {
			break
		}
		runBlock(sched, input, output, offset, n, steadyTime)
		if steadyTime >= 0 {
			steadyTime += int64(n)
		}
		offset += n
	}
	return steadyTime
}

// runBlock processes exactly one sub-block of n frames starting at
// offset within the caller's input/output views.
func runBlock(sched *schedule.Schedule, input, output [][]float32, offset, n int, steadyTime int64) {
	for i, buf := range sched.GraphInputBuffers {
		view, err := buf.BorrowWrite(n)
		if err != nil {
			continue
		}
		if i < len(input) && len(input[i]) >= offset+n {
			copy(view, input[i][offset:offset+n])
		} else {
			for j := range view {
				view[j] = 0
			}
		}
		_ = buf.RecomputeConstant(n)
	}

	var snapshot *process.TransportSnapshot
	if sched.Transport != nil {
		if ev, _ := sched.Transport.Process(uint32(n)); ev != nil {
			snapshot = &process.TransportSnapshot{
				Flags:              uint32(ev.Flags),
				SongPosBeats:       ev.SongPosBeats,
				SongPosSeconds:     ev.SongPosSeconds,
				Tempo:              ev.Tempo,
				TempoInc:           ev.TempoInc,
				TimeSignatureNum:   ev.TimeSignatureNum,
				TimeSignatureDenom: ev.TimeSignatureDenom,
			}
		}
	}

	info := process.Info{SteadyTime: steadyTime, Frames: uint32(n), Transport: snapshot}

	for _, task := range sched.Tasks {
		task.Process(info)
	}

	for i, buf := range sched.GraphOutputBuffers {
		if i >= len(output) || len(output[i]) < offset+n {
			continue
		}
		view, err := buf.BorrowRead(n)
		if err != nil {
			continue
		}
		copy(output[i][offset:offset+n], view)
	}
}
