package executor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowlarkdaw/dropseed-go/pkg/audio"
	"github.com/meadowlarkdaw/dropseed-go/pkg/executor"
	"github.com/meadowlarkdaw/dropseed-go/pkg/process"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
)

// gainTask doubles its input into its output, for exercising Run's
// sub-block splitting and buffer copy-in/copy-out without a real
// plug-in host.
type gainTask struct {
	in, out *audio.Buffer
	calls   []int
}

func (t *gainTask) Process(info process.Info) {
	frames := int(info.Frames)
	in, err := t.in.BorrowRead(frames)
	if err != nil {
		return
	}
	out, err := t.out.BorrowWrite(frames)
	if err != nil {
		return
	}
	for i := range out {
		out[i] = in[i] * 2
	}
	t.calls = append(t.calls, frames)
}

func newTestSchedule(blockSize int, task *gainTask) *schedule.Schedule {
	return &schedule.Schedule{
		Tasks:              []schedule.Task{task},
		GraphInputBuffers:  []*audio.Buffer{task.in},
		GraphOutputBuffers: []*audio.Buffer{task.out},
		BlockSize:          blockSize,
	}
}

func TestRunSplitsIntoSubBlocksNoLargerThanScheduleBlockSize(t *testing.T) {
	const blockSize = 16
	in := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	out := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	task := &gainTask{in: in, out: out}
	sched := newTestSchedule(blockSize, task)

	frames := 40
	input := make([]float32, frames)
	output := make([]float32, frames)
	for i := range input {
		input[i] = float32(i + 1)
	}

	steady := executor.Run(sched, [][]float32{input}, [][]float32{output}, frames, 0)

	require.Equal(t, []int{16, 16, 8}, task.calls)
	require.Equal(t, int64(frames), steady)
	for i := range input {
		require.Equal(t, input[i]*2, output[i])
	}
}

func TestRunPreservesUnknownSteadyTime(t *testing.T) {
	const blockSize = 8
	in := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	out := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	task := &gainTask{in: in, out: out}
	sched := newTestSchedule(blockSize, task)

	frames := 8
	input := make([]float32, frames)
	output := make([]float32, frames)

	steady := executor.Run(sched, [][]float32{input}, [][]float32{output}, frames, -1)
	require.Equal(t, int64(-1), steady)
}

func TestRunZerosOutputWhenCallerInputTooShort(t *testing.T) {
	const blockSize = 8
	in := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	out := audio.New(audio.ID{Kind: audio.KindAudio}, uint32(blockSize))
	task := &gainTask{in: in, out: out}
	sched := newTestSchedule(blockSize, task)

	frames := 8
	output := make([]float32, frames)
	for i := range output {
		output[i] = 99
	}

	executor.Run(sched, nil, [][]float32{output}, frames, 0)

	for _, v := range output {
		require.Equal(t, float32(0), v)
	}
}
