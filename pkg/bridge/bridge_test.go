package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meadowlarkdaw/dropseed-go/internal/dlog"
	"github.com/meadowlarkdaw/dropseed-go/pkg/bridge"
	"github.com/meadowlarkdaw/dropseed-go/pkg/schedule"
)

func TestProcessInterleavedOutputOnlyEmitsSilenceOnUnderrun(t *testing.T) {
	b := bridge.NewBridge(48000, 0, 2, 64, dlog.New(nil))
	buf := make([]float32, 64*2)
	for i := range buf {
		buf[i] = 1
	}
	b.ProcessInterleavedOutputOnly(2, buf)
	for _, v := range buf {
		require.Zero(t, v)
	}
}

func TestRunEngineWorkerAdvancesStartedVersionOnPublishedSchedule(t *testing.T) {
	b := bridge.NewBridge(48000, 2, 2, 64, dlog.New(nil))

	sched := schedule.Empty(64)
	sched.Version = 7
	b.SwapSchedule(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunEngineWorker(ctx)

	b.PushInput(2, make([]float32, 64*2))

	deadline := time.Now().Add(2 * time.Second)
	for b.StartedVersion() != 7 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, uint64(7), b.StartedVersion())
}
