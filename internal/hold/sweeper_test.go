package hold

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingRegistry struct {
	Registry
	sweeps atomic.Int64
}

func (r *countingRegistry) SweepExpired(_ context.Context, _ time.Time) int {
	r.sweeps.Add(1)
	return 0
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	reg := &countingRegistry{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(reg, 10*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return reg.sweeps.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSweeperDefaultsInterval(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(&countingRegistry{}, 0, logger)
	assert.Equal(t, 5*time.Minute, sweeper.interval)
}
