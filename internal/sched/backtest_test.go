package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktestSchedulerPrecomputesDates(t *testing.T) {
	bt, err := NewBacktestScheduler(testCalendar(t), "2024-01-05", "2024-01-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05", "2024-01-08", "2024-01-09"}, bt.TradingDates())
}

func TestBacktestSchedulerRange(t *testing.T) {
	_, err := NewBacktestScheduler(testCalendar(t), "2024-01-09", "2024-01-05")
	assert.Error(t, err, "inverted range")

	_, err = NewBacktestScheduler(testCalendar(t), "2024-01-06", "2024-01-07")
	assert.Error(t, err, "weekend-only range has no trading days")

	_, err = NewBacktestScheduler(testCalendar(t), "bad", "2024-01-05")
	assert.Error(t, err)
}

func TestBacktestSchedulerRunsSequentially(t *testing.T) {
	bt, err := NewBacktestScheduler(testCalendar(t), "2024-01-05", "2024-01-09")
	require.NoError(t, err)
	bt.delay = time.Millisecond

	var seen []string
	inFlight := 0
	err = bt.Run(context.Background(), func(_ context.Context, date string) error {
		inFlight++
		defer func() { inFlight-- }()
		require.Equal(t, 1, inFlight, "cycles must never overlap")
		seen = append(seen, date)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05", "2024-01-08", "2024-01-09"}, seen)
}

func TestBacktestSchedulerAbortsOnError(t *testing.T) {
	bt, err := NewBacktestScheduler(testCalendar(t), "2024-01-05", "2024-01-09")
	require.NoError(t, err)
	bt.delay = time.Millisecond

	var seen []string
	err = bt.Run(context.Background(), func(_ context.Context, date string) error {
		seen = append(seen, date)
		if date == "2024-01-08" {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "2024-01-08")
	// the run stops immediately: no partial, silently corrupt date range
	assert.Equal(t, []string{"2024-01-05", "2024-01-08"}, seen)
}

func TestBacktestSchedulerHonorsCancellation(t *testing.T) {
	bt, err := NewBacktestScheduler(testCalendar(t), "2024-01-05", "2024-01-09")
	require.NoError(t, err)
	bt.delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = bt.Run(ctx, func(context.Context, string) error {
		calls++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
