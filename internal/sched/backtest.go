package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/evotraders/evotraders/internal/calendar"
	"github.com/evotraders/evotraders/internal/observ"
)

// interCycleDelay gives storage and broadcast I/O a moment to flush between
// backtest dates.
const interCycleDelay = 50 * time.Millisecond

// BacktestScheduler iterates a precomputed list of historical trading dates
// strictly in order. Later dates depend on settled state from earlier ones,
// so cycles are never concurrent, and any cycle error aborts the whole run:
// a backtest must not silently produce a partial date range.
type BacktestScheduler struct {
	dates []string
	delay time.Duration
}

// NewBacktestScheduler precomputes the trading dates in [start, end] using
// the calendar, or a plain weekday filter when cal is nil.
func NewBacktestScheduler(cal *calendar.Calendar, start, end string) (*BacktestScheduler, error) {
	if cal == nil {
		cal = calendar.NYSE()
	}
	dates, err := cal.TradingDaysBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("sched: backtest range: %w", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("sched: no trading days between %s and %s", start, end)
	}
	return &BacktestScheduler{dates: dates, delay: interCycleDelay}, nil
}

// TradingDates returns the precomputed date list.
func (b *BacktestScheduler) TradingDates() []string {
	out := make([]string, len(b.dates))
	copy(out, b.dates)
	return out
}

// Run invokes cb for every date sequentially. The first error propagates and
// ends the run.
func (b *BacktestScheduler) Run(ctx context.Context, cb Callback) error {
	observ.Log("backtest_started", map[string]any{
		"start": b.dates[0], "end": b.dates[len(b.dates)-1], "days": len(b.dates),
	})
	for i, date := range b.dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cb(ctx, date); err != nil {
			observ.IncCounter("scheduler_cycle_errors_total", nil)
			return fmt.Errorf("sched: backtest aborted at %s (day %d of %d): %w",
				date, i+1, len(b.dates), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay):
		}
	}
	observ.Log("backtest_complete", map[string]any{"days": len(b.dates)})
	return nil
}
