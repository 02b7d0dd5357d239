// Package sched drives the trading cycle cadence: wall-clock triggers
// against the trading calendar in live mode, and strict sequential date
// iteration in backtests.
package sched

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/calendar"
	"github.com/evotraders/evotraders/internal/observ"
)

// Callback runs one trading cycle for a date. Cycles are single-flight: the
// scheduler never starts a second invocation before the first returns.
type Callback func(ctx context.Context, date string) error

// Trigger configures when cycles fire.
type Trigger struct {
	Mode     string // "daily", "intraday", or "now"
	Time     string // HH:MM exchange-local, daily mode only
	Interval time.Duration
}

// Scheduler fires the cycle callback on live wall-clock time, skipping
// non-trading days.
type Scheduler struct {
	cal  *calendar.Calendar
	trig Trigger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cal *calendar.Calendar, trig Trigger) *Scheduler {
	if trig.Mode == "" {
		trig.Mode = "daily"
	}
	if trig.Time == "" {
		trig.Time = "09:30"
	}
	if trig.Interval <= 0 {
		trig.Interval = 30 * time.Minute
	}
	return &Scheduler{cal: cal, trig: trig, now: time.Now}
}

// Start launches the trigger loop in the background. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		observ.Log("scheduler_already_running", nil)
		return nil
	}
	switch s.trig.Mode {
	case "daily", "intraday", "now":
	default:
		return fmt.Errorf("sched: unknown trigger mode %q", s.trig.Mode)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(runCtx, cb)
	observ.Log("scheduler_started", map[string]any{"mode": s.trig.Mode})
	return nil
}

// Stop cancels the loop unconditionally; idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
	observ.Log("scheduler_stopped", nil)
}

func (s *Scheduler) run(ctx context.Context, cb Callback) {
	defer close(s.done)
	switch s.trig.Mode {
	case "now":
		s.invoke(ctx, cb, s.now().In(s.cal.Location()).Format("2006-01-02"))
	case "intraday":
		s.runIntraday(ctx, cb)
	default:
		s.runDaily(ctx, cb)
	}
}

func (s *Scheduler) runDaily(ctx context.Context, cb Callback) {
	for {
		next := s.NextTrigger(s.now())
		if err := sleepUntil(ctx, s.now, next); err != nil {
			return
		}
		s.invoke(ctx, cb, next.Format("2006-01-02"))
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) runIntraday(ctx context.Context, cb Callback) {
	for {
		s.invoke(ctx, cb, s.now().In(s.cal.Location()).Format("2006-01-02"))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.trig.Interval):
		}
	}
}

// invoke runs one cycle; a failing cycle is logged and the loop continues,
// so one bad day does not terminate a live run.
func (s *Scheduler) invoke(ctx context.Context, cb Callback, date string) {
	start := time.Now()
	if err := cb(ctx, date); err != nil {
		if ctx.Err() != nil {
			return
		}
		observ.IncCounter("scheduler_cycle_errors_total", nil)
		observ.Warn("scheduler_cycle_failed", map[string]any{"date": date, "error": err.Error()})
		return
	}
	observ.ObserveDuration("scheduler_cycle", time.Since(start), nil)
	observ.Log("scheduler_cycle_complete", map[string]any{"date": date})
}

// NextTrigger computes the next daily trigger instant at or after now:
// today's trigger time when still ahead on a trading day, otherwise the
// trigger time on the next trading day.
func (s *Scheduler) NextTrigger(now time.Time) time.Time {
	loc := s.cal.Location()
	local := now.In(loc)
	date := local.Format("2006-01-02")
	h, m := parseTriggerTime(s.trig.Time)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	if s.cal.IsTradingDay(date) && local.Before(candidate) {
		return candidate
	}
	next := s.cal.NextTradingDay(date)
	d, err := time.ParseInLocation("2006-01-02", next, loc)
	if err != nil {
		// degraded calendar; try again tomorrow at trigger time
		d = local.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
}

func parseTriggerTime(v string) (int, int) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 9, 30
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 9, 30
	}
	return h, m
}

func sleepUntil(ctx context.Context, now func() time.Time, t time.Time) error {
	d := t.Sub(now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
