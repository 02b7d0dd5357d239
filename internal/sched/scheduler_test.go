package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evotraders/evotraders/internal/calendar"
)

func testCalendar(t *testing.T, holidays ...string) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.Definition{Holidays: holidays})
	require.NoError(t, err)
	return cal
}

func TestNextTrigger(t *testing.T) {
	cal := testCalendar(t)
	loc := cal.Location()
	s := New(cal, Trigger{Mode: "daily", Time: "09:30"})

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"before trigger on a trading day fires same day",
			time.Date(2024, 1, 5, 8, 0, 0, 0, loc),
			time.Date(2024, 1, 5, 9, 30, 0, 0, loc),
		},
		{
			"after trigger rolls to next trading day",
			time.Date(2024, 1, 5, 10, 0, 0, 0, loc),
			time.Date(2024, 1, 8, 9, 30, 0, 0, loc),
		},
		{
			"saturday rolls to monday",
			time.Date(2024, 1, 6, 9, 0, 0, 0, loc),
			time.Date(2024, 1, 8, 9, 30, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, s.NextTrigger(tt.now).Equal(tt.want),
				"got %v want %v", s.NextTrigger(tt.now), tt.want)
		})
	}
}

func TestNextTriggerSkipsHoliday(t *testing.T) {
	cal := testCalendar(t, "2024-01-08")
	loc := cal.Location()
	s := New(cal, Trigger{Mode: "daily", Time: "09:30"})

	got := s.NextTrigger(time.Date(2024, 1, 6, 9, 0, 0, 0, loc))
	want := time.Date(2024, 1, 9, 9, 30, 0, 0, loc)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestSchedulerNowModeIsOneShot(t *testing.T) {
	s := New(testCalendar(t), Trigger{Mode: "now"})

	var mu sync.Mutex
	var dates []string
	cb := func(_ context.Context, date string) error {
		mu.Lock()
		dates = append(dates, date)
		mu.Unlock()
		return nil
	}
	require.NoError(t, s.Start(context.Background(), cb))

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("one-shot trigger did not finish")
	}
	s.Stop()
	s.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dates, 1)
}

func TestSchedulerIntradayLoops(t *testing.T) {
	s := New(testCalendar(t), Trigger{Mode: "intraday", Interval: 5 * time.Millisecond})

	var mu sync.Mutex
	count := 0
	require.NoError(t, s.Start(context.Background(), func(context.Context, string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)
}

func TestSchedulerContinuesAfterCycleError(t *testing.T) {
	s := New(testCalendar(t), Trigger{Mode: "intraday", Interval: 2 * time.Millisecond})

	var mu sync.Mutex
	count := 0
	require.NoError(t, s.Start(context.Background(), func(context.Context, string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return assert.AnError
	}))
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 2, "one bad cycle must not end the live loop")
}

func TestSchedulerRejectsUnknownMode(t *testing.T) {
	s := New(testCalendar(t), Trigger{})
	s.trig.Mode = "hourly"
	err := s.Start(context.Background(), func(context.Context, string) error { return nil })
	assert.Error(t, err)
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := New(testCalendar(t), Trigger{Mode: "intraday", Interval: time.Hour})
	require.NoError(t, s.Start(context.Background(), func(context.Context, string) error { return nil }))
	require.NoError(t, s.Start(context.Background(), func(context.Context, string) error { return nil }))
	s.Stop()
}
