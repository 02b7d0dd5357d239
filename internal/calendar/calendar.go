// Package calendar answers trading-session queries against an exchange
// definition: which dates are sessions and when they open and close.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evotraders/evotraders/internal/observ"
)

const dateLayout = "2006-01-02"

// maxForwardScan bounds NextTradingDay so a malformed holiday set can never
// spin the scheduler forever.
const maxForwardScan = 10

// Definition describes one exchange's sessions.
type Definition struct {
	Timezone string
	Open     string // HH:MM exchange-local
	Close    string // HH:MM exchange-local
	Holidays []string
}

// Calendar is a pure query object; it has no side effects or mutable state.
type Calendar struct {
	loc              *time.Location
	openHM, closeHM  [2]int
	holidays         map[string]struct{}
}

// NYSE returns the default US equities calendar with no holiday set loaded.
func NYSE() *Calendar {
	c, _ := New(Definition{})
	return c
}

// New builds a calendar from a definition. Zero fields default to NYSE
// regular hours in America/New_York.
func New(def Definition) (*Calendar, error) {
	if def.Timezone == "" {
		def.Timezone = "America/New_York"
	}
	if def.Open == "" {
		def.Open = "09:30"
	}
	if def.Close == "" {
		def.Close = "16:00"
	}
	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", def.Timezone, err)
	}
	open, err := parseHM(def.Open)
	if err != nil {
		return nil, fmt.Errorf("open time: %w", err)
	}
	cls, err := parseHM(def.Close)
	if err != nil {
		return nil, fmt.Errorf("close time: %w", err)
	}
	holidays := make(map[string]struct{}, len(def.Holidays))
	for _, h := range def.Holidays {
		holidays[h] = struct{}{}
	}
	return &Calendar{loc: loc, openHM: open, closeHM: cls, holidays: holidays}, nil
}

func parseHM(s string) ([2]int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return [2]int{}, fmt.Errorf("malformed HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return [2]int{}, fmt.Errorf("malformed hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return [2]int{}, fmt.Errorf("malformed minute %q", s)
	}
	return [2]int{h, m}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether date (YYYY-MM-DD) is a valid session.
// Malformed dates are not sessions.
func (c *Calendar) IsTradingDay(date string) bool {
	d, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		observ.Warn("calendar_bad_date", map[string]any{"date": date})
		return false
	}
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[date]
	return !holiday
}

// MarketHours returns the session open and close instants in exchange-local
// time, or ok=false when date is not a trading day.
func (c *Calendar) MarketHours(date string) (openAt, closeAt time.Time, ok bool) {
	if !c.IsTradingDay(date) {
		return time.Time{}, time.Time{}, false
	}
	d, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	openAt = time.Date(d.Year(), d.Month(), d.Day(), c.openHM[0], c.openHM[1], 0, 0, c.loc)
	closeAt = time.Date(d.Year(), d.Month(), d.Day(), c.closeHM[0], c.closeHM[1], 0, 0, c.loc)
	return openAt, closeAt, true
}

// NextTradingDay returns the first trading day strictly after date. The scan
// is bounded: if no session is found within maxForwardScan days the final
// candidate is returned anyway with a warning, never an error.
func (c *Calendar) NextTradingDay(date string) string {
	d, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		observ.Warn("calendar_bad_date", map[string]any{"date": date})
		return date
	}
	var candidate string
	for i := 1; i <= maxForwardScan; i++ {
		candidate = d.AddDate(0, 0, i).Format(dateLayout)
		if c.IsTradingDay(candidate) {
			return candidate
		}
	}
	observ.Warn("calendar_scan_exhausted", map[string]any{
		"from": date, "fallback": candidate, "scanned_days": maxForwardScan,
	})
	return candidate
}

// TradingDaysBetween lists the trading dates in [start, end] in order.
func (c *Calendar) TradingDaysBetween(start, end string) ([]string, error) {
	s, err := time.ParseInLocation(dateLayout, start, c.loc)
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	e, err := time.ParseInLocation(dateLayout, end, c.loc)
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("end date %s before start date %s", end, start)
	}
	var out []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		ds := d.Format(dateLayout)
		if c.IsTradingDay(ds) {
			out = append(out, ds)
		}
	}
	return out, nil
}
