package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTradingDay(t *testing.T) {
	cal, err := New(Definition{Holidays: []string{"2024-01-15"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		date string
		want bool
	}{
		{"weekday", "2024-01-05", true},
		{"saturday", "2024-01-06", false},
		{"sunday", "2024-01-07", false},
		{"holiday", "2024-01-15", false},
		{"malformed", "not-a-date", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsTradingDay(tt.date))
		})
	}
}

func TestMarketHours(t *testing.T) {
	cal, err := New(Definition{})
	require.NoError(t, err)

	open, close, ok := cal.MarketHours("2024-01-05")
	require.True(t, ok)
	assert.Equal(t, 9, open.Hour())
	assert.Equal(t, 30, open.Minute())
	assert.Equal(t, 16, close.Hour())
	assert.Equal(t, 0, close.Minute())
	assert.Equal(t, "America/New_York", open.Location().String())

	_, _, ok = cal.MarketHours("2024-01-06")
	assert.False(t, ok, "saturday has no session hours")
}

func TestNextTradingDaySkipsWeekend(t *testing.T) {
	cal, err := New(Definition{})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-08", cal.NextTradingDay("2024-01-05"), "friday rolls to monday")
	assert.Equal(t, "2024-01-08", cal.NextTradingDay("2024-01-06"), "saturday rolls to monday")
}

func TestNextTradingDaySkipsHoliday(t *testing.T) {
	cal, err := New(Definition{Holidays: []string{"2024-01-08"}})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-09", cal.NextTradingDay("2024-01-05"))
}

func TestNextTradingDayBoundedScan(t *testing.T) {
	// every weekday in the scan window is a holiday; the scan must not loop
	// forever and returns the final candidate
	cal, err := New(Definition{Holidays: []string{
		"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12", "2024-01-15",
	}})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-15", cal.NextTradingDay("2024-01-05"))
}

func TestTradingDaysBetween(t *testing.T) {
	cal, err := New(Definition{})
	require.NoError(t, err)

	days, err := cal.TradingDaysBetween("2024-01-05", "2024-01-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05", "2024-01-08", "2024-01-09"}, days)

	_, err = cal.TradingDaysBetween("2024-01-09", "2024-01-05")
	assert.Error(t, err)
}

func TestNewRejectsBadDefinition(t *testing.T) {
	_, err := New(Definition{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = New(Definition{Open: "25:00"})
	assert.Error(t, err)
}
