package prices

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBars(t *testing.T, dir, symbol, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644))
}

func TestHistoricalSourceSetDate(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "AAPL", "Date,Open,High,Low,Close\n2024-01-02,10,12,9,11\n2024-01-05,12,14,11,13\n")

	src := NewHistoricalSource(dir)
	src.Subscribe("AAPL")
	require.NoError(t, src.Start())

	// exact date
	src.SetDate("2024-01-05")
	assert.Equal(t, 12.0, src.OpenPrice("AAPL"))
	assert.Equal(t, 13.0, src.ClosePrice("AAPL"))

	// missing date selects the nearest earlier bar
	src.SetDate("2024-01-03")
	assert.Equal(t, 10.0, src.OpenPrice("AAPL"))
	assert.Equal(t, 11.0, src.ClosePrice("AAPL"))

	// before the first bar there is nothing to select
	fresh := NewHistoricalSource(dir)
	fresh.Subscribe("AAPL")
	fresh.SetDate("2023-12-29")
	_, ok := fresh.LatestPrice("AAPL")
	assert.False(t, ok)
}

func TestHistoricalSourceEmit(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "AAPL", "Date,Open,High,Low,Close\n2024-01-02,10,12,9,11\n")

	src := NewHistoricalSource(dir)
	src.Subscribe("AAPL")

	var mu sync.Mutex
	var updates []Update
	src.AddCallback(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	src.SetDate("2024-01-02")
	src.EmitOpenPrices()
	src.EmitClosePrices()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	assert.Equal(t, 10.0, updates[0].Price)
	assert.Equal(t, 11.0, updates[1].Price)
	assert.Equal(t, 10.0, updates[1].Open)
	assert.InDelta(t, 10.0, updates[1].Ret, 1e-9, "close is +10% over open")

	latest, ok := src.LatestPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, 11.0, latest)
}

func TestHistoricalSourceCallbackPanicRecovered(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "AAPL", "Date,Open,High,Low,Close\n2024-01-02,10,12,9,11\n")

	src := NewHistoricalSource(dir)
	src.Subscribe("AAPL")

	src.AddCallback(func(Update) { panic("consumer bug") })
	got := 0
	src.AddCallback(func(Update) { got++ })

	src.SetDate("2024-01-02")
	src.EmitOpenPrices()

	assert.Equal(t, 1, got, "a panicking callback must not starve later ones")
}

func TestHistoricalSourceMissingCSV(t *testing.T) {
	src := NewHistoricalSource(t.TempDir())
	src.Subscribe("GHOST")
	require.NoError(t, src.Start())

	src.SetDate("2024-01-02")
	_, ok := src.LatestPrice("GHOST")
	assert.False(t, ok, "missing data degrades to unknown prices")
}

func TestLoadBarsSkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "AAPL", "Date,Open,High,Low,Close\n2024-01-02,10,12,9,11\n2024-01-03,bad,1,1,1\n2024-01-04,12,13,11,12.5\n")

	rows, err := loadBars(filepath.Join(dir, "AAPL.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-04", rows[1].Date)
}
