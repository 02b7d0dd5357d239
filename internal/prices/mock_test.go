package prices

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSourceWalk(t *testing.T) {
	src := NewMockSource(5*time.Millisecond, 0.5)
	src.Subscribe("AAPL", "MSFT")
	src.Subscribe("AAPL") // idempotent

	var mu sync.Mutex
	var updates []Update
	src.AddCallback(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	require.NoError(t, src.Start())
	require.NoError(t, src.Start(), "second start is a no-op")
	time.Sleep(60 * time.Millisecond)
	src.Stop()
	src.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	for _, u := range updates {
		assert.Positive(t, u.Price)
		// walk is clamped to ±10% of the session open
		assert.GreaterOrEqual(t, u.Price, u.Open*0.9-1e-9, "symbol %s", u.Symbol)
		assert.LessOrEqual(t, u.Price, u.Open*1.1+1e-9, "symbol %s", u.Symbol)
	}

	px, ok := src.LatestPrice("AAPL")
	require.True(t, ok)
	assert.Positive(t, px)
}

func TestMockSourceStartWithoutSubscriptions(t *testing.T) {
	src := NewMockSource(time.Millisecond, 0.5)
	require.NoError(t, src.Start(), "zero subscriptions warns, never errors")
	src.Stop()
}

func TestMockSourceSeedAndReset(t *testing.T) {
	src := NewMockSource(time.Second, 0.5)
	src.Subscribe("AAPL")
	src.SeedPrices(map[string]float64{"AAPL": 250})

	px, ok := src.LatestPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, 250.0, px)
	assert.Equal(t, 250.0, src.OpenPrice("AAPL"))

	src.ResetOpenPrices()
	open := src.OpenPrice("AAPL")
	// new open gaps off the prior close by at most ±2%
	assert.InDelta(t, 250.0, open, 250.0*0.02+1e-9)
	latest, _ := src.LatestPrice("AAPL")
	assert.Equal(t, open, latest, "walk re-anchors at the new open")
}

func TestMockSourceUnsubscribeDropsState(t *testing.T) {
	src := NewMockSource(time.Second, 0.5)
	src.Subscribe("AAPL")
	src.Unsubscribe("AAPL")

	_, ok := src.LatestPrice("AAPL")
	assert.False(t, ok)
	assert.Empty(t, src.AllLatestPrices())
}
