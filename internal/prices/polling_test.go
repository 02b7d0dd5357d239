package prices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuoter scripts per-symbol quote sequences; symbols without a script
// fail every fetch.
type fakeQuoter struct {
	mu     sync.Mutex
	quotes map[string][]Quote
	calls  map[string]int
}

func newFakeQuoter() *fakeQuoter {
	return &fakeQuoter{quotes: map[string][]Quote{}, calls: map[string]int{}}
}

func (f *fakeQuoter) script(symbol string, qs ...Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = qs
}

func (f *fakeQuoter) Fetch(_ context.Context, symbol string) (*Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	qs, ok := f.quotes[symbol]
	if !ok || len(qs) == 0 {
		return nil, &SourceError{Kind: "provider_error", Symbol: symbol, Message: "scripted failure"}
	}
	q := qs[0]
	if len(qs) > 1 {
		f.quotes[symbol] = qs[1:]
	}
	q.Symbol = symbol
	q.TimestampMs = time.Now().UnixMilli()
	return &q, nil
}

func (f *fakeQuoter) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func TestPollingSourcePartialFailure(t *testing.T) {
	fq := newFakeQuoter()
	fq.script("AAPL", Quote{Price: 101, Open: 100})

	src := NewPollingSource(fq, 5*time.Millisecond)
	src.Subscribe("AAPL", "DOWN")
	require.NoError(t, src.Start())
	time.Sleep(40 * time.Millisecond)
	src.Stop()

	px, ok := src.LatestPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, 101.0, px)

	_, ok = src.LatestPrice("DOWN")
	assert.False(t, ok)
	// the failing symbol never aborted the batch
	assert.Greater(t, fq.callCount("AAPL"), 1)
	assert.Greater(t, fq.callCount("DOWN"), 1)
}

func TestPollingSourceHoldsFirstOpen(t *testing.T) {
	fq := newFakeQuoter()
	fq.script("AAPL",
		Quote{Price: 101, Open: 100},
		Quote{Price: 102, Open: 99}, // later provider opens must not win
		Quote{Price: 103, Open: 99},
		Quote{Price: 104, Open: 99},
		Quote{Price: 105, Open: 99},
		Quote{Price: 106, Open: 99},
	)

	src := NewPollingSource(fq, 5*time.Millisecond)
	src.Subscribe("AAPL")
	require.NoError(t, src.Start())
	time.Sleep(25 * time.Millisecond)
	src.Stop()

	assert.Equal(t, 100.0, src.OpenPrice("AAPL"), "first session open is held")
}

func TestPollingSourceResetOpenPrices(t *testing.T) {
	fq := newFakeQuoter()
	fq.script("AAPL", Quote{Price: 101, Open: 100})

	src := NewPollingSource(fq, time.Millisecond)
	src.Subscribe("AAPL")
	require.NoError(t, src.Start())
	time.Sleep(10 * time.Millisecond)
	src.Stop()

	require.Equal(t, 100.0, src.OpenPrice("AAPL"))
	src.ResetOpenPrices()
	// with the cache cleared, open falls back to the latest price until
	// the next quote supplies a fresh one
	assert.Equal(t, 101.0, src.OpenPrice("AAPL"))
}

func TestPollingSourceStartStopIdempotent(t *testing.T) {
	src := NewPollingSource(newFakeQuoter(), time.Millisecond)
	require.NoError(t, src.Start(), "no subscriptions: warn and no-op")
	src.Stop()

	src.Subscribe("AAPL")
	require.NoError(t, src.Start())
	require.NoError(t, src.Start())
	src.Stop()
	src.Stop()
}

func TestQuoteClientRequiresAPIKey(t *testing.T) {
	_, err := NewQuoteClient(QuoteClientConfig{BaseURL: "https://example.com"})
	require.Error(t, err)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "config", se.Kind)
}
