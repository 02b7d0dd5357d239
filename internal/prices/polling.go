package prices

import (
	"context"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/observ"
)

// PollingSource polls a real quote API for all subscribed symbols once per
// interval on its own goroutine. A failed fetch for one symbol never aborts
// the rest of the batch. The first valid provider-supplied open of a session
// is captured and held until ResetOpenPrices.
type PollingSource struct {
	*book

	quoter       Quoter
	pollInterval time.Duration

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPollingSource wraps a quote client. The quoter must already be
// constructed; its API-key validation happens there.
func NewPollingSource(q Quoter, pollInterval time.Duration) *PollingSource {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &PollingSource{book: newBook(), quoter: q, pollInterval: pollInterval}
}

func (p *PollingSource) Subscribe(symbols ...string)   { p.subscribe(symbols...) }
func (p *PollingSource) Unsubscribe(symbols ...string) { p.unsubscribe(symbols...) }
func (p *PollingSource) AddCallback(cb Callback)       { p.addCallback(cb) }

func (p *PollingSource) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		observ.Log("polling_source_already_running", nil)
		return nil
	}
	if p.count() == 0 {
		observ.Warn("polling_source_no_subscriptions", nil)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.run(ctx, p.done)
	observ.Log("polling_source_started", map[string]any{
		"symbols": p.count(), "interval": p.pollInterval.String(),
	})
	return nil
}

func (p *PollingSource) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(stopJoinTimeout):
		observ.Warn("polling_source_stop_timeout", nil)
	}
	p.running = false
	observ.Log("polling_source_stopped", nil)
}

func (p *PollingSource) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches every subscribed symbol; per-symbol errors are logged and
// the batch continues.
func (p *PollingSource) pollOnce(ctx context.Context) {
	for _, symbol := range p.subscribed() {
		q, err := p.quoter.Fetch(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observ.IncCounter("quote_fetch_errors_total", map[string]string{"symbol": symbol})
			observ.Warn("quote_fetch_failed", map[string]any{"symbol": symbol, "error": err.Error()})
			continue
		}
		// book.record keeps the first valid open of the session; later
		// provider opens do not overwrite it.
		open := 0.0
		p.mu.RLock()
		if st, ok := p.symbols[symbol]; ok && st.open <= 0 {
			open = q.Open
		}
		p.mu.RUnlock()
		if u, ok := p.record(symbol, q.Price, open, 0, q.High, q.Low, q.TimestampMs); ok {
			p.emit(u)
		}
	}
}

func (p *PollingSource) LatestPrice(symbol string) (float64, bool) { return p.latest(symbol) }
func (p *PollingSource) OpenPrice(symbol string) float64           { return p.openPrice(symbol) }
func (p *PollingSource) ClosePrice(symbol string) float64          { return p.closePrice(symbol) }
func (p *PollingSource) AllLatestPrices() map[string]float64       { return p.allLatest() }

// ResetOpenPrices clears the cached session opens; the next poll's
// provider-supplied open re-anchors each symbol.
func (p *PollingSource) ResetOpenPrices() {
	p.clearOpens()
}
