// Package prices provides interchangeable market price sources behind one
// capability contract: subscribe, callbacks, start/stop, and latest/open/close
// lookups. Variants: mock random walk, live polling, and historical CSV.
package prices

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/observ"
)

// Update is one price snapshot pushed to registered callbacks.
// Ret is the intrasession percent change off the session open, recomputed on
// every emission and never persisted.
type Update struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp"`
	Open        float64 `json:"open"`
	Close       float64 `json:"close"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Ret         float64 `json:"ret"`
}

// Callback receives price updates synchronously on the source's update path.
type Callback func(Update)

// Source is the capability contract shared by all price source variants.
// Zero or negative prices mean "unknown" throughout; nil never leaks into
// price arithmetic.
type Source interface {
	// Subscribe adds symbols; re-adding a subscribed symbol is a no-op.
	Subscribe(symbols ...string)
	// Unsubscribe removes symbol state entirely, cached prices included.
	Unsubscribe(symbols ...string)
	// AddCallback registers a price callback. Callbacks run in registration
	// order; a panicking callback is recovered and logged so one failing
	// consumer cannot starve the rest.
	AddCallback(cb Callback)
	// Start is a no-op when already running or when nothing is subscribed.
	Start() error
	// Stop is idempotent and joins any background poller before returning,
	// bounded so a stuck poller cannot hang shutdown.
	Stop()
	LatestPrice(symbol string) (float64, bool)
	// OpenPrice falls back to the latest price when no valid open is held.
	OpenPrice(symbol string) float64
	// ClosePrice falls back to the latest price when no valid close is held.
	ClosePrice(symbol string) float64
	AllLatestPrices() map[string]float64
	// ResetOpenPrices re-anchors the session open reference; semantics are
	// variant-specific.
	ResetOpenPrices()
}

// SourceError is a typed price-source failure in the quote-fetch path.
type SourceError struct {
	Kind    string // "network", "rate_limit", "provider_error", "bad_symbol", "config"
	Symbol  string
	Message string
	Cause   error
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *SourceError) Unwrap() error { return e.Cause }

type symbolState struct {
	latest float64
	open   float64
	close  float64
	high   float64
	low    float64
	tsMs   int64
}

// book holds the subscription table and callback list shared by all variants.
type book struct {
	mu        sync.RWMutex
	symbols   map[string]*symbolState
	callbacks []Callback
}

func newBook() *book {
	return &book{symbols: map[string]*symbolState{}}
}

func (b *book) subscribe(symbols ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		if _, ok := b.symbols[s]; ok {
			continue
		}
		b.symbols[s] = &symbolState{}
	}
}

func (b *book) unsubscribe(symbols ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		delete(b.symbols, s)
	}
}

func (b *book) addCallback(cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

func (b *book) subscribed() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (b *book) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.symbols)
}

// record stores a new observation and returns the update to emit.
// ok=false when the symbol is not subscribed.
func (b *book) record(symbol string, price, open, closePx, high, low float64, tsMs int64) (Update, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.symbols[symbol]
	if !ok {
		return Update{}, false
	}
	if price > 0 {
		st.latest = price
	}
	if open > 0 {
		st.open = open
	}
	if closePx > 0 {
		st.close = closePx
	}
	if high > 0 && high > st.high {
		st.high = high
	}
	if low > 0 && (st.low <= 0 || low < st.low) {
		st.low = low
	}
	if tsMs > 0 {
		st.tsMs = tsMs
	}
	u := Update{
		Symbol:      symbol,
		Price:       st.latest,
		TimestampMs: st.tsMs,
		Open:        st.open,
		Close:       st.close,
		High:        st.high,
		Low:         st.low,
	}
	if st.open > 0 && st.latest > 0 {
		u.Ret = (st.latest - st.open) / st.open * 100
	}
	return u, true
}

// emit invokes every callback in registration order, recovering panics
// per callback so remaining consumers still run.
func (b *book) emit(u Update) {
	b.mu.RLock()
	cbs := make([]Callback, len(b.callbacks))
	copy(cbs, b.callbacks)
	b.mu.RUnlock()
	for i, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					observ.IncCounter("price_callback_panics_total", nil)
					observ.Warn("price_callback_panic", map[string]any{
						"symbol": u.Symbol, "callback": i, "panic": fmt.Sprint(r),
					})
				}
			}()
			cb(u)
		}()
	}
}

func (b *book) latest(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.symbols[symbol]
	if !ok || st.latest <= 0 {
		return 0, false
	}
	return st.latest, true
}

func (b *book) openPrice(symbol string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.symbols[symbol]
	if !ok {
		return 0
	}
	if st.open > 0 {
		return st.open
	}
	return st.latest
}

func (b *book) closePrice(symbol string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.symbols[symbol]
	if !ok {
		return 0
	}
	if st.close > 0 {
		return st.close
	}
	return st.latest
}

func (b *book) allLatest() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.symbols))
	for s, st := range b.symbols {
		if st.latest > 0 {
			out[s] = st.latest
		}
	}
	return out
}

// clearOpens discards the session open anchors for all symbols.
func (b *book) clearOpens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.symbols {
		st.open = 0
		st.high = 0
		st.low = 0
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
