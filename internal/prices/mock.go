package prices

import (
	"math/rand"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/observ"
)

const (
	// jumpProbability is the chance of a larger move on a single tick.
	jumpProbability = 0.10
	jumpScale       = 3.0
	// sessionClampPct bounds the walk to ±10% of the session open.
	sessionClampPct = 0.10
	// openGapPct bounds the random overnight gap applied on session reset.
	openGapPct = 0.02

	defaultMockPrice = 100.0
	stopJoinTimeout  = 2 * time.Second
)

// MockSource emits a bounded random walk per subscribed symbol on its own
// goroutine, for development and deterministic-enough demos without any
// upstream quote API.
type MockSource struct {
	*book

	pollInterval  time.Duration
	volatilityPct float64

	rngMu sync.Mutex
	rng   *rand.Rand

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMockSource builds a mock source. volatilityPct is the per-tick step
// size in percent (for example 0.5 for ±0.5%).
func NewMockSource(pollInterval time.Duration, volatilityPct float64) *MockSource {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if volatilityPct <= 0 {
		volatilityPct = 0.5
	}
	return &MockSource{
		book:          newBook(),
		pollInterval:  pollInterval,
		volatilityPct: volatilityPct,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockSource) Subscribe(symbols ...string) {
	m.subscribe(symbols...)
	// seed unseen symbols so the walk has an anchor before the first tick
	m.mu.Lock()
	for _, s := range symbols {
		if st, ok := m.symbols[s]; ok && st.latest <= 0 {
			st.latest = defaultMockPrice
			st.open = defaultMockPrice
			st.tsMs = nowMs()
		}
	}
	m.mu.Unlock()
}

func (m *MockSource) Unsubscribe(symbols ...string) { m.unsubscribe(symbols...) }
func (m *MockSource) AddCallback(cb Callback)       { m.addCallback(cb) }

// SeedPrices anchors the walk for specific symbols, overriding the default.
func (m *MockSource) SeedPrices(anchor map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, px := range anchor {
		if st, ok := m.symbols[s]; ok && px > 0 {
			st.latest = px
			st.open = px
			st.tsMs = nowMs()
		}
	}
}

func (m *MockSource) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		observ.Log("mock_source_already_running", nil)
		return nil
	}
	if m.count() == 0 {
		observ.Warn("mock_source_no_subscriptions", nil)
		return nil
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.run(m.stopCh, m.done)
	observ.Log("mock_source_started", map[string]any{"symbols": m.count()})
	return nil
}

func (m *MockSource) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	select {
	case <-m.done:
	case <-time.After(stopJoinTimeout):
		observ.Warn("mock_source_stop_timeout", nil)
	}
	m.running = false
	observ.Log("mock_source_stopped", nil)
}

func (m *MockSource) run(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *MockSource) tick() {
	for _, symbol := range m.subscribed() {
		m.mu.RLock()
		st, ok := m.symbols[symbol]
		var cur, open float64
		if ok {
			cur, open = st.latest, st.open
		}
		m.mu.RUnlock()
		if !ok || cur <= 0 {
			continue
		}

		m.rngMu.Lock()
		step := (m.rng.Float64()*2 - 1) * m.volatilityPct
		if m.rng.Float64() < jumpProbability {
			step *= jumpScale
		}
		m.rngMu.Unlock()

		px := cur * (1 + step/100)
		if open > 0 {
			if lo := open * (1 - sessionClampPct); px < lo {
				px = lo
			}
			if hi := open * (1 + sessionClampPct); px > hi {
				px = hi
			}
		}
		if u, ok := m.record(symbol, px, 0, 0, px, px, nowMs()); ok {
			m.emit(u)
		}
	}
}

func (m *MockSource) LatestPrice(symbol string) (float64, bool) { return m.latest(symbol) }
func (m *MockSource) OpenPrice(symbol string) float64           { return m.openPrice(symbol) }
func (m *MockSource) ClosePrice(symbol string) float64          { return m.closePrice(symbol) }
func (m *MockSource) AllLatestPrices() map[string]float64       { return m.allLatest() }

// ResetOpenPrices starts a fresh session: the new open is the prior close
// (latest price) shifted by a small random gap, and the walk re-anchors there.
func (m *MockSource) ResetOpenPrices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.symbols {
		prior := st.latest
		if prior <= 0 {
			prior = defaultMockPrice
		}
		m.rngMu.Lock()
		gap := (m.rng.Float64()*2 - 1) * openGapPct
		m.rngMu.Unlock()
		st.open = prior * (1 + gap)
		st.latest = st.open
		st.high = st.open
		st.low = st.open
	}
}
