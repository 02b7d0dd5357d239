// Package baseline maintains three reference portfolios that mark to market
// alongside the agent's real portfolio: equal-weight, market-cap-weighted,
// and monthly-rotated momentum. The first two buy once and hold forever;
// their share counts are never recomputed after initialization.
package baseline

import (
	"sort"
	"sync"

	"github.com/evotraders/evotraders/internal/observ"
)

// HoldState is a buy-once portfolio: share counts are fixed at
// initialization, and all later calls only mark them to market.
type HoldState struct {
	Initialized       bool               `json:"initialized"`
	InitialAllocation map[string]float64 `json:"initial_allocation"`
	Cash              float64            `json:"cash"`
}

// MomentumState is the monthly-rotated portfolio.
type MomentumState struct {
	Positions         map[string]float64 `json:"positions"`
	Cash              float64            `json:"cash"`
	Initialized       bool               `json:"initialized"`
	LastRebalanceDate string             `json:"last_rebalance_date"`
}

// State is the full persisted baseline snapshot; round-trips losslessly.
type State struct {
	BaselineState   HoldState          `json:"baseline_state"`
	BaselineVWState HoldState          `json:"baseline_vw_state"`
	MomentumState   MomentumState      `json:"momentum_state"`
	PriceHistory    map[string][]Point `json:"price_history"`
}

// Calculator owns the three baseline portfolios and the close-price history
// feeding momentum. All mutation happens through the settlement coordinator,
// which is single-flight, but the mutex keeps the single-writer invariant
// even for callers that are not.
type Calculator struct {
	mu             sync.Mutex
	initialCapital float64
	lookback       int

	equalWeight HoldState
	marketCap   HoldState
	momentum    MomentumState

	history *History
}

// New creates an empty calculator; every portfolio initializes lazily on its
// first valuation (or first rebalance for momentum).
func New(initialCapital float64) *Calculator {
	if initialCapital <= 0 {
		initialCapital = 100000
	}
	return &Calculator{
		initialCapital: initialCapital,
		lookback:       defaultLookback,
		equalWeight:    HoldState{InitialAllocation: map[string]float64{}},
		marketCap:      HoldState{InitialAllocation: map[string]float64{}},
		momentum:       MomentumState{Positions: map[string]float64{}},
		history:        NewHistory(),
	}
}

// AppendCloses records a cycle's close prices into the momentum history.
func (c *Calculator) AppendCloses(date string, closes map[string]float64) {
	c.history.Append(date, closes)
}

// MomentumScores exposes the current momentum scores for the tickers.
func (c *Calculator) MomentumScores(tickers []string) map[string]float64 {
	return c.history.MomentumScores(tickers, c.lookback)
}

// EqualWeightValue marks the equal-weight portfolio to close prices; on the
// very first call it buys initialCapital/len(tickers) of each ticker at its
// open price. A ticker with a non-positive open at initialization is skipped
// and its allocation stays in cash, never redistributed.
func (c *Calculator) EqualWeightValue(tickers []string, open, close map[string]float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.equalWeight.Initialized {
		c.initHold(&c.equalWeight, tickers, open, equalWeights(tickers))
	}
	return holdValue(&c.equalWeight, open, close)
}

// MarketCapWeightedValue is the cap-weighted sibling of EqualWeightValue;
// initial allocation is proportional to each ticker's market cap. A zero
// total cap falls back to equal weighting.
func (c *Calculator) MarketCapWeightedValue(tickers []string, open, close, marketCaps map[string]float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.marketCap.Initialized {
		weights := capWeights(tickers, marketCaps)
		if weights == nil {
			observ.Warn("baseline_zero_market_cap", map[string]any{"tickers": len(tickers)})
			weights = equalWeights(tickers)
		}
		c.initHold(&c.marketCap, tickers, open, weights)
	}
	return holdValue(&c.marketCap, open, close)
}

// ShouldRebalance reports whether the momentum portfolio is due: it has
// never rebalanced, or date falls in a different calendar month than the
// last rebalance. Calendar-month granularity, not a rolling window.
func (c *Calculator) ShouldRebalance(date string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldRebalanceLocked(date)
}

func (c *Calculator) shouldRebalanceLocked(date string) bool {
	if !c.momentum.Initialized || c.momentum.LastRebalanceDate == "" {
		return true
	}
	return monthOf(date) != monthOf(c.momentum.LastRebalanceDate)
}

func monthOf(date string) string {
	if len(date) >= 7 {
		return date[:7] // YYYY-MM
	}
	return date
}

// MomentumValue marks the momentum portfolio to close prices, rebalancing
// first when forced or when a new calendar month has started. A rebalance
// liquidates at current prices and longs the top half of tickers by score,
// equal-weighted, buying at open prices.
func (c *Calculator) MomentumValue(tickers []string, open, close, scores map[string]float64, date string, force bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force || c.shouldRebalanceLocked(date) {
		c.rebalanceMomentumLocked(tickers, open, close, scores, date)
	}
	total := c.momentum.Cash
	for ticker, shares := range c.momentum.Positions {
		if px := markPrice(ticker, close, open); px > 0 {
			total += shares * px
		}
	}
	return total
}

func (c *Calculator) rebalanceMomentumLocked(tickers []string, open, close, scores map[string]float64, date string) {
	// liquidate at current prices
	value := c.momentum.Cash
	for ticker, shares := range c.momentum.Positions {
		if px := markPrice(ticker, close, open); px > 0 {
			value += shares * px
		}
	}
	if !c.momentum.Initialized {
		value = c.initialCapital
	}

	c.momentum.Positions = map[string]float64{}
	c.momentum.Cash = value
	c.momentum.Initialized = true
	c.momentum.LastRebalanceDate = date

	if len(tickers) == 0 {
		observ.Warn("momentum_rebalance_no_tickers", map[string]any{"date": date})
		return
	}

	// stable descending sort by score; ties keep original ticker order
	ranked := make([]string, len(tickers))
	copy(ranked, tickers)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	n := len(ranked) / 2
	if n == 0 {
		n = 1
	}
	top := ranked[:n]

	alloc := value / float64(n)
	for _, ticker := range top {
		px := open[ticker]
		if px <= 0 {
			px = close[ticker]
		}
		if px <= 0 {
			// allocation stays in cash for unpriced tickers
			continue
		}
		c.momentum.Positions[ticker] = alloc / px
		c.momentum.Cash -= alloc
	}
	observ.IncCounter("momentum_rebalances_total", nil)
	observ.Log("momentum_rebalanced", map[string]any{
		"date": date, "holdings": len(c.momentum.Positions), "value": value,
	})
}

// initHold performs the one-time buy for a buy-and-hold portfolio.
// weights must sum to at most 1; the unfilled remainder stays in cash.
func (c *Calculator) initHold(h *HoldState, tickers []string, open map[string]float64, weights map[string]float64) {
	h.InitialAllocation = map[string]float64{}
	h.Cash = 0
	for _, ticker := range tickers {
		allocation := c.initialCapital * weights[ticker]
		if allocation <= 0 {
			continue
		}
		px := open[ticker]
		if px <= 0 {
			// unpriced at initialization: the allocation is lost to cash,
			// not redistributed
			h.Cash += allocation
			observ.Warn("baseline_init_skipped_ticker", map[string]any{"ticker": ticker})
			continue
		}
		h.InitialAllocation[ticker] = allocation / px
	}
	h.Initialized = true
}

// holdValue marks fixed share counts to close prices (open fallback) + cash.
func holdValue(h *HoldState, open, close map[string]float64) float64 {
	total := h.Cash
	for ticker, shares := range h.InitialAllocation {
		if px := markPrice(ticker, close, open); px > 0 {
			total += shares * px
		}
	}
	return total
}

// markPrice prefers the first price map, falling back to the second.
func markPrice(ticker string, primary, fallback map[string]float64) float64 {
	if px := primary[ticker]; px > 0 {
		return px
	}
	return fallback[ticker]
}

func equalWeights(tickers []string) map[string]float64 {
	w := make(map[string]float64, len(tickers))
	if len(tickers) == 0 {
		return w
	}
	share := 1.0 / float64(len(tickers))
	for _, t := range tickers {
		w[t] = share
	}
	return w
}

// capWeights returns nil when the total market cap is not positive.
func capWeights(tickers []string, caps map[string]float64) map[string]float64 {
	total := 0.0
	for _, t := range tickers {
		if caps[t] > 0 {
			total += caps[t]
		}
	}
	if total <= 0 {
		return nil
	}
	w := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if caps[t] > 0 {
			w[t] = caps[t] / total
		}
	}
	return w
}

// ExportState snapshots everything needed to resume mark-to-market exactly
// as if the process never restarted.
func (c *Calculator) ExportState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		BaselineState:   copyHold(c.equalWeight),
		BaselineVWState: copyHold(c.marketCap),
		MomentumState:   copyMomentum(c.momentum),
		PriceHistory:    c.history.Export(),
	}
}

// LoadState restores a previously exported snapshot.
func (c *Calculator) LoadState(st State) {
	c.mu.Lock()
	c.equalWeight = copyHold(st.BaselineState)
	c.marketCap = copyHold(st.BaselineVWState)
	c.momentum = copyMomentum(st.MomentumState)
	if c.equalWeight.InitialAllocation == nil {
		c.equalWeight.InitialAllocation = map[string]float64{}
	}
	if c.marketCap.InitialAllocation == nil {
		c.marketCap.InitialAllocation = map[string]float64{}
	}
	if c.momentum.Positions == nil {
		c.momentum.Positions = map[string]float64{}
	}
	c.mu.Unlock()
	c.history.Load(st.PriceHistory)
}

func copyHold(h HoldState) HoldState {
	cp := h
	cp.InitialAllocation = make(map[string]float64, len(h.InitialAllocation))
	for k, v := range h.InitialAllocation {
		cp.InitialAllocation[k] = v
	}
	return cp
}

func copyMomentum(m MomentumState) MomentumState {
	cp := m
	cp.Positions = make(map[string]float64, len(m.Positions))
	for k, v := range m.Positions {
		cp.Positions[k] = v
	}
	return cp
}
