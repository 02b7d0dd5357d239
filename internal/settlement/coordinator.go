// Package settlement reconciles one completed trading cycle: price history,
// baseline portfolios, prediction scoring, leaderboard, and persistence.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/evotraders/evotraders/internal/analyst"
	"github.com/evotraders/evotraders/internal/baseline"
	"github.com/evotraders/evotraders/internal/observ"
	"github.com/evotraders/evotraders/internal/portfolio"
)

// placeholderMarketCap substitutes for a failed market-cap lookup. It skews
// the cap-weighted baseline's initial allocation, which is a documented
// approximation kept for historical comparability; every substitution is
// surfaced as a diagnostic.
const placeholderMarketCap = 1e9

// Store is the external persistence collaborator. The format is the store's
// choice; it only has to round-trip.
type Store interface {
	LoadSettlementState() (*baseline.State, error) // nil, nil when absent
	SaveSettlementState(*baseline.State) error
	LoadLeaderboard() ([]analyst.Entry, error)
	SaveLeaderboard([]analyst.Entry) error
}

// Input carries everything a cycle's settlement needs. AnalystSignals uses
// the external up/down/neutral vocabulary; PMDecisions uses buy/sell.
type Input struct {
	Date           string
	Tickers        []string
	OpenPrices     map[string]float64
	ClosePrices    map[string]float64
	MarketCaps     map[string]float64
	AgentPortfolio *portfolio.Portfolio
	AnalystSignals map[string]map[string]string
	PMDecisions    map[string]string
}

// Result is consumed by the external gateway for broadcast and dashboard
// updates. BaselineValues in particular feeds the separate dashboard-history
// step; the coordinator deliberately does not apply history itself.
type Result struct {
	ID             string                         `json:"id"`
	Date           string                         `json:"date"`
	AgentValue     float64                        `json:"agent_value"`
	BaselineValues map[string]float64             `json:"baseline_values"`
	Evaluations    map[string]analyst.Evaluation  `json:"evaluations"`
	Leaderboard    []analyst.Entry                `json:"leaderboard"`
}

// Coordinator exclusively owns its calculator and tracker; the scheduler's
// single-flight guarantee serializes settlement, and the mutex preserves the
// single-writer invariant for any other caller.
type Coordinator struct {
	mu      sync.Mutex
	store   Store
	basis   *baseline.Calculator
	tracker *analyst.Tracker
	board   *analyst.Leaderboard
}

// New builds a coordinator and restores persisted settlement state, so
// baseline share counts survive restarts.
func New(store Store, initialCapital float64) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("settlement: store is required")
	}
	c := &Coordinator{
		store:   store,
		basis:   baseline.New(initialCapital),
		tracker: analyst.NewTracker(),
		board:   &analyst.Leaderboard{},
	}
	st, err := store.LoadSettlementState()
	if err != nil {
		return nil, fmt.Errorf("settlement: load state: %w", err)
	}
	if st != nil {
		c.basis.LoadState(*st)
		observ.Log("settlement_state_restored", nil)
	}
	entries, err := store.LoadLeaderboard()
	if err != nil {
		return nil, fmt.Errorf("settlement: load leaderboard: %w", err)
	}
	c.board.Entries = entries
	return c, nil
}

// RecordAnalystPredictions forwards the cycle's predictions to the tracker;
// the gateway calls this before the close, settlement evaluates after.
func (c *Coordinator) RecordAnalystPredictions(predictions map[string]map[string]string) {
	c.tracker.RecordPredictions(predictions)
}

// Leaderboard returns a copy of the current board.
func (c *Coordinator) Leaderboard() []analyst.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]analyst.Entry, len(c.board.Entries))
	copy(out, c.board.Entries)
	return out
}

// RunDailySettlement executes one cycle's settlement in a fixed step order;
// no step may be skipped or reordered, because each feeds the next.
// Persistence happens only after all computation succeeds, so a failed cycle
// never corrupts previously persisted state. Errors propagate to the caller,
// which owns cycle-level error reporting.
func (c *Coordinator) RunDailySettlement(ctx context.Context, in Input) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Date == "" {
		return nil, fmt.Errorf("settlement: date is required")
	}
	if len(in.Tickers) == 0 {
		return nil, fmt.Errorf("settlement: tickers are required")
	}

	// live sessions may lack true opens; degrade to closes for both sides
	openPrices := in.OpenPrices
	if len(openPrices) == 0 {
		observ.Warn("settlement_no_open_prices", map[string]any{"date": in.Date})
		openPrices = in.ClosePrices
	}

	// 1. extend price history with today's closes
	c.basis.AppendCloses(in.Date, in.ClosePrices)

	// 2. momentum scores off the updated history
	scores := c.basis.MomentumScores(in.Tickers)

	// 3. calendar-month rebalance check
	rebalance := c.basis.ShouldRebalance(in.Date)

	// 4. all three baseline valuations
	caps := c.resolveMarketCaps(in.Tickers, in.MarketCaps, in.Date)
	baselineValues := map[string]float64{
		"equal_weight":        c.basis.EqualWeightValue(in.Tickers, openPrices, in.ClosePrices),
		"market_cap_weighted": c.basis.MarketCapWeightedValue(in.Tickers, openPrices, in.ClosePrices, caps),
		"momentum":            c.basis.MomentumValue(in.Tickers, openPrices, in.ClosePrices, scores, in.Date, rebalance),
	}

	// 5. agent portfolio mark-to-market
	agentValue := in.AgentPortfolio.Value(in.ClosePrices)

	// 6. score analysts and, when provided, the PM's own decisions
	if in.AnalystSignals != nil {
		c.tracker.RecordPredictions(in.AnalystSignals)
	}
	evals := c.tracker.EvaluatePredictions(openPrices, in.ClosePrices, in.Date)
	if len(in.PMDecisions) > 0 {
		evals[analyst.PMAnalystID] = c.tracker.EvaluatePMDecisions(in.PMDecisions, openPrices, in.ClosePrices, in.Date)
	}

	// 7. fold into the leaderboard
	c.board.Apply(evals)

	// 8. persist, then clear cycle-local prediction state
	if err := c.store.SaveLeaderboard(c.board.Entries); err != nil {
		return nil, fmt.Errorf("settlement: save leaderboard: %w", err)
	}
	c.updateSummaryWithBaselines(baselineValues)
	c.tracker.ClearDailyPredictions()
	st := c.basis.ExportState()
	if err := c.store.SaveSettlementState(&st); err != nil {
		return nil, fmt.Errorf("settlement: save state: %w", err)
	}

	// 9. hand the gateway everything it needs to broadcast and to apply
	// the dashboard history delta
	res := &Result{
		ID:             ulid.Make().String(),
		Date:           in.Date,
		AgentValue:     agentValue,
		BaselineValues: baselineValues,
		Evaluations:    evals,
		Leaderboard:    append([]analyst.Entry(nil), c.board.Entries...),
	}
	observ.IncCounter("settlement_cycles_total", nil)
	observ.SetGauge("baseline_equal_weight_value", baselineValues["equal_weight"], nil)
	observ.SetGauge("baseline_market_cap_value", baselineValues["market_cap_weighted"], nil)
	observ.SetGauge("baseline_momentum_value", baselineValues["momentum"], nil)
	observ.SetGauge("agent_portfolio_value", agentValue, nil)
	observ.SetLastSettlementDate(in.Date)
	observ.Log("settlement_complete", map[string]any{
		"id": res.ID, "date": in.Date, "agent_value": agentValue,
	})
	return res, nil
}

// resolveMarketCaps fills missing caps with the 1e9 placeholder and counts
// every substitution, so skew in the cap-weighted baseline is visible.
func (c *Coordinator) resolveMarketCaps(tickers []string, caps map[string]float64, date string) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		if v := caps[ticker]; v > 0 {
			out[ticker] = v
			continue
		}
		out[ticker] = placeholderMarketCap
		observ.IncCounter("market_cap_placeholders_total", map[string]string{"symbol": ticker})
		observ.Warn("market_cap_placeholder", map[string]any{"ticker": ticker, "date": date})
	}
	return out
}

// updateSummaryWithBaselines intentionally does nothing: dashboard history
// updates live with the external dashboard updater, which consumes
// Result.BaselineValues. Applying them here as well produced desynchronized
// histories.
func (c *Coordinator) updateSummaryWithBaselines(map[string]float64) {}
