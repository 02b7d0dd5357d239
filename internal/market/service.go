// Package market wraps one price source behind a timezone- and
// calendar-aware session API: wait for open, wait for close, status, and
// best-effort snapshots.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/calendar"
	"github.com/evotraders/evotraders/internal/observ"
	"github.com/evotraders/evotraders/internal/prices"
)

// Session status values reported by Status.
const (
	StatusOpen       = "open"
	StatusClosed     = "closed"
	StatusPremarket  = "premarket"
	StatusAfterhours = "afterhours"
)

const (
	openPollAttempts = 12
	openPollDelay    = 5 * time.Second
)

// Config selects the price source variant and its parameters. Mode
// precedence: backtest > mock > live.
type Config struct {
	BacktestMode bool
	MockMode     bool
	Tickers      []string
	PollInterval time.Duration
	Volatility   float64
	DataDir      string
	Quote        prices.QuoteClientConfig
}

// Status is a pure function of current time against the trading calendar.
type Status struct {
	Status       string     `json:"status"`
	IsTradingDay bool       `json:"is_trading_day"`
	MarketOpen   *time.Time `json:"market_open,omitempty"`
	MarketClose  *time.Time `json:"market_close,omitempty"`
}

// Service owns exactly one price source, created at Start and torn down at
// Stop.
type Service struct {
	cfg Config
	cal *calendar.Calendar
	now func() time.Time

	mu        sync.Mutex
	running   bool
	src       prices.Source
	broadcast func(prices.Update)

	// session-return tracking, valid only while the session is open
	sessionMu      sync.Mutex
	sessionStatus  string
	sessionOpen    map[string]float64
	sessionOpenAt  time.Time
}

// New validates the configuration. Live mode without an API key is a fatal
// configuration error, surfaced here rather than on first poll.
func New(cfg Config, cal *calendar.Calendar) (*Service, error) {
	if cal == nil {
		return nil, fmt.Errorf("market: calendar is required")
	}
	if len(cfg.Tickers) == 0 {
		return nil, fmt.Errorf("market: at least one ticker is required")
	}
	if !cfg.BacktestMode && !cfg.MockMode && cfg.Quote.APIKey == "" {
		return nil, fmt.Errorf("market: live mode requires a quote API key")
	}
	return &Service{cfg: cfg, cal: cal, now: time.Now, sessionStatus: StatusClosed}, nil
}

// Start builds the configured source, subscribes the tickers, and begins
// emission. broadcast, when non-nil, receives every price update after the
// service's own bookkeeping.
func (s *Service) Start(broadcast func(prices.Update)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		observ.Log("market_service_already_running", nil)
		return nil
	}
	src, err := s.buildSource()
	if err != nil {
		return err
	}
	s.src = src
	s.broadcast = broadcast
	src.Subscribe(s.cfg.Tickers...)
	src.AddCallback(s.onUpdate)
	if err := src.Start(); err != nil {
		return err
	}
	s.running = true
	observ.Log("market_service_started", map[string]any{
		"mode": s.mode(), "tickers": len(s.cfg.Tickers),
	})
	return nil
}

// Stop tears down the source; safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.src.Stop()
	s.src = nil
	s.running = false
	observ.Log("market_service_stopped", nil)
}

// Source exposes the active price source; the backtest driver uses it to
// select dates and emit open/close bars. Nil when stopped.
func (s *Service) Source() prices.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

func (s *Service) mode() string {
	switch {
	case s.cfg.BacktestMode:
		return "backtest"
	case s.cfg.MockMode:
		return "mock"
	default:
		return "live"
	}
}

func (s *Service) buildSource() (prices.Source, error) {
	switch {
	case s.cfg.BacktestMode:
		return prices.NewHistoricalSource(s.cfg.DataDir), nil
	case s.cfg.MockMode:
		return prices.NewMockSource(s.cfg.PollInterval, s.cfg.Volatility), nil
	default:
		client, err := prices.NewQuoteClient(s.cfg.Quote)
		if err != nil {
			return nil, err
		}
		return prices.NewPollingSource(client, s.cfg.PollInterval), nil
	}
}

func (s *Service) onUpdate(u prices.Update) {
	if s.broadcast != nil {
		s.broadcast(u)
	}
}

// Snapshot returns the latest known price per subscribed ticker, 0.0 when
// unknown. Zero or negative always means "unknown" in snapshot APIs.
func (s *Service) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.cfg.Tickers))
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	for _, t := range s.cfg.Tickers {
		out[t] = 0.0
		if src != nil {
			if px, ok := src.LatestPrice(t); ok {
				out[t] = px
			}
		}
	}
	return out
}

// OpenSnapshot returns per-ticker session opens with latest-price fallback.
func (s *Service) OpenSnapshot() map[string]float64 {
	out := make(map[string]float64, len(s.cfg.Tickers))
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	for _, t := range s.cfg.Tickers {
		if src != nil {
			out[t] = src.OpenPrice(t)
		} else {
			out[t] = 0.0
		}
	}
	return out
}

// CloseSnapshot returns per-ticker session closes with latest-price fallback.
func (s *Service) CloseSnapshot() map[string]float64 {
	out := make(map[string]float64, len(s.cfg.Tickers))
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	for _, t := range s.cfg.Tickers {
		if src != nil {
			out[t] = src.ClosePrice(t)
		} else {
			out[t] = 0.0
		}
	}
	return out
}

// WaitForOpenPrices suspends until the next session open, re-anchors the
// source's open reference, then polls until every subscribed price is
// positive, up to a bounded number of attempts. It never blocks past the
// retry budget; whatever is known is returned.
func (s *Service) WaitForOpenPrices(ctx context.Context) (map[string]float64, error) {
	if s.cfg.BacktestMode {
		return s.OpenSnapshot(), nil
	}
	openAt, _, err := s.nextSessionHours()
	if err != nil {
		return nil, err
	}
	if err := s.sleepUntil(ctx, openAt); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.src != nil {
		s.src.ResetOpenPrices()
	}
	s.mu.Unlock()
	snap, err := s.pollUntilComplete(ctx, s.OpenSnapshot)
	if err != nil {
		return nil, err
	}
	s.markSessionOpen(snap)
	return snap, nil
}

// WaitForClosePrices is the close-side counterpart of WaitForOpenPrices.
func (s *Service) WaitForClosePrices(ctx context.Context) (map[string]float64, error) {
	if s.cfg.BacktestMode {
		return s.CloseSnapshot(), nil
	}
	_, closeAt, err := s.nextSessionHours()
	if err != nil {
		return nil, err
	}
	if err := s.sleepUntil(ctx, closeAt); err != nil {
		return nil, err
	}
	snap, err := s.pollUntilComplete(ctx, s.Snapshot)
	if err != nil {
		return nil, err
	}
	s.clearSession()
	return snap, nil
}

// nextSessionHours resolves today's session hours, rolling forward to the
// next trading day when today is not one.
func (s *Service) nextSessionHours() (openAt, closeAt time.Time, err error) {
	date := s.now().In(s.cal.Location()).Format("2006-01-02")
	if !s.cal.IsTradingDay(date) {
		date = s.cal.NextTradingDay(date)
	}
	openAt, closeAt, ok := s.cal.MarketHours(date)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("market: no session hours for %s", date)
	}
	return openAt, closeAt, nil
}

// sleepUntil suspends until t or context cancellation; waits may span hours.
func (s *Service) sleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(s.now())
	if d <= 0 {
		return nil
	}
	observ.Log("market_waiting", map[string]any{"until": t.Format(time.RFC3339), "for": d.String()})
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollUntilComplete retries a snapshot until all tickers have positive
// prices or the attempt budget is spent, returning the last snapshot either
// way.
func (s *Service) pollUntilComplete(ctx context.Context, snapshot func() map[string]float64) (map[string]float64, error) {
	var snap map[string]float64
	for attempt := 0; attempt < openPollAttempts; attempt++ {
		snap = snapshot()
		if allPositive(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openPollDelay):
		}
	}
	observ.Warn("market_snapshot_incomplete", map[string]any{"attempts": openPollAttempts})
	return snap, nil
}

func allPositive(prices map[string]float64) bool {
	if len(prices) == 0 {
		return false
	}
	for _, px := range prices {
		if px <= 0 {
			return false
		}
	}
	return true
}

// MarketStatus reports the current session phase. Backtest mode always
// reports open so the settlement driver is never gated on wall-clock time.
func (s *Service) MarketStatus() Status {
	if s.cfg.BacktestMode {
		return Status{Status: StatusOpen, IsTradingDay: true}
	}
	now := s.now().In(s.cal.Location())
	date := now.Format("2006-01-02")
	if !s.cal.IsTradingDay(date) {
		s.transitionTo(StatusClosed)
		return Status{Status: StatusClosed, IsTradingDay: false}
	}
	openAt, closeAt, _ := s.cal.MarketHours(date)
	st := Status{IsTradingDay: true, MarketOpen: &openAt, MarketClose: &closeAt}
	switch {
	case now.Before(openAt):
		st.Status = StatusPremarket
	case now.Before(closeAt):
		st.Status = StatusOpen
	default:
		st.Status = StatusAfterhours
	}
	s.transitionTo(st.Status)
	return st
}

// transitionTo maintains the session-return baseline across status changes.
func (s *Service) transitionTo(status string) {
	s.sessionMu.Lock()
	prev := s.sessionStatus
	s.sessionStatus = status
	s.sessionMu.Unlock()
	if prev == status {
		return
	}
	if status == StatusOpen {
		s.markSessionOpen(s.Snapshot())
	} else if prev == StatusOpen {
		s.clearSession()
	}
}

func (s *Service) markSessionOpen(baseline map[string]float64) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionStatus = StatusOpen
	s.sessionOpen = make(map[string]float64, len(baseline))
	for t, px := range baseline {
		if px > 0 {
			s.sessionOpen[t] = px
		}
	}
	s.sessionOpenAt = s.now()
}

func (s *Service) clearSession() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionOpen = nil
	s.sessionOpenAt = time.Time{}
}

// SessionReturns reports intrasession percent change per ticker against the
// captured open baseline, plus the portfolio return when a baseline
// portfolio value is supplied (pass 0 to skip it).
type SessionReturns struct {
	Since   time.Time          `json:"since"`
	Tickers map[string]float64 `json:"tickers"`
	// PortfolioPct is meaningful only when a positive baseline was given.
	PortfolioPct float64 `json:"portfolio_pct"`
}

func (s *Service) SessionReturns(portfolioBaseline, portfolioNow float64) (SessionReturns, bool) {
	s.sessionMu.Lock()
	baseline := s.sessionOpen
	since := s.sessionOpenAt
	s.sessionMu.Unlock()
	if baseline == nil {
		return SessionReturns{}, false
	}
	out := SessionReturns{Since: since, Tickers: map[string]float64{}}
	snap := s.Snapshot()
	for t, openPx := range baseline {
		if cur := snap[t]; cur > 0 && openPx > 0 {
			out.Tickers[t] = (cur - openPx) / openPx * 100
		}
	}
	if portfolioBaseline > 0 {
		out.PortfolioPct = (portfolioNow - portfolioBaseline) / portfolioBaseline * 100
	}
	return out, true
}
