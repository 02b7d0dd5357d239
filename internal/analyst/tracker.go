// Package analyst scores per-ticker directional predictions against realized
// open-to-close returns and maintains the persisted leaderboard.
package analyst

import (
	"sync"

	"github.com/evotraders/evotraders/internal/observ"
)

// Signal is the internal prediction vocabulary.
type Signal string

const (
	SignalLong  Signal = "long"
	SignalShort Signal = "short"
	SignalHold  Signal = "hold"
)

// Outcome classifies one scored ticker signal. Unknown means a price was
// missing: a first-class result excluded from win-rate numerator and
// denominator, never silently counted as a loss.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeUnknown   Outcome = "unknown"
	// OutcomeNotScored marks hold signals, which are never right or wrong.
	OutcomeNotScored Outcome = "not_scored"
)

// PMAnalystID is the synthetic analyst id under which the portfolio
// manager's own trade decisions are scored.
const PMAnalystID = "portfolio_manager"

// mapDirection converts the external direction vocabulary; anything
// unrecognized defaults to hold.
func mapDirection(direction string) Signal {
	switch direction {
	case "up":
		return SignalLong
	case "down":
		return SignalShort
	case "neutral":
		return SignalHold
	default:
		return SignalHold
	}
}

// mapAction converts portfolio-manager trade actions.
func mapAction(action string) Signal {
	switch action {
	case "buy", "cover":
		return SignalLong
	case "sell", "short":
		return SignalShort
	default:
		return SignalHold
	}
}

// TickerSignal is one audited prediction outcome.
type TickerSignal struct {
	Ticker     string  `json:"ticker"`
	Signal     Signal  `json:"signal"`
	Date       string  `json:"date"`
	OpenPrice  float64 `json:"open_price"`
	ClosePrice float64 `json:"close_price"`
	ReturnPct  float64 `json:"return_pct"`
	Outcome    Outcome `json:"is_correct"`
}

// SideStats counts one direction's predictions.
type SideStats struct {
	N       int `json:"n"`
	Win     int `json:"win"`
	Unknown int `json:"unknown"`
}

// Evaluation is one analyst's scored cycle.
type Evaluation struct {
	AnalystID string         `json:"analyst_id"`
	Date      string         `json:"date"`
	Total     int            `json:"total_predictions"` // scored long+short, unknowns excluded
	Correct   int            `json:"correct"`
	Unknown   int            `json:"unknown"`
	Holds     int            `json:"holds"`
	Bull      SideStats      `json:"bull"`
	Bear      SideStats      `json:"bear"`
	WinRate   *float64       `json:"win_rate"` // nil when nothing was scored
	Signals   []TickerSignal `json:"signals"`
}

// Tracker holds the current cycle's predictions. Recording overwrites the
// whole set; predictions never carry across cycles on their own and must be
// cleared by the settlement coordinator after evaluation.
type Tracker struct {
	mu          sync.Mutex
	predictions map[string]map[string]Signal // analyst -> ticker -> signal
}

func NewTracker() *Tracker {
	return &Tracker{predictions: map[string]map[string]Signal{}}
}

// RecordPredictions replaces the current cycle's prediction set. Directions
// use the external up/down/neutral vocabulary.
func (t *Tracker) RecordPredictions(predictions map[string]map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.predictions = make(map[string]map[string]Signal, len(predictions))
	for analyst, tickers := range predictions {
		set := make(map[string]Signal, len(tickers))
		for ticker, direction := range tickers {
			set[ticker] = mapDirection(direction)
		}
		t.predictions[analyst] = set
	}
	observ.Log("predictions_recorded", map[string]any{"analysts": len(predictions)})
}

// ClearDailyPredictions drops the cycle's prediction set.
func (t *Tracker) ClearDailyPredictions() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.predictions = map[string]map[string]Signal{}
}

// EvaluatePredictions scores every recorded prediction against open-to-close
// returns for date.
func (t *Tracker) EvaluatePredictions(open, close map[string]float64, date string) map[string]Evaluation {
	t.mu.Lock()
	preds := t.predictions
	t.mu.Unlock()

	out := make(map[string]Evaluation, len(preds))
	for analyst, tickers := range preds {
		out[analyst] = evaluateSet(analyst, tickers, open, close, date)
	}
	return out
}

// EvaluatePMDecisions scores the portfolio manager's own trade actions
// (buy/sell vocabulary) with identical correctness semantics, under the
// synthetic portfolio_manager analyst id.
func (t *Tracker) EvaluatePMDecisions(decisions map[string]string, open, close map[string]float64, date string) Evaluation {
	signals := make(map[string]Signal, len(decisions))
	for ticker, action := range decisions {
		signals[ticker] = mapAction(action)
	}
	return evaluateSet(PMAnalystID, signals, open, close, date)
}

func evaluateSet(analystID string, signals map[string]Signal, open, close map[string]float64, date string) Evaluation {
	ev := Evaluation{AnalystID: analystID, Date: date}
	for ticker, signal := range signals {
		openPx, closePx := open[ticker], close[ticker]
		ts := TickerSignal{
			Ticker: ticker, Signal: signal, Date: date,
			OpenPrice: openPx, ClosePrice: closePx,
		}
		switch {
		case signal == SignalHold:
			ts.Outcome = OutcomeNotScored
			ev.Holds++
		case openPx <= 0 || closePx <= 0:
			// unpriced: audit-recorded but excluded from scoring entirely
			ts.Outcome = OutcomeUnknown
			ev.Unknown++
			if signal == SignalLong {
				ev.Bull.N++
				ev.Bull.Unknown++
			} else {
				ev.Bear.N++
				ev.Bear.Unknown++
			}
		default:
			ts.ReturnPct = (closePx - openPx) / openPx * 100
			correct := (signal == SignalLong && closePx > openPx) ||
				(signal == SignalShort && closePx < openPx)
			if correct {
				ts.Outcome = OutcomeCorrect
				ev.Correct++
			} else {
				ts.Outcome = OutcomeIncorrect
			}
			ev.Total++
			if signal == SignalLong {
				ev.Bull.N++
				if correct {
					ev.Bull.Win++
				}
			} else {
				ev.Bear.N++
				if correct {
					ev.Bear.Win++
				}
			}
		}
		ev.Signals = append(ev.Signals, ts)
	}
	if ev.Total > 0 {
		rate := float64(ev.Correct) / float64(ev.Total)
		ev.WinRate = &rate
	}
	return ev
}
