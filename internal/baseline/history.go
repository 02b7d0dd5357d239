package baseline

import "sync"

// historyCap is the sliding-window size of retained closes per ticker; the
// window only feeds momentum scoring.
const historyCap = 60

// defaultLookback is the momentum lookback in observations.
const defaultLookback = 20

// Point is one retained (date, close) observation.
type Point struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// History is the per-ticker close-price ring used for momentum scoring.
// Append-only per cycle, truncated from the front at historyCap entries.
type History struct {
	mu     sync.Mutex
	series map[string][]Point
}

func NewHistory() *History {
	return &History{series: map[string][]Point{}}
}

// Append records today's closes; non-positive prices are skipped.
func (h *History) Append(date string, closes map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ticker, px := range closes {
		if px <= 0 {
			continue
		}
		s := append(h.series[ticker], Point{Date: date, Price: px})
		if len(s) > historyCap {
			s = s[len(s)-historyCap:]
		}
		h.series[ticker] = s
	}
}

// MomentumScores returns the simple percent return over the lookback window
// per ticker. Short histories degrade to the earliest available point as the
// baseline; tickers without at least two points get no score.
func (h *History) MomentumScores(tickers []string, lookback int) map[string]float64 {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	scores := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		s := h.series[ticker]
		if len(s) < 2 {
			continue
		}
		base := s[0]
		if len(s) >= lookback {
			base = s[len(s)-lookback]
		}
		latest := s[len(s)-1]
		if base.Price > 0 {
			scores[ticker] = (latest.Price - base.Price) / base.Price * 100
		}
	}
	return scores
}

// Export returns a deep copy of the retained series.
func (h *History) Export() map[string][]Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]Point, len(h.series))
	for ticker, s := range h.series {
		cp := make([]Point, len(s))
		copy(cp, s)
		out[ticker] = cp
	}
	return out
}

// Load replaces the retained series, re-applying the window cap.
func (h *History) Load(series map[string][]Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series = make(map[string][]Point, len(series))
	for ticker, s := range series {
		cp := make([]Point, len(s))
		copy(cp, s)
		if len(cp) > historyCap {
			cp = cp[len(cp)-historyCap:]
		}
		h.series[ticker] = cp
	}
}
