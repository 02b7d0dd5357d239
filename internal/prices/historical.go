package prices

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/evotraders/evotraders/internal/observ"
)

type histRow struct {
	Date  string
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// HistoricalSource serves preloaded daily bars, one CSV per ticker
// (Date,Open,High,Low,Close[,Volume], ascending by date). There is no
// background poller: backtest time does not flow in real time, so open and
// close emissions are driven explicitly by the settlement driver.
type HistoricalSource struct {
	*book

	dataDir string

	rowsMu sync.RWMutex
	rows   map[string][]histRow
	date   string
}

func NewHistoricalSource(dataDir string) *HistoricalSource {
	return &HistoricalSource{book: newBook(), dataDir: dataDir, rows: map[string][]histRow{}}
}

// Subscribe loads <symbol>.csv for each new symbol. A missing or malformed
// file leaves the symbol subscribed with no rows; its prices stay unknown.
func (h *HistoricalSource) Subscribe(symbols ...string) {
	h.subscribe(symbols...)
	for _, s := range symbols {
		h.rowsMu.RLock()
		_, loaded := h.rows[s]
		h.rowsMu.RUnlock()
		if loaded {
			continue
		}
		rows, err := loadBars(filepath.Join(h.dataDir, s+".csv"))
		if err != nil {
			observ.Warn("historical_load_failed", map[string]any{"symbol": s, "error": err.Error()})
			rows = nil
		}
		h.rowsMu.Lock()
		h.rows[s] = rows
		h.rowsMu.Unlock()
	}
}

func (h *HistoricalSource) Unsubscribe(symbols ...string) {
	h.unsubscribe(symbols...)
	h.rowsMu.Lock()
	for _, s := range symbols {
		delete(h.rows, s)
	}
	h.rowsMu.Unlock()
}

func (h *HistoricalSource) AddCallback(cb Callback) { h.addCallback(cb) }

// Start only validates subscriptions; no goroutine is launched.
func (h *HistoricalSource) Start() error {
	if h.count() == 0 {
		observ.Warn("historical_source_no_subscriptions", nil)
	}
	return nil
}

func (h *HistoricalSource) Stop() {}

// SetDate selects the bar for date, or the nearest earlier bar when the
// exact date is missing, and populates open/close/high/low for every symbol.
func (h *HistoricalSource) SetDate(date string) {
	h.rowsMu.Lock()
	h.date = date
	h.rowsMu.Unlock()

	for _, symbol := range h.subscribed() {
		row, ok := h.rowFor(symbol, date)
		if !ok {
			observ.Warn("historical_no_bar", map[string]any{"symbol": symbol, "date": date})
			continue
		}
		h.mu.Lock()
		if st, exists := h.symbols[symbol]; exists {
			st.open = row.Open
			st.close = row.Close
			st.high = row.High
			st.low = row.Low
			st.latest = row.Open
			st.tsMs = nowMs()
		}
		h.mu.Unlock()
	}
}

// rowFor does a binary search for the last bar at or before date.
func (h *HistoricalSource) rowFor(symbol, date string) (histRow, bool) {
	h.rowsMu.RLock()
	defer h.rowsMu.RUnlock()
	rows := h.rows[symbol]
	if len(rows) == 0 {
		return histRow{}, false
	}
	// first index with Date > date
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Date > date })
	if i == 0 {
		return histRow{}, false
	}
	return rows[i-1], true
}

// EmitOpenPrices pushes the selected session's open for every symbol through
// the registered callbacks.
func (h *HistoricalSource) EmitOpenPrices() {
	for _, symbol := range h.subscribed() {
		h.mu.Lock()
		st, ok := h.symbols[symbol]
		if ok && st.open > 0 {
			st.latest = st.open
		}
		h.mu.Unlock()
		if !ok {
			continue
		}
		if u, recorded := h.record(symbol, 0, 0, 0, 0, 0, nowMs()); recorded && u.Price > 0 {
			h.emit(u)
		}
	}
}

// EmitClosePrices marks every symbol at its close and pushes the updates.
func (h *HistoricalSource) EmitClosePrices() {
	for _, symbol := range h.subscribed() {
		h.mu.Lock()
		st, ok := h.symbols[symbol]
		if ok && st.close > 0 {
			st.latest = st.close
		}
		h.mu.Unlock()
		if !ok {
			continue
		}
		if u, recorded := h.record(symbol, 0, 0, 0, 0, 0, nowMs()); recorded && u.Price > 0 {
			h.emit(u)
		}
	}
}

func (h *HistoricalSource) LatestPrice(symbol string) (float64, bool) { return h.latest(symbol) }
func (h *HistoricalSource) OpenPrice(symbol string) float64           { return h.openPrice(symbol) }
func (h *HistoricalSource) ClosePrice(symbol string) float64          { return h.closePrice(symbol) }
func (h *HistoricalSource) AllLatestPrices() map[string]float64       { return h.allLatest() }

// ResetOpenPrices is a no-op: the open always comes from the selected bar.
func (h *HistoricalSource) ResetOpenPrices() {}

func loadBars(path string) ([]histRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var rows []histRow
	for i, rec := range records {
		if len(rec) < 5 {
			continue
		}
		if i == 0 && rec[0] == "Date" {
			continue
		}
		open, err1 := strconv.ParseFloat(rec[1], 64)
		high, err2 := strconv.ParseFloat(rec[2], 64)
		low, err3 := strconv.ParseFloat(rec[3], 64)
		closePx, err4 := strconv.ParseFloat(rec[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			observ.Warn("historical_bad_row", map[string]any{"path": path, "row": i})
			continue
		}
		rows = append(rows, histRow{Date: rec[0], Open: open, High: high, Low: low, Close: closePx})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}
