package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue(t *testing.T) {
	p := New(10000, 0.5)
	p.MarginUsed = 2000
	p.Positions["AAPL"] = Position{Long: 10, LongCostBasis: 95}
	p.Positions["MSFT"] = Position{Short: 5, ShortCostBasis: 210}
	p.Positions["NVDA"] = Position{Long: 3}

	prices := map[string]float64{"AAPL": 100, "MSFT": 200}
	// 10000 cash + 2000 margin + 10*100 long - 5*200 short; NVDA unpriced
	assert.InDelta(t, 12000.0, p.Value(prices), 1e-9)
}

func TestValueNilPortfolio(t *testing.T) {
	var p *Portfolio
	assert.Equal(t, 0.0, p.Value(map[string]float64{"AAPL": 100}))
}

func TestValueEmptyPrices(t *testing.T) {
	p := New(5000, 0.5)
	p.Positions["AAPL"] = Position{Long: 10}
	assert.InDelta(t, 5000.0, p.Value(nil), 1e-9)
}

func TestClone(t *testing.T) {
	p := New(10000, 0.5)
	p.Positions["AAPL"] = Position{Long: 10}

	cp := p.Clone()
	cp.Cash = 1
	cp.Positions["AAPL"] = Position{Long: 99}

	assert.InDelta(t, 10000.0, p.Cash, 1e-9)
	assert.Equal(t, 10, p.Positions["AAPL"].Long)
}
