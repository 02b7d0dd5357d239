// Package portfolio defines the position shape shared by the agent portfolio
// and its valuation helper. Long and short legs are tracked separately and
// are never netted into a signed quantity.
package portfolio

// Position holds both legs for one ticker. Long and Short are always >= 0.
type Position struct {
	Long           int     `json:"long"`
	Short          int     `json:"short"`
	LongCostBasis  float64 `json:"long_cost_basis"`
	ShortCostBasis float64 `json:"short_cost_basis"`
}

// Portfolio is the agent's account state, produced by the external trade
// execution component and consumed here only for valuation.
type Portfolio struct {
	Cash              float64             `json:"cash"`
	Positions         map[string]Position `json:"positions"`
	MarginUsed        float64             `json:"margin_used"`
	MarginRequirement float64             `json:"margin_requirement"`
}

// New returns an empty portfolio with starting cash.
func New(cash, marginRequirement float64) *Portfolio {
	return &Portfolio{
		Cash:              cash,
		Positions:         map[string]Position{},
		MarginRequirement: marginRequirement,
	}
}

// Value marks the portfolio to the given prices:
// cash + margin_used + sum(long*price) - sum(short*price).
// Tickers without a positive price contribute nothing.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	if p == nil {
		return 0
	}
	total := p.Cash + p.MarginUsed
	for ticker, pos := range p.Positions {
		px := prices[ticker]
		if px <= 0 {
			continue
		}
		total += float64(pos.Long) * px
		total -= float64(pos.Short) * px
	}
	return total
}

// Clone deep-copies the portfolio.
func (p *Portfolio) Clone() *Portfolio {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Positions = make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		cp.Positions[k] = v
	}
	return &cp
}
