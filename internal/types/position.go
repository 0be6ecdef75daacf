package types

import "time"

// Position is a current broker holding, as reported by the portfolio
// collaborator.
type Position struct {
	Symbol        string  `yaml:"symbol" json:"symbol"`
	Qty           float64 `yaml:"qty" json:"qty"`
	AvgEntryPrice float64 `yaml:"avg_entry_price" json:"avgEntryPrice"`
	CurrentPrice  float64 `yaml:"current_price" json:"currentPrice"`
	MarketValue   float64 `yaml:"market_value" json:"marketValue"`
	// UnrealizedPnLPercent is the open profit or loss in percent of entry.
	UnrealizedPnLPercent float64 `yaml:"unrealized_pnl_percent" json:"unrealizedPnLPercent"`
}

// PortfolioState is the broker-reported account snapshot used by the risk gate
// and by condition evaluation.
type PortfolioState struct {
	Positions  []Position `yaml:"positions" json:"positions"`
	Cash       float64    `yaml:"cash" json:"cash"`
	TotalValue float64    `yaml:"total_value" json:"totalValue"`
}

// Position returns the holding for a symbol and whether it exists.
func (p *PortfolioState) Position(symbol string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}

	return Position{}, false
}

// HasSymbol reports whether the portfolio currently holds the symbol.
func (p *PortfolioState) HasSymbol(symbol string) bool {
	_, ok := p.Position(symbol)

	return ok
}

// TrackedPosition follows one position opened through the proposal lifecycle
// (or backfilled from the broker) until the outcome tracker observes it
// closed. It references its originating trade by id, never owning it.
type TrackedPosition struct {
	Symbol       string    `yaml:"symbol" json:"symbol"`
	EntryTradeID string    `yaml:"entry_trade_id" json:"entryTradeId"`
	EntryPrice   float64   `yaml:"entry_price" json:"entryPrice"`
	Qty          float64   `yaml:"qty" json:"qty"`
	EntryTime    time.Time `yaml:"entry_time" json:"entryTime"`
	Agent        string    `yaml:"agent" json:"agent"`
}
