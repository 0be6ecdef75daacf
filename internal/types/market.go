package types

import "time"

// YieldCurve holds treasury yields (or their same-day absolute changes) by tenor,
// in percentage points.
type YieldCurve struct {
	Y2  float64 `yaml:"y2" json:"y2"`
	Y5  float64 `yaml:"y5" json:"y5"`
	Y10 float64 `yaml:"y10" json:"y10"`
	Y30 float64 `yaml:"y30" json:"y30"`
}

// YieldSpreads holds the computed curve spreads in percentage points.
type YieldSpreads struct {
	// Spread2Y10Y is 10Y minus 2Y, the classic recession-watch spread.
	Spread2Y10Y float64 `yaml:"spread_2y_10y" json:"spread2Y10Y"`
	// Spread10Y30Y is 30Y minus 10Y, the long-end steepness.
	Spread10Y30Y float64 `yaml:"spread_10y_30y" json:"spread10Y30Y"`
}

// TickerQuote is a point-in-time quote for a single ticker.
type TickerQuote struct {
	Price         float64 `yaml:"price" json:"price"`
	Change        float64 `yaml:"change" json:"change"`
	ChangePercent float64 `yaml:"change_percent" json:"changePercent"`
	Volume        float64 `yaml:"volume" json:"volume"`
}

// MarketSnapshot is a normalized view of the market for one evaluation cycle.
// It is immutable once constructed; a fresh snapshot is produced per cycle by
// the market data provider.
type MarketSnapshot struct {
	// AsOf is the freshness timestamp reported by the provider.
	AsOf time.Time `yaml:"as_of" json:"asOf"`
	// IsMock is true when the provider could not reach live data and served
	// fabricated values. Signal generation must refuse mock snapshots.
	IsMock bool `yaml:"is_mock" json:"isMock"`

	Yields       YieldCurve             `yaml:"yields" json:"yields"`
	YieldChanges YieldCurve             `yaml:"yield_changes" json:"yieldChanges"`
	Spreads      YieldSpreads           `yaml:"spreads" json:"spreads"`
	Tickers      map[string]TickerQuote `yaml:"tickers" json:"tickers"`
}

// ComputeSpreads derives the curve spreads from a yield curve.
func ComputeSpreads(yields YieldCurve) YieldSpreads {
	return YieldSpreads{
		Spread2Y10Y:  yields.Y10 - yields.Y2,
		Spread10Y30Y: yields.Y30 - yields.Y10,
	}
}

// Quote returns the quote for a ticker and whether it is present.
func (s *MarketSnapshot) Quote(ticker string) (TickerQuote, bool) {
	quote, ok := s.Tickers[ticker]

	return quote, ok
}

// Age returns how old the snapshot is relative to now.
func (s *MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.AsOf)
}
