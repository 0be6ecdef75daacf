package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-day key used by daily risk accounting.
const DateFormat = "2006-01-02"

// TradeOutcome is the realized result written onto an executed trade exactly
// once, when the outcome tracker observes the position closed.
type TradeOutcome struct {
	ExitPrice  float64   `yaml:"exit_price" json:"exitPrice"`
	ExitTime   time.Time `yaml:"exit_time" json:"exitTime"`
	PnL        float64   `yaml:"pnl" json:"pnl"`
	PnLPercent float64   `yaml:"pnl_percent" json:"pnlPercent"`
}

// ExecutedTrade is one filled order recorded in the trade ledger and in the
// day's stats.
type ExecutedTrade struct {
	ID         string      `yaml:"id" json:"id"`
	Time       time.Time   `yaml:"time" json:"timestamp"`
	ProposalID string      `yaml:"proposal_id" json:"proposalId"`
	Agent      string      `yaml:"agent" json:"agent"`
	Ticker     string      `yaml:"ticker" json:"ticker"`
	Action     TradeAction `yaml:"action" json:"action"`
	Qty        float64     `yaml:"qty" json:"qty"`
	Price      float64     `yaml:"price" json:"price"`
	// Outcome is set once by the outcome tracker when the position closes.
	Outcome optional.Option[TradeOutcome] `yaml:"outcome" json:"outcome,omitempty"`
}

// Value returns the notional dollar value of the fill.
func (t *ExecutedTrade) Value() float64 {
	return t.Qty * t.Price
}

// DailyStats is the per-calendar-day risk accounting. TradesCount always
// equals len(Trades); CurrentDrawdown is recomputed from the observed
// portfolio value, never set directly.
type DailyStats struct {
	Date        string  `yaml:"date" json:"date"`
	TradesCount int     `yaml:"trades_count" json:"tradesCount"`
	TotalPnL    float64 `yaml:"total_pnl" json:"totalPnL"`
	// PeakPortfolioValue survives day-boundary resets.
	PeakPortfolioValue float64 `yaml:"peak_portfolio_value" json:"peakPortfolioValue"`
	// CurrentDrawdown is the percent decline from peak, zero when at or above
	// the peak.
	CurrentDrawdown float64 `yaml:"current_drawdown" json:"currentDrawdown"`
	// MaxDrawdown is the day's worst observed drawdown.
	MaxDrawdown float64         `yaml:"max_drawdown" json:"maxDrawdown"`
	Trades      []ExecutedTrade `yaml:"trades" json:"trades"`
}

// NewDailyStats creates empty stats for the given day.
func NewDailyStats(date string) *DailyStats {
	return &DailyStats{
		Date:               date,
		TradesCount:        0,
		TotalPnL:           0,
		PeakPortfolioValue: 0,
		CurrentDrawdown:    0,
		MaxDrawdown:        0,
		Trades:             make([]ExecutedTrade, 0),
	}
}

// RollToDate resets the day's counters when the calendar day has changed,
// preserving the peak portfolio value across the boundary.
func (s *DailyStats) RollToDate(date string) {
	if s.Date == date {
		return
	}

	peak := s.PeakPortfolioValue

	*s = *NewDailyStats(date)
	s.PeakPortfolioValue = peak
}

// RecordTrade appends an executed trade and keeps the count invariant.
func (s *DailyStats) RecordTrade(trade ExecutedTrade) {
	s.Trades = append(s.Trades, trade)
	s.TradesCount = len(s.Trades)
}

// AddPnL accumulates realized profit or loss into the day's total.
func (s *DailyStats) AddPnL(pnl float64) {
	s.TotalPnL += pnl
}

// ObservePortfolioValue updates the peak and recomputes the drawdown as
// (peak - current) / peak when positive.
func (s *DailyStats) ObservePortfolioValue(currentValue float64) {
	if currentValue > s.PeakPortfolioValue {
		s.PeakPortfolioValue = currentValue
	}

	s.CurrentDrawdown = 0

	if s.PeakPortfolioValue > 0 && currentValue < s.PeakPortfolioValue {
		peak := decimal.NewFromFloat(s.PeakPortfolioValue)
		current := decimal.NewFromFloat(currentValue)
		drawdown, _ := peak.Sub(current).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
		s.CurrentDrawdown = drawdown
	}

	if s.CurrentDrawdown > s.MaxDrawdown {
		s.MaxDrawdown = s.CurrentDrawdown
	}
}
