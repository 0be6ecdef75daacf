package types

import (
	"github.com/go-playground/validator/v10"

	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// RiskLimits is the hard-limit configuration consulted by the risk gate.
// Limits change only through an explicit settings update, never by the engine.
type RiskLimits struct {
	// MaxPositionSize is the maximum weight of a single ticker, as a percent
	// of total portfolio value.
	MaxPositionSize float64 `yaml:"max_position_size" json:"maxPositionSize" validate:"gte=0,lte=100"`
	// MaxDailyTrades caps the number of executed trades per calendar day.
	MaxDailyTrades int `yaml:"max_daily_trades" json:"maxDailyTrades" validate:"gte=0"`
	// MaxDailyLoss is the largest tolerated daily loss, as a percent of
	// portfolio value.
	MaxDailyLoss float64 `yaml:"max_daily_loss" json:"maxDailyLoss" validate:"gte=0,lte=100"`
	// MaxDrawdown is the largest tolerated decline from the peak portfolio
	// value, in percent.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"maxDrawdown" validate:"gte=0,lte=100"`
	// MaxOrderValue is the largest single order, in dollars.
	MaxOrderValue float64 `yaml:"max_order_value" json:"maxOrderValue" validate:"gte=0"`
	// MinCashReserve is the smallest cash balance to preserve after a buy, as
	// a percent of portfolio value.
	MinCashReserve float64 `yaml:"min_cash_reserve" json:"minCashReserve" validate:"gte=0,lte=100"`
	// TradingHoursOnly restricts execution to the regular NYSE session.
	TradingHoursOnly bool `yaml:"trading_hours_only" json:"tradingHoursOnly"`
	// NoTradingBeforeFOMC blocks trading within this many hours before a
	// scheduled FOMC announcement. Zero disables the check.
	NoTradingBeforeFOMC float64 `yaml:"no_trading_before_fomc" json:"noTradingBeforeFOMC" validate:"gte=0"`
}

// Validate validates the RiskLimits struct.
func (l *RiskLimits) Validate() error {
	validate := validator.New()
	if err := validate.Struct(l); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRiskLimits, "invalid risk limits", err)
	}

	return nil
}

// SignalFilters are soft constraints: violations produce warnings on the risk
// check result but never block a proposal.
type SignalFilters struct {
	// MinConfidence warns when a signal's confidence is below this score.
	MinConfidence int `yaml:"min_confidence" json:"minConfidence" validate:"gte=0,lte=100"`
	// AllowedTickers warns on tickers outside this list. Empty allows all.
	AllowedTickers []string `yaml:"allowed_tickers" json:"allowedTickers"`
	// AllowedAgents warns on agents outside this list. Empty allows all.
	AllowedAgents []string `yaml:"allowed_agents" json:"allowedAgents"`
	// RequireMultipleAgents warns when only a single agent's signal supports a
	// ticker/action this cycle.
	RequireMultipleAgents bool `yaml:"require_multiple_agents" json:"requireMultipleAgents"`
}

// AllowsTicker reports whether the ticker passes the allow-list filter.
func (f *SignalFilters) AllowsTicker(ticker string) bool {
	if len(f.AllowedTickers) == 0 {
		return true
	}

	for _, allowed := range f.AllowedTickers {
		if allowed == ticker {
			return true
		}
	}

	return false
}

// AllowsAgent reports whether the agent passes the allow-list filter.
func (f *SignalFilters) AllowsAgent(agent string) bool {
	if len(f.AllowedAgents) == 0 {
		return true
	}

	for _, allowed := range f.AllowedAgents {
		if allowed == agent {
			return true
		}
	}

	return false
}

// AutomationMode controls how far a proposal advances without a human.
type AutomationMode string

const (
	// AutomationModeManual generates signals but requires human approval and
	// human execution.
	AutomationModeManual AutomationMode = "manual"
	// AutomationModeSemi auto-approves proposals but leaves execution to a
	// human.
	AutomationModeSemi AutomationMode = "semi"
	// AutomationModeFull approves and executes proposals autonomously.
	AutomationModeFull AutomationMode = "full"
)

// AutomationSettings is the operator-controlled automation configuration.
type AutomationSettings struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Mode    AutomationMode `yaml:"mode" json:"mode" validate:"required,oneof=manual semi full"`
	Limits  RiskLimits     `yaml:"limits" json:"limits"`
	Filters SignalFilters  `yaml:"filters" json:"signalFilters"`
}

// Validate validates the AutomationSettings struct.
func (s *AutomationSettings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid automation settings", err)
	}

	return s.Limits.Validate()
}

// RiskCheckResult is the outcome of gating one candidate order.
type RiskCheckResult struct {
	// Passed is false when any hard block fired.
	Passed bool `yaml:"passed" json:"passed"`
	// Warnings are soft findings that do not prevent a proposal.
	Warnings []string `yaml:"warnings" json:"warnings"`
	// Blocked are the hard-block reasons. Non-empty implies Passed is false.
	Blocked []string `yaml:"blocked" json:"blocked"`
}
