package rules

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
)

// EqualityEpsilon tolerates floating point noise in the == operator.
const EqualityEpsilon = 0.01

// Derived threshold fields readable by threshold conditions.
const (
	FieldPositionProfitPct = "position_profit_pct"
	FieldPositionLossPct   = "position_loss_pct"
)

// EvalInput is the read-only context one condition is evaluated against.
type EvalInput struct {
	Snapshot  types.MarketSnapshot
	Positions []types.Position
	// Ticker is the owning rule's target ticker, used by threshold conditions
	// to locate the matching held position.
	Ticker string
}

// Evaluator resolves a condition's field against a market snapshot and applies
// the condition's comparison. An unknown field makes the condition inert
// (met=false, actual=0) instead of failing the cycle, so a misconfigured rule
// cannot crash signal generation.
type Evaluator struct {
	log *logger.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Evaluate resolves the condition's observed value and reports whether the
// comparison holds, along with the observed value itself.
func (e *Evaluator) Evaluate(cond types.RuleCondition, in EvalInput) (bool, float64) {
	actual, ok := e.resolve(cond, in)
	if !ok {
		e.log.Debug("condition field not resolvable, treating as unmet",
			zap.String("kind", string(cond.Kind)),
			zap.String("field", cond.Field),
		)

		return false, 0
	}

	return compare(cond.Operator, actual, cond.Value, cond.UpperValue()), actual
}

// resolve maps (kind, field) onto a snapshot or portfolio value.
//
//nolint:funcorder // helper method used by Evaluate
func (e *Evaluator) resolve(cond types.RuleCondition, in EvalInput) (float64, bool) {
	switch cond.Kind {
	case types.ConditionKindYield:
		return tenorValue(in.Snapshot.Yields, cond.Field)
	case types.ConditionKindYieldChange:
		return tenorValue(in.Snapshot.YieldChanges, cond.Field)
	case types.ConditionKindSpread:
		switch cond.Field {
		case "spread2Y10Y":
			return in.Snapshot.Spreads.Spread2Y10Y, true
		case "spread10Y30Y":
			return in.Snapshot.Spreads.Spread10Y30Y, true
		default:
			return 0, false
		}
	case types.ConditionKindPrice:
		return quoteValue(in.Snapshot, cond.Field)
	case types.ConditionKindChange:
		quote, ok := in.Snapshot.Quote(cond.Field)
		if !ok {
			return 0, false
		}

		return quote.ChangePercent, true
	case types.ConditionKindThreshold:
		return positionValue(cond.Field, in)
	default:
		return 0, false
	}
}

// tenorValue resolves a yield-curve field (y2, y5, y10, y30).
func tenorValue(curve types.YieldCurve, field string) (float64, bool) {
	switch field {
	case "y2":
		return curve.Y2, true
	case "y5":
		return curve.Y5, true
	case "y10":
		return curve.Y10, true
	case "y30":
		return curve.Y30, true
	default:
		return 0, false
	}
}

// quoteValue resolves "TICKER" or "TICKER.attr" against the snapshot's quotes.
// A bare ticker reads the price.
func quoteValue(snapshot types.MarketSnapshot, field string) (float64, bool) {
	ticker, attr := field, "price"
	if idx := strings.IndexByte(field, '.'); idx >= 0 {
		ticker, attr = field[:idx], field[idx+1:]
	}

	quote, ok := snapshot.Quote(ticker)
	if !ok {
		return 0, false
	}

	switch attr {
	case "price":
		return quote.Price, true
	case "change":
		return quote.Change, true
	case "changePercent":
		return quote.ChangePercent, true
	case "volume":
		return quote.Volume, true
	default:
		return 0, false
	}
}

// positionValue resolves derived portfolio fields. Profit fields read only
// positive open P&L; loss fields read only the magnitude of negative open
// P&L. A missing position leaves the observed value at zero.
func positionValue(field string, in EvalInput) (float64, bool) {
	switch field {
	case FieldPositionProfitPct, FieldPositionLossPct:
	default:
		return 0, false
	}

	for _, pos := range in.Positions {
		if pos.Symbol != in.Ticker {
			continue
		}

		pnl := pos.UnrealizedPnLPercent

		if field == FieldPositionProfitPct && pnl > 0 {
			return pnl, true
		}

		if field == FieldPositionLossPct && pnl < 0 {
			return math.Abs(pnl), true
		}

		return 0, true
	}

	return 0, true
}

// compare applies an operator. == tolerates EqualityEpsilon; between is
// inclusive on both bounds.
func compare(op types.Operator, actual, value, upper float64) bool {
	switch op {
	case types.OperatorGreaterThan:
		return actual > value
	case types.OperatorLessThan:
		return actual < value
	case types.OperatorGreaterEqual:
		return actual >= value
	case types.OperatorLessEqual:
		return actual <= value
	case types.OperatorEqual:
		return math.Abs(actual-value) <= EqualityEpsilon
	case types.OperatorBetween:
		return actual >= value && actual <= upper
	default:
		return false
	}
}
