package engine

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const (
	// successConfidence and failureConfidence weight the learning records the
	// tracker emits. Losses are weighted heavier than wins.
	successConfidence = 80
	failureConfidence = 90
)

// TradeOutcomeUpdate attaches a realized outcome to its ledger trade.
type TradeOutcomeUpdate struct {
	TradeID string
	Outcome types.TradeOutcome
}

// ReconcileResult is the outcome tracker's report for one reconciliation run.
type ReconcileResult struct {
	Closed       []types.TrackedPosition
	StillOpen    []types.TrackedPosition
	NewlyTracked []types.TrackedPosition
	Outcomes     []TradeOutcomeUpdate
	Learnings    []types.LearningRecord
}

// Tracker reconciles tracked positions against current broker holdings. It is
// a pure computation: callers feed it state and apply its result.
type Tracker struct {
	log *logger.Logger
	now func() time.Time
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{
		log: log,
		now: time.Now,
	}
}

// ReconcileInput carries one reconciliation run's inputs.
type ReconcileInput struct {
	Tracked   []types.TrackedPosition
	Portfolio types.PortfolioState
	Ledger    []types.ExecutedTrade
	// Exits are recent broker fills used to find the closing sell for a
	// closed position.
	Exits []broker.OrderExecution
	// LastPrices is the fallback exit price per symbol when no matching sell
	// fill is found.
	LastPrices map[string]float64
}

// Reconcile splits tracked positions into closed and still-open, computes
// realized outcomes for closures, backfills tracking for unrecognized broker
// positions, and emits learning records. A failure on one position is
// collected and does not block the others.
func (t *Tracker) Reconcile(in ReconcileInput) (ReconcileResult, error) {
	result := ReconcileResult{
		Closed:       make([]types.TrackedPosition, 0),
		StillOpen:    make([]types.TrackedPosition, 0),
		NewlyTracked: make([]types.TrackedPosition, 0),
		Outcomes:     make([]TradeOutcomeUpdate, 0),
		Learnings:    make([]types.LearningRecord, 0),
	}

	ledgerByID := make(map[string]types.ExecutedTrade, len(in.Ledger))
	for _, trade := range in.Ledger {
		ledgerByID[trade.ID] = trade
	}

	var errs error

	for _, position := range in.Tracked {
		if in.Portfolio.HasSymbol(position.Symbol) {
			result.StillOpen = append(result.StillOpen, position)
			continue
		}

		result.Closed = append(result.Closed, position)

		trade, ok := ledgerByID[position.EntryTradeID]
		if !ok {
			errs = multierr.Append(errs, errors.Newf(errors.ErrCodeStateNotFound,
				"closed position %s references missing trade %s", position.Symbol, position.EntryTradeID))
			continue
		}

		// Outcome writes are exactly-once; a previously annotated trade means
		// this closure was already processed.
		if trade.Outcome.IsSome() {
			continue
		}

		exitPrice, exitTime := t.findExit(position, in.Exits, in.LastPrices)
		if exitPrice <= 0 {
			errs = multierr.Append(errs, errors.Newf(errors.ErrCodeStateNotFound,
				"no exit price available for closed position %s", position.Symbol))
			continue
		}

		outcome := types.TradeOutcome{
			ExitPrice:  exitPrice,
			ExitTime:   exitTime,
			PnL:        (exitPrice - position.EntryPrice) * position.Qty,
			PnLPercent: (exitPrice - position.EntryPrice) / position.EntryPrice * 100,
		}

		result.Outcomes = append(result.Outcomes, TradeOutcomeUpdate{
			TradeID: trade.ID,
			Outcome: outcome,
		})
		result.Learnings = append(result.Learnings, t.learningFor(position, outcome))

		t.log.Info("Position closed",
			zap.String("symbol", position.Symbol),
			zap.Float64("pnl", outcome.PnL),
			zap.Float64("pnlPercent", outcome.PnLPercent))
	}

	result.NewlyTracked = t.backfill(in)

	return result, errs
}

// findExit locates the closing sell fill for the position, falling back to
// the last known price for the symbol.
func (t *Tracker) findExit(position types.TrackedPosition, exits []broker.OrderExecution, lastPrices map[string]float64) (float64, time.Time) {
	for _, exec := range exits {
		if exec.Symbol != position.Symbol {
			continue
		}
		if exec.Side != string(types.TradeActionSell) {
			continue
		}
		if !exec.FilledAt.After(position.EntryTime) {
			continue
		}

		return exec.FilledPrice, exec.FilledAt
	}

	if price, ok := lastPrices[position.Symbol]; ok && price > 0 {
		return price, t.now()
	}

	return 0, time.Time{}
}

func (t *Tracker) learningFor(position types.TrackedPosition, outcome types.TradeOutcome) types.LearningRecord {
	learningType := types.LearningTypeSuccess
	confidence := successConfidence
	if outcome.PnL <= 0 {
		learningType = types.LearningTypeFailure
		confidence = failureConfidence
	}

	return types.LearningRecord{
		Agent: position.Agent,
		Type:  learningType,
		Content: fmt.Sprintf("%s position in %s closed with P&L %.2f (%.2f%%)",
			learningType, position.Symbol, outcome.PnL, outcome.PnLPercent),
		Context: map[string]string{
			"symbol":       position.Symbol,
			"entryTradeId": position.EntryTradeID,
			"entryPrice":   fmt.Sprintf("%.4f", position.EntryPrice),
			"exitPrice":    fmt.Sprintf("%.4f", outcome.ExitPrice),
		},
		Confidence: confidence,
	}
}

// backfill adds tracking for broker positions the lifecycle never saw, for
// example positions opened manually. A position qualifies when some buy trade
// for its symbol has no outcome yet.
func (t *Tracker) backfill(in ReconcileInput) []types.TrackedPosition {
	trackedSymbols := make(map[string]bool, len(in.Tracked))
	for _, position := range in.Tracked {
		trackedSymbols[position.Symbol] = true
	}

	newlyTracked := make([]types.TrackedPosition, 0)

	for _, holding := range in.Portfolio.Positions {
		if trackedSymbols[holding.Symbol] {
			continue
		}

		for i := len(in.Ledger) - 1; i >= 0; i-- {
			trade := in.Ledger[i]
			if trade.Ticker != holding.Symbol || trade.Action != types.TradeActionBuy {
				continue
			}
			if trade.Outcome.IsSome() {
				continue
			}

			newlyTracked = append(newlyTracked, types.TrackedPosition{
				Symbol:       holding.Symbol,
				EntryTradeID: trade.ID,
				EntryPrice:   trade.Price,
				Qty:          holding.Qty,
				EntryTime:    trade.Time,
				Agent:        trade.Agent,
			})

			t.log.Info("Backfilled tracking for unrecognized position",
				zap.String("symbol", holding.Symbol),
				zap.String("entryTradeId", trade.ID))

			break
		}
	}

	return newlyTracked
}
