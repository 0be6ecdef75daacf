package risk

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
)

// CheckInput carries everything one gate decision needs. The gate itself is
// stateless: all mutable state (daily stats, portfolio) is injected per call.
type CheckInput struct {
	// Order is the candidate order derived from the signal.
	Order types.Order
	// Signal is the signal that produced the order.
	Signal types.Signal
	// ReferencePrice prices market orders; usually the signal price.
	ReferencePrice float64
	Limits         types.RiskLimits
	Filters        types.SignalFilters
	Stats          *types.DailyStats
	Portfolio      types.PortfolioState
	Now            time.Time
	// FOMCEvents are the scheduled FOMC announcement times from configuration.
	FOMCEvents []time.Time
	// CycleSignals are all deduplicated signals of the current cycle, used for
	// the multiple-agent consensus warning.
	CycleSignals []types.Signal
}

// Gate validates a candidate order against the risk limits and daily stats
// before it may become an executable proposal. Hard blocks set Passed=false;
// soft findings surface as warnings without blocking.
type Gate struct {
	log      *logger.Logger
	location *time.Location
}

// NewGate creates a risk gate.
func NewGate(log *logger.Logger) *Gate {
	return &Gate{
		log:      log,
		location: easternTime(),
	}
}

// Check runs every hard block and soft filter and returns the combined
// result. All violated blocks are reported, not just the first.
func (g *Gate) Check(in CheckInput) types.RiskCheckResult {
	result := types.RiskCheckResult{
		Passed:   true,
		Warnings: make([]string, 0),
		Blocked:  make([]string, 0),
	}

	g.applyHardBlocks(&result, in)
	g.applySoftFilters(&result, in)

	result.Passed = len(result.Blocked) == 0

	if !result.Passed {
		g.log.Warn("risk gate blocked order",
			zap.String("symbol", in.Order.Symbol),
			zap.String("side", string(in.Order.Side)),
			zap.Strings("blocked", result.Blocked),
		)
	}

	return result
}

//nolint:funcorder // helper methods used by Check
func (g *Gate) applyHardBlocks(result *types.RiskCheckResult, in CheckInput) {
	orderValue := in.Order.Value(in.ReferencePrice)
	limits := in.Limits

	if limits.MaxOrderValue > 0 && orderValue > limits.MaxOrderValue {
		result.Blocked = append(result.Blocked,
			fmt.Sprintf("order value $%.2f exceeds max order value $%.2f", orderValue, limits.MaxOrderValue))
	}

	if limits.MaxPositionSize > 0 && in.Portfolio.TotalValue > 0 && in.Order.Side == types.TradeActionBuy {
		existing := 0.0
		if pos, ok := in.Portfolio.Position(in.Order.Symbol); ok {
			existing = pos.MarketValue
		}

		weight := (existing + orderValue) / in.Portfolio.TotalValue * 100
		if weight > limits.MaxPositionSize {
			result.Blocked = append(result.Blocked,
				fmt.Sprintf("resulting %s weight %.1f%% exceeds max position size %.1f%%",
					in.Order.Symbol, weight, limits.MaxPositionSize))
		}
	}

	if limits.MaxDailyTrades > 0 && in.Stats.TradesCount >= limits.MaxDailyTrades {
		result.Blocked = append(result.Blocked,
			fmt.Sprintf("daily trade count %d reached max %d", in.Stats.TradesCount, limits.MaxDailyTrades))
	}

	if limits.MaxDrawdown > 0 && in.Stats.CurrentDrawdown >= limits.MaxDrawdown {
		result.Blocked = append(result.Blocked,
			fmt.Sprintf("drawdown %.1f%% reached max drawdown %.1f%%", in.Stats.CurrentDrawdown, limits.MaxDrawdown))
	}

	if limits.MaxDailyLoss > 0 && in.Portfolio.TotalValue > 0 {
		lossFloor := -(limits.MaxDailyLoss / 100 * in.Portfolio.TotalValue)
		if in.Stats.TotalPnL <= lossFloor {
			result.Blocked = append(result.Blocked,
				fmt.Sprintf("daily P&L $%.2f breached max daily loss %.1f%% ($%.2f)",
					in.Stats.TotalPnL, limits.MaxDailyLoss, lossFloor))
		}
	}

	if limits.MinCashReserve > 0 && in.Portfolio.TotalValue > 0 && in.Order.Side == types.TradeActionBuy {
		remainingCash := (in.Portfolio.Cash - orderValue) / in.Portfolio.TotalValue * 100
		if remainingCash < limits.MinCashReserve {
			result.Blocked = append(result.Blocked,
				fmt.Sprintf("projected cash %.1f%% below min cash reserve %.1f%%", remainingCash, limits.MinCashReserve))
		}
	}

	if limits.TradingHoursOnly && !InMarketHours(in.Now, g.location) {
		result.Blocked = append(result.Blocked, "outside regular market hours")
	}

	if limits.NoTradingBeforeFOMC > 0 {
		window := time.Duration(limits.NoTradingBeforeFOMC * float64(time.Hour))
		for _, event := range in.FOMCEvents {
			if event.After(in.Now) && event.Sub(in.Now) <= window {
				result.Blocked = append(result.Blocked,
					fmt.Sprintf("FOMC announcement at %s within %.0fh blackout window",
						event.Format(time.RFC3339), limits.NoTradingBeforeFOMC))

				break
			}
		}
	}
}

//nolint:funcorder // helper methods used by Check
func (g *Gate) applySoftFilters(result *types.RiskCheckResult, in CheckInput) {
	filters := in.Filters

	if in.Signal.Confidence < filters.MinConfidence {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("signal confidence %d below minimum %d", in.Signal.Confidence, filters.MinConfidence))
	}

	if !filters.AllowsTicker(in.Signal.Ticker) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("ticker %s not in allowed tickers", in.Signal.Ticker))
	}

	if !filters.AllowsAgent(in.Signal.Agent) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("agent %s not in allowed agents", in.Signal.Agent))
	}

	if filters.RequireMultipleAgents && countSupportingAgents(in.Signal, in.CycleSignals) < 2 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("only one agent supports %s %s this cycle", string(in.Signal.Action), in.Signal.Ticker))
	}
}

// countSupportingAgents counts distinct agents whose signals back the same
// ticker and action this cycle.
func countSupportingAgents(signal types.Signal, cycleSignals []types.Signal) int {
	agents := map[string]struct{}{signal.Agent: {}}

	for _, other := range cycleSignals {
		if other.Ticker == signal.Ticker && other.Action == signal.Action {
			agents[other.Agent] = struct{}{}
		}
	}

	return len(agents)
}
