// Package engine runs the trading automation core: a short-lived pipeline per
// external trigger that fetches a market snapshot, generates rule-based
// signals, risk-gates them into proposals, and advances proposals as far as
// the automation mode allows. A second, shorter-period entry point reconciles
// tracked positions against broker holdings.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/marketdata"
	"github.com/delphi-lab/delphi-trading/internal/notify"
	"github.com/delphi-lab/delphi-trading/internal/risk"
	"github.com/delphi-lab/delphi-trading/internal/rules"
	"github.com/delphi-lab/delphi-trading/internal/store"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/internal/utils"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const (
	// DefaultMaxSnapshotAge is the freshness threshold beyond which a
	// snapshot blocks the cycle.
	DefaultMaxSnapshotAge = 5 * time.Minute
	// DefaultOrderSizePercent sizes buy orders as a percent of total
	// portfolio value.
	DefaultOrderSizePercent = 5.0
	// AutoApprover is the approver name recorded on autonomous approvals.
	AutoApprover = "delphi-auto"

	// learningsKey stores the appended learning records.
	learningsKey = "learnings"

	// extremeYieldThreshold marks the 10Y level worth an insight record.
	extremeYieldThreshold = 5.0
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	MaxSnapshotAge   time.Duration
	OrderSizePercent float64
	// FOMCEvents are scheduled FOMC announcement times consulted by the risk
	// gate.
	FOMCEvents []time.Time
	// Settings is the initial automation configuration, used when no settings
	// document is persisted yet.
	Settings types.AutomationSettings
}

// CycleResult reports one ProcessCycle invocation.
type CycleResult struct {
	SignalsGenerated int                    `json:"signalsGenerated"`
	Proposals        []types.TradeProposal  `json:"proposals"`
	Blocked          []types.TradeProposal  `json:"blocked"`
	Learnings        []types.LearningRecord `json:"learnings,omitempty"`
}

// Engine wires the pipeline together.
type Engine struct {
	log       *logger.Logger
	lifecycle *Lifecycle
	tracker   *Tracker
	gate      *risk.Gate
	generator *rules.Generator
	loader    *rules.Loader
	provider  marketdata.Provider
	brk       broker.Broker
	notifier  notify.Notifier
	history   *SignalHistory
	st        store.Store

	mu              sync.Mutex
	settings        types.AutomationSettings
	lastPrices      map[string]float64
	lastSpread2s10s float64
	hasLastSpread   bool

	maxSnapshotAge   time.Duration
	orderSizePercent float64
	fomcEvents       []time.Time
	now              func() time.Time
}

// NewEngine assembles an engine. Persisted automation settings take
// precedence over the configured initial settings.
func NewEngine(
	ctx context.Context,
	cfg Config,
	lifecycle *Lifecycle,
	loader *rules.Loader,
	provider marketdata.Provider,
	brk broker.Broker,
	notifier notify.Notifier,
	st store.Store,
	log *logger.Logger,
) (*Engine, error) {
	e := &Engine{
		log:              log,
		lifecycle:        lifecycle,
		tracker:          NewTracker(log),
		gate:             risk.NewGate(log),
		generator:        rules.NewGenerator(log),
		loader:           loader,
		provider:         provider,
		brk:              brk,
		notifier:         notifier,
		history:          NewSignalHistory(DefaultHistoryCapacity),
		st:               st,
		settings:         cfg.Settings,
		lastPrices:       make(map[string]float64),
		maxSnapshotAge:   cfg.MaxSnapshotAge,
		orderSizePercent: cfg.OrderSizePercent,
		fomcEvents:       cfg.FOMCEvents,
		now:              time.Now,
	}

	if e.maxSnapshotAge <= 0 {
		e.maxSnapshotAge = DefaultMaxSnapshotAge
	}
	if e.orderSizePercent <= 0 {
		e.orderSizePercent = DefaultOrderSizePercent
	}

	if err := e.restoreSettings(ctx); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) restoreSettings(ctx context.Context) error {
	raw, err := e.st.Load(ctx, store.KeyAutomationSettings)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeStateNotFound) {
			return nil
		}

		return err
	}

	var settings types.AutomationSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return errors.Wrap(errors.ErrCodeStateCorrupted, "persisted automation settings are not valid JSON", err)
	}

	e.settings = settings

	return nil
}

// Settings returns the current automation settings.
func (e *Engine) Settings() types.AutomationSettings {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.settings
}

// UpdateSettings validates, persists, and applies new automation settings.
func (e *Engine) UpdateSettings(ctx context.Context, settings types.AutomationSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateCorrupted, "failed to marshal automation settings", err)
	}

	if err := e.st.Save(ctx, store.KeyAutomationSettings, raw); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.log.Info("Automation settings updated", zap.String("mode", string(settings.Mode)))

	return nil
}

// History returns the bounded signal history.
func (e *Engine) History() *SignalHistory {
	return e.history
}

// Lifecycle exposes the proposal lifecycle for the serving layer.
func (e *Engine) Lifecycle() *Lifecycle {
	return e.lifecycle
}

// ProcessCycle runs one full generate-gate-propose pipeline. force bypasses
// the minimum-interval guard. A stale or mock snapshot blocks the whole cycle
// rather than producing degraded signals.
func (e *Engine) ProcessCycle(ctx context.Context, force bool) (CycleResult, error) {
	result := CycleResult{
		Proposals: make([]types.TradeProposal, 0),
		Blocked:   make([]types.TradeProposal, 0),
		Learnings: make([]types.LearningRecord, 0),
	}

	if err := e.lifecycle.BeginCycle(force); err != nil {
		return result, err
	}

	snapshot, portfolio, err := e.fetchInputs(ctx)
	if err != nil {
		return result, err
	}

	if err := e.checkFreshness(snapshot); err != nil {
		return result, err
	}

	e.rememberPrices(snapshot)

	if err := e.lifecycle.RollStats(ctx, portfolio.TotalValue); err != nil {
		return result, err
	}

	ruleSet, err := e.loader.Current()
	if err != nil {
		return result, err
	}

	now := e.now()
	signals, fired := e.generator.Generate(now, snapshot, ruleSet, portfolio.Positions)
	e.history.Add(signals...)
	result.SignalsGenerated = len(signals)

	insights := e.detectMarketEvents(snapshot)
	result.Learnings = append(result.Learnings, insights...)
	if err := e.recordLearnings(ctx, insights); err != nil {
		e.log.Warn("Failed to record market insights", zap.Error(err))
	}

	settings := e.Settings()
	stats := e.lifecycle.Stats()

	for _, signal := range signals {
		proposal, blocked, err := e.propose(ctx, signal, fired, portfolio, &stats, settings)
		if err != nil {
			e.log.Warn("Skipping signal",
				zap.String("ticker", signal.Ticker),
				zap.Error(err))
			continue
		}

		if blocked {
			result.Blocked = append(result.Blocked, proposal)
			continue
		}

		result.Proposals = append(result.Proposals, proposal)
		// Keep the gate's view of the day current within this cycle.
		stats = e.lifecycle.Stats()
	}

	e.log.Info("Cycle complete",
		zap.Int("signals", result.SignalsGenerated),
		zap.Int("proposals", len(result.Proposals)),
		zap.Int("blocked", len(result.Blocked)))

	return result, nil
}

func (e *Engine) fetchInputs(ctx context.Context) (types.MarketSnapshot, types.PortfolioState, error) {
	var (
		snapshot  types.MarketSnapshot
		portfolio types.PortfolioState
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		snapshot, err = e.provider.FetchSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		portfolio, err = e.brk.GetPortfolio(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return types.MarketSnapshot{}, types.PortfolioState{}, err
	}

	return snapshot, portfolio, nil
}

func (e *Engine) checkFreshness(snapshot types.MarketSnapshot) error {
	if snapshot.IsMock {
		return errors.NewMockDataError("trading blocked: snapshot contains mock market data")
	}

	if age := snapshot.Age(e.now()); age > e.maxSnapshotAge {
		return errors.NewStaleDataError(snapshot.AsOf, e.maxSnapshotAge,
			fmt.Sprintf("trading blocked: snapshot is %s old", age.Round(time.Second)))
	}

	return nil
}

// quoteSink is implemented by brokers that fill against pushed quotes, like
// the paper broker.
type quoteSink interface {
	SetQuote(symbol string, price float64)
}

func (e *Engine) rememberPrices(snapshot types.MarketSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sink, _ := e.brk.(quoteSink)

	for ticker, quote := range snapshot.Tickers {
		e.lastPrices[ticker] = quote.Price
		if sink != nil {
			sink.SetQuote(ticker, quote.Price)
		}
	}
}

// propose gates one signal and advances the resulting proposal as far as the
// automation mode allows.
func (e *Engine) propose(
	ctx context.Context,
	signal types.Signal,
	cycleSignals []types.Signal,
	portfolio types.PortfolioState,
	stats *types.DailyStats,
	settings types.AutomationSettings,
) (types.TradeProposal, bool, error) {
	order, err := e.buildOrder(signal, portfolio)
	if err != nil {
		return types.TradeProposal{}, false, err
	}

	check := e.gate.Check(risk.CheckInput{
		Order:          order,
		Signal:         signal,
		ReferencePrice: signal.Price,
		Limits:         settings.Limits,
		Filters:        settings.Filters,
		Stats:          stats,
		Portfolio:      portfolio,
		Now:            e.now(),
		FOMCEvents:     e.fomcEvents,
		CycleSignals:   cycleSignals,
	})

	proposal, err := e.lifecycle.Create(ctx, signal, order, check)
	if err != nil {
		return types.TradeProposal{}, false, err
	}

	if !check.Passed {
		e.notify(ctx, types.Alert{
			Level:    types.AlertLevelWarning,
			Category: "risk",
			Title:    fmt.Sprintf("Proposal blocked: %s %s", signal.Action, signal.Ticker),
			Message:  fmt.Sprintf("blocked by: %v", check.Blocked),
			Agent:    signal.Agent,
		})

		return proposal, true, nil
	}

	if !settings.Enabled || settings.Mode == types.AutomationModeManual {
		e.notify(ctx, types.Alert{
			Level:    types.AlertLevelInfo,
			Category: "proposal",
			Title:    fmt.Sprintf("Proposal pending approval: %s %s", signal.Action, signal.Ticker),
			Message:  signal.Reasoning,
			Agent:    signal.Agent,
		})

		return proposal, false, nil
	}

	proposal, err = e.lifecycle.Approve(ctx, proposal.ID, AutoApprover)
	if err != nil {
		return types.TradeProposal{}, false, err
	}

	if settings.Mode != types.AutomationModeFull {
		return proposal, false, nil
	}

	executed, err := e.lifecycle.Execute(ctx, proposal.ID)
	if err != nil {
		// The proposal stays approved; surface the failure and keep cycling.
		e.notify(ctx, types.Alert{
			Level:    types.AlertLevelCritical,
			Category: "execution",
			Title:    fmt.Sprintf("Execution failed: %s %s", signal.Action, signal.Ticker),
			Message:  err.Error(),
			Agent:    signal.Agent,
		})
		e.log.Error("Autonomous execution failed", zap.String("id", proposal.ID), zap.Error(err))

		return proposal, false, nil
	}

	return executed, false, nil
}

// buildOrder turns a signal into a market order. Buys are sized as a percent
// of total portfolio value; sells close the full held position.
func (e *Engine) buildOrder(signal types.Signal, portfolio types.PortfolioState) (types.Order, error) {
	if signal.Price <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"signal for %s carries no price", signal.Ticker)
	}

	var qty float64

	switch signal.Action {
	case types.TradeActionBuy:
		qty = utils.RoundToDecimalPrecision(
			utils.CalculateOrderQuantityByPercentage(portfolio.TotalValue, signal.Price, 0, e.orderSizePercent/100), 4)
	case types.TradeActionSell:
		position, ok := portfolio.Position(signal.Ticker)
		if !ok {
			return types.Order{}, errors.Newf(errors.ErrCodePositionNotFound,
				"no position in %s to sell", signal.Ticker)
		}
		qty = position.Qty
	default:
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"unsupported signal action %s", signal.Action)
	}

	if qty <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"computed zero quantity for %s", signal.Ticker)
	}

	return types.Order{
		Symbol: signal.Ticker,
		Qty:    qty,
		Side:   signal.Action,
		Type:   types.OrderTypeMarket,
	}, nil
}

// detectMarketEvents emits insight records for notable curve events: the 10Y
// crossing the extreme-yield threshold and a 2s10s inversion flip.
func (e *Engine) detectMarketEvents(snapshot types.MarketSnapshot) []types.LearningRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	insights := make([]types.LearningRecord, 0)

	if snapshot.Yields.Y10 >= extremeYieldThreshold {
		insights = append(insights, types.LearningRecord{
			Agent: "market-events",
			Type:  types.LearningTypeInsight,
			Content: fmt.Sprintf("10Y treasury yield at %.2f%%, above the %.1f%% extreme threshold",
				snapshot.Yields.Y10, extremeYieldThreshold),
			Context:    map[string]string{"y10": fmt.Sprintf("%.4f", snapshot.Yields.Y10)},
			Confidence: 70,
		})
	}

	spread := snapshot.Spreads.Spread2Y10Y
	if e.hasLastSpread && (spread < 0) != (e.lastSpread2s10s < 0) {
		state := "inverted"
		if spread >= 0 {
			state = "normalized"
		}

		insights = append(insights, types.LearningRecord{
			Agent: "market-events",
			Type:  types.LearningTypeInsight,
			Content: fmt.Sprintf("2s10s spread %s at %.2f (was %.2f)",
				state, spread, e.lastSpread2s10s),
			Context:    map[string]string{"spread2s10s": fmt.Sprintf("%.4f", spread)},
			Confidence: 75,
		})
	}

	e.lastSpread2s10s = spread
	e.hasLastSpread = true

	return insights
}

// Reconcile runs one outcome-tracking pass: fetch broker state, reconcile
// tracked positions, and fold results back into owned state. Per-position
// failures are collected, not fatal.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileResult, error) {
	portfolio, err := e.brk.GetPortfolio(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	tracked := e.lifecycle.TrackedPositions()

	since := e.now().Add(-24 * time.Hour)
	for _, position := range tracked {
		if position.EntryTime.Before(since) {
			since = position.EntryTime
		}
	}

	exits, err := e.brk.RecentExecutions(ctx, since)
	if err != nil {
		e.log.Warn("Failed to fetch recent executions, falling back to last prices", zap.Error(err))
		exits = nil
	}

	e.mu.Lock()
	lastPrices := make(map[string]float64, len(e.lastPrices))
	for ticker, price := range e.lastPrices {
		lastPrices[ticker] = price
	}
	e.mu.Unlock()

	result, errs := e.tracker.Reconcile(ReconcileInput{
		Tracked:    tracked,
		Portfolio:  portfolio,
		Ledger:     e.lifecycle.Ledger(),
		Exits:      exits,
		LastPrices: lastPrices,
	})

	if err := e.lifecycle.ApplyReconciliation(ctx, result); err != nil {
		return result, multierr.Append(errs, err)
	}

	if err := e.recordLearnings(ctx, result.Learnings); err != nil {
		e.log.Warn("Failed to record outcome learnings", zap.Error(err))
	}

	for _, learning := range result.Learnings {
		e.notify(ctx, types.Alert{
			Level:    types.AlertLevelInfo,
			Category: "outcome",
			Title:    fmt.Sprintf("Position closed (%s)", learning.Type),
			Message:  learning.Content,
			Agent:    learning.Agent,
		})
	}

	return result, errs
}

// recordLearnings appends learning records to the persisted learnings
// document.
func (e *Engine) recordLearnings(ctx context.Context, records []types.LearningRecord) error {
	if len(records) == 0 {
		return nil
	}

	var existing []types.LearningRecord

	raw, err := e.st.Load(ctx, learningsKey)
	if err == nil {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return errors.Wrap(errors.ErrCodeStateCorrupted, "persisted learnings are not valid JSON", err)
		}
	} else if !errors.HasCode(err, errors.ErrCodeStateNotFound) {
		return err
	}

	existing = append(existing, records...)

	updated, err := json.Marshal(existing)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateCorrupted, "failed to marshal learnings", err)
	}

	return e.st.Save(ctx, learningsKey, updated)
}

// notify delivers an alert without letting delivery failures affect the
// cycle.
func (e *Engine) notify(ctx context.Context, alert types.Alert) {
	if err := e.notifier.Notify(ctx, alert); err != nil {
		e.log.Warn("Alert delivery failed", zap.String("title", alert.Title), zap.Error(err))
	}
}
