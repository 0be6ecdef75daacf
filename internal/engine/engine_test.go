package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/rules"
	"github.com/delphi-lab/delphi-trading/internal/store"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const testRules = `version: "1.0.0"
rules:
  - id: delphi-yield-extreme
    enabled: true
    agent: delphi
    action: buy
    ticker: TMV
    base_confidence: 70
    description: Buy inverse long-bond fund when long yields are extreme
    conditions:
      - kind: yield
        field: y10
        operator: ">="
        value: 5.0
        weight: 1
      - kind: yield
        field: y30
        operator: ">="
        value: 5.0
        weight: 1
`

type stubProvider struct {
	mu       sync.Mutex
	snapshot types.MarketSnapshot
	err      error
}

func (p *stubProvider) FetchSnapshot(_ context.Context) (types.MarketSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshot, p.err
}

func (p *stubProvider) set(snapshot types.MarketSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = snapshot
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (n *stubNotifier) Notify(_ context.Context, alert types.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)

	return nil
}

func (n *stubNotifier) byCategory(category string) []types.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]types.Alert, 0)
	for _, alert := range n.alerts {
		if alert.Category == category {
			out = append(out, alert)
		}
	}

	return out
}

type EngineTestSuite struct {
	suite.Suite
	st       *store.MemoryStore
	brk      *stubBroker
	provider *stubProvider
	notifier *stubNotifier
	loader   *rules.Loader
	engine   *Engine
}

func (suite *EngineTestSuite) SetupTest() {
	suite.st = store.NewMemoryStore()
	suite.brk = &stubBroker{
		exec: broker.OrderExecution{
			OrderID:     "order-1",
			FilledPrice: 42.50,
			FilledAt:    time.Now(),
		},
		portfolio: types.PortfolioState{
			Cash:       100000,
			TotalValue: 100000,
		},
	}
	suite.provider = &stubProvider{snapshot: suite.extremeSnapshot()}
	suite.notifier = &stubNotifier{}

	rulesPath := filepath.Join(suite.T().TempDir(), "rules.yaml")
	suite.Require().NoError(os.WriteFile(rulesPath, []byte(testRules), 0o600))

	suite.loader = rules.NewLoader(rulesPath, logger.NewNopLogger())
	_, err := suite.loader.Load()
	suite.Require().NoError(err)

	suite.engine = suite.newEngine(types.AutomationSettings{
		Enabled: true,
		Mode:    types.AutomationModeFull,
		Limits: types.RiskLimits{
			MaxPositionSize: 25,
			MaxDailyTrades:  10,
			MaxDailyLoss:    10,
			MaxDrawdown:     20,
			MaxOrderValue:   6000,
		},
	})
}

func (suite *EngineTestSuite) newEngine(settings types.AutomationSettings) *Engine {
	lifecycle, err := NewLifecycle(context.Background(), suite.st, suite.brk, logger.NewNopLogger())
	suite.Require().NoError(err)

	engine, err := NewEngine(context.Background(), Config{Settings: settings},
		lifecycle, suite.loader, suite.provider, suite.brk, suite.notifier, suite.st, logger.NewNopLogger())
	suite.Require().NoError(err)

	return engine
}

func (suite *EngineTestSuite) extremeSnapshot() types.MarketSnapshot {
	yields := types.YieldCurve{Y2: 4.8, Y5: 4.9, Y10: 5.1, Y30: 5.3}

	return types.MarketSnapshot{
		AsOf:    time.Now(),
		Yields:  yields,
		Spreads: types.ComputeSpreads(yields),
		Tickers: map[string]types.TickerQuote{
			"TMV": {Price: 42.50, Change: 0.35, ChangePercent: 0.83, Volume: 1_200_000},
		},
	}
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) TestFullAutoEndToEnd() {
	ctx := context.Background()

	result, err := suite.engine.ProcessCycle(ctx, false)
	suite.Require().NoError(err)
	suite.Assert().Equal(1, result.SignalsGenerated)
	suite.Require().Len(result.Proposals, 1)
	suite.Assert().Empty(result.Blocked)

	proposal := result.Proposals[0]
	suite.Assert().Equal(types.ProposalStatusExecuted, proposal.Status)
	suite.Assert().Equal("delphi", proposal.Agent)
	suite.Assert().Equal(90, proposal.Signal.Confidence)
	suite.Assert().Equal(AutoApprover, proposal.ApprovedBy.TakeOr(""))
	// 5% of the $100k portfolio at $42.50, floored to four decimals.
	suite.Assert().InDelta(117.647, proposal.Order.Qty, 1e-9)

	tracked := suite.engine.Lifecycle().TrackedPositions()
	suite.Require().Len(tracked, 1)
	suite.Assert().Equal("TMV", tracked[0].Symbol)
	suite.Assert().InDelta(42.50, tracked[0].EntryPrice, 1e-9)

	// The position later disappears from broker holdings and a sell fill is
	// on record.
	suite.brk.portfolio = types.PortfolioState{Cash: 105000, TotalValue: 105000}
	suite.brk.execs = []broker.OrderExecution{
		{Symbol: "TMV", Side: "sell", FilledPrice: 46.75, FilledAt: time.Now().Add(time.Minute)},
	}

	reconciled, err := suite.engine.Reconcile(ctx)
	suite.Require().NoError(err)
	suite.Require().Len(reconciled.Closed, 1)
	suite.Require().Len(reconciled.Learnings, 1)
	suite.Assert().Equal(types.LearningTypeSuccess, reconciled.Learnings[0].Type)

	suite.Assert().Empty(suite.engine.Lifecycle().TrackedPositions())

	ledger := suite.engine.Lifecycle().Ledger()
	suite.Require().Len(ledger, 1)
	suite.Require().True(ledger[0].Outcome.IsSome())
	outcome := ledger[0].Outcome.Unwrap()
	suite.Assert().InDelta(46.75, outcome.ExitPrice, 1e-9)
	suite.Assert().Greater(outcome.PnL, 0.0)
}

func (suite *EngineTestSuite) TestMockSnapshotBlocksCycle() {
	snapshot := suite.extremeSnapshot()
	snapshot.IsMock = true
	suite.provider.set(snapshot)

	_, err := suite.engine.ProcessCycle(context.Background(), false)

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeMockData))
}

func (suite *EngineTestSuite) TestStaleSnapshotBlocksCycle() {
	snapshot := suite.extremeSnapshot()
	// Ten minutes is past the five-minute freshness threshold.
	snapshot.AsOf = time.Now().Add(-10 * time.Minute)
	suite.provider.set(snapshot)

	_, err := suite.engine.ProcessCycle(context.Background(), false)

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeStaleData))
	suite.Assert().True(errors.IsStaleDataError(err))
}

func (suite *EngineTestSuite) TestMinIntervalThrottling() {
	ctx := context.Background()

	_, err := suite.engine.ProcessCycle(ctx, false)
	suite.Require().NoError(err)

	_, err = suite.engine.ProcessCycle(ctx, false)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeCycleThrottled))

	_, err = suite.engine.ProcessCycle(ctx, true)
	suite.Assert().NoError(err)
}

func (suite *EngineTestSuite) TestManualModeLeavesPending() {
	settings := suite.engine.Settings()
	settings.Mode = types.AutomationModeManual
	suite.Require().NoError(suite.engine.UpdateSettings(context.Background(), settings))

	result, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)
	suite.Require().Len(result.Proposals, 1)
	suite.Assert().Equal(types.ProposalStatusPending, result.Proposals[0].Status)
	suite.Assert().Zero(suite.brk.calls())
	suite.Assert().NotEmpty(suite.notifier.byCategory("proposal"))
}

func (suite *EngineTestSuite) TestSemiModeApprovesWithoutExecuting() {
	settings := suite.engine.Settings()
	settings.Mode = types.AutomationModeSemi
	suite.Require().NoError(suite.engine.UpdateSettings(context.Background(), settings))

	result, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)
	suite.Require().Len(result.Proposals, 1)
	suite.Assert().Equal(types.ProposalStatusApproved, result.Proposals[0].Status)
	suite.Assert().Zero(suite.brk.calls())
}

func (suite *EngineTestSuite) TestAutomationDisabledNeverApproves() {
	settings := suite.engine.Settings()
	settings.Enabled = false
	suite.Require().NoError(suite.engine.UpdateSettings(context.Background(), settings))

	result, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)
	suite.Require().Len(result.Proposals, 1)
	suite.Assert().Equal(types.ProposalStatusPending, result.Proposals[0].Status)
}

func (suite *EngineTestSuite) TestBlockedProposalAudited() {
	settings := suite.engine.Settings()
	settings.Limits.MaxOrderValue = 100
	suite.Require().NoError(suite.engine.UpdateSettings(context.Background(), settings))

	result, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)
	suite.Assert().Empty(result.Proposals)
	suite.Require().Len(result.Blocked, 1)
	suite.Assert().False(result.Blocked[0].Risk.Passed)
	suite.Assert().Zero(suite.brk.calls())
	suite.Assert().NotEmpty(suite.notifier.byCategory("risk"))

	// The blocked decision is listed, not dropped.
	listed := suite.engine.Lifecycle().List()
	suite.Require().Len(listed, 1)
	suite.Assert().Equal(types.ProposalStatusRejected, listed[0].Status)
}

func (suite *EngineTestSuite) TestCorroboratedTradeCarriesNoSingleAgentWarning() {
	// A second agent backing the same trade fires a lower-confidence rule.
	// Deduplication keeps one proposal, but the risk gate must still see
	// every agent behind it.
	secondOpinion := testRules + `  - id: oracle-yield-extreme
    enabled: true
    agent: oracle
    action: buy
    ticker: TMV
    base_confidence: 60
    description: Independent confirmation of the yield extreme
    conditions:
      - kind: yield
        field: y10
        operator: ">="
        value: 5.0
        weight: 1
`

	rulesPath := filepath.Join(suite.T().TempDir(), "rules.yaml")
	suite.Require().NoError(os.WriteFile(rulesPath, []byte(secondOpinion), 0o600))
	suite.loader = rules.NewLoader(rulesPath, logger.NewNopLogger())
	_, err := suite.loader.Load()
	suite.Require().NoError(err)

	settings := suite.engine.Settings()
	settings.Filters.RequireMultipleAgents = true
	engine := suite.newEngine(settings)

	result, err := engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)
	suite.Require().Len(result.Proposals, 1)

	proposal := result.Proposals[0]
	suite.Assert().Equal("delphi", proposal.Agent)
	for _, warning := range proposal.Risk.Warnings {
		suite.Assert().NotContains(warning, "only one agent")
	}
}

func (suite *EngineTestSuite) TestExtremeYieldInsightEmitted() {
	result, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)

	suite.Require().NotEmpty(result.Learnings)
	suite.Assert().Equal(types.LearningTypeInsight, result.Learnings[0].Type)
}

func (suite *EngineTestSuite) TestInversionFlipInsight() {
	ctx := context.Background()

	yields := types.YieldCurve{Y2: 4.0, Y5: 4.0, Y10: 4.2, Y30: 4.4}
	snapshot := suite.extremeSnapshot()
	snapshot.Yields = yields
	snapshot.Spreads = types.ComputeSpreads(yields)
	suite.provider.set(snapshot)

	_, err := suite.engine.ProcessCycle(ctx, false)
	suite.Require().NoError(err)

	inverted := types.YieldCurve{Y2: 4.5, Y5: 4.2, Y10: 4.2, Y30: 4.4}
	snapshot.Yields = inverted
	snapshot.Spreads = types.ComputeSpreads(inverted)
	suite.provider.set(snapshot)

	result, err := suite.engine.ProcessCycle(ctx, true)
	suite.Require().NoError(err)

	suite.Require().NotEmpty(result.Learnings)
	found := false
	for _, learning := range result.Learnings {
		if learning.Context["spread2s10s"] != "" {
			found = true
		}
	}
	suite.Assert().True(found)
}

func (suite *EngineTestSuite) TestSignalHistoryRetained() {
	_, err := suite.engine.ProcessCycle(context.Background(), false)
	suite.Require().NoError(err)

	suite.Assert().Equal(1, suite.engine.History().Len())
	recent := suite.engine.History().Recent(10)
	suite.Require().Len(recent, 1)
	suite.Assert().Equal("TMV", recent[0].Ticker)
}

func (suite *EngineTestSuite) TestUpdateSettingsPersists() {
	settings := suite.engine.Settings()
	settings.Mode = types.AutomationModeManual
	settings.Limits.MaxDailyTrades = 3
	suite.Require().NoError(suite.engine.UpdateSettings(context.Background(), settings))

	restored := suite.newEngine(types.AutomationSettings{Mode: types.AutomationModeFull})
	suite.Assert().Equal(types.AutomationModeManual, restored.Settings().Mode)
	suite.Assert().Equal(3, restored.Settings().Limits.MaxDailyTrades)
}

func (suite *EngineTestSuite) TestUpdateSettingsValidated() {
	err := suite.engine.UpdateSettings(context.Background(), types.AutomationSettings{Mode: "yolo"})
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}
