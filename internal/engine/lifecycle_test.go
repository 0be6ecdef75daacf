package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/store"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// stubBroker implements broker.Broker for lifecycle and engine tests.
type stubBroker struct {
	mu         sync.Mutex
	exec       broker.OrderExecution
	execErr    error
	portfolio  types.PortfolioState
	execs      []broker.OrderExecution
	placeCalls int
	placeDelay time.Duration
}

func (b *stubBroker) PlaceOrder(_ context.Context, order types.Order) (broker.OrderExecution, error) {
	b.mu.Lock()
	b.placeCalls++
	b.mu.Unlock()

	if b.placeDelay > 0 {
		time.Sleep(b.placeDelay)
	}

	if b.execErr != nil {
		return broker.OrderExecution{}, b.execErr
	}

	exec := b.exec
	if exec.Symbol == "" {
		exec.Symbol = order.Symbol
	}
	if exec.Qty == 0 {
		exec.Qty = order.Qty
	}

	return exec, nil
}

func (b *stubBroker) GetPortfolio(_ context.Context) (types.PortfolioState, error) {
	return b.portfolio, nil
}

func (b *stubBroker) RecentExecutions(_ context.Context, _ time.Time) ([]broker.OrderExecution, error) {
	return b.execs, nil
}

func (b *stubBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.placeCalls
}

type LifecycleTestSuite struct {
	suite.Suite
	st        *store.MemoryStore
	brk       *stubBroker
	lifecycle *Lifecycle
	clock     time.Time
	clockMu   sync.Mutex
}

func (suite *LifecycleTestSuite) SetupTest() {
	suite.st = store.NewMemoryStore()
	suite.brk = &stubBroker{
		exec: broker.OrderExecution{
			OrderID:     "order-1",
			FilledPrice: 42.50,
			FilledAt:    time.Now(),
		},
	}
	suite.clock = time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)

	var err error
	suite.lifecycle, err = NewLifecycle(context.Background(), suite.st, suite.brk, logger.NewNopLogger(),
		WithClock(suite.nowFunc()))
	suite.Require().NoError(err)
}

func (suite *LifecycleTestSuite) nowFunc() func() time.Time {
	return func() time.Time {
		suite.clockMu.Lock()
		defer suite.clockMu.Unlock()
		return suite.clock
	}
}

func (suite *LifecycleTestSuite) advance(d time.Duration) {
	suite.clockMu.Lock()
	suite.clock = suite.clock.Add(d)
	suite.clockMu.Unlock()
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func (suite *LifecycleTestSuite) signal() types.Signal {
	return types.Signal{
		ID:         "sig-1",
		Time:       suite.clock,
		Agent:      "delphi",
		Ticker:     "TMV",
		Action:     types.TradeActionBuy,
		Confidence: 90,
		Price:      42.50,
	}
}

func (suite *LifecycleTestSuite) order() types.Order {
	return types.Order{
		Symbol: "TMV",
		Qty:    100,
		Side:   types.TradeActionBuy,
		Type:   types.OrderTypeMarket,
	}
}

func (suite *LifecycleTestSuite) passedRisk() types.RiskCheckResult {
	return types.RiskCheckResult{Passed: true, Warnings: []string{}, Blocked: []string{}}
}

func (suite *LifecycleTestSuite) createPending() types.TradeProposal {
	proposal, err := suite.lifecycle.Create(context.Background(), suite.signal(), suite.order(), suite.passedRisk())
	suite.Require().NoError(err)
	suite.Require().Equal(types.ProposalStatusPending, proposal.Status)
	return proposal
}

func (suite *LifecycleTestSuite) TestApproveAndExecute() {
	ctx := context.Background()
	proposal := suite.createPending()

	approved, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusApproved, approved.Status)
	suite.Assert().Equal("operator", approved.ApprovedBy.TakeOr(""))

	executed, err := suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusExecuted, executed.Status)
	suite.Assert().Equal("order-1", executed.OrderID.TakeOr(""))

	stats := suite.lifecycle.Stats()
	suite.Assert().Equal(1, stats.TradesCount)
	suite.Require().Len(stats.Trades, 1)
	suite.Assert().Equal("TMV", stats.Trades[0].Ticker)
	suite.Assert().InDelta(42.50, stats.Trades[0].Price, 1e-9)

	tracked := suite.lifecycle.TrackedPositions()
	suite.Require().Len(tracked, 1)
	suite.Assert().Equal("TMV", tracked[0].Symbol)
	suite.Assert().InDelta(42.50, tracked[0].EntryPrice, 1e-9)
}

func (suite *LifecycleTestSuite) TestSellExecutionDoesNotTrack() {
	ctx := context.Background()
	order := suite.order()
	order.Side = types.TradeActionSell

	proposal, err := suite.lifecycle.Create(ctx, suite.signal(), order, suite.passedRisk())
	suite.Require().NoError(err)

	_, err = suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)
	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)

	suite.Assert().Empty(suite.lifecycle.TrackedPositions())
}

func (suite *LifecycleTestSuite) TestReconciliationKeepsConcurrentlyTrackedPosition() {
	ctx := context.Background()

	// A reconcile result computed from an empty tracked set, as a tracker
	// would have produced before the execution below landed.
	stale := ReconcileResult{}

	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)
	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)
	suite.Require().Len(suite.lifecycle.TrackedPositions(), 1)

	suite.Require().NoError(suite.lifecycle.ApplyReconciliation(ctx, stale))

	tracked := suite.lifecycle.TrackedPositions()
	suite.Require().Len(tracked, 1, "position registered after the tracker's read must survive")
	suite.Assert().Equal("TMV", tracked[0].Symbol)
}

func (suite *LifecycleTestSuite) TestReconciliationRemovesOnlyClosedSymbols() {
	ctx := context.Background()

	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)
	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)

	tracked := suite.lifecycle.TrackedPositions()
	suite.Require().Len(tracked, 1)

	result := ReconcileResult{Closed: []types.TrackedPosition{tracked[0]}}
	suite.Require().NoError(suite.lifecycle.ApplyReconciliation(ctx, result))

	suite.Assert().Empty(suite.lifecycle.TrackedPositions())
}

func (suite *LifecycleTestSuite) TestBlockedProposalRecordedAsRejected() {
	check := types.RiskCheckResult{
		Passed:  false,
		Blocked: []string{"order value $10000.00 exceeds maximum $5000.00"},
	}

	proposal, err := suite.lifecycle.Create(context.Background(), suite.signal(), suite.order(), check)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusRejected, proposal.Status)
	suite.Assert().NotEmpty(proposal.Risk.Blocked)

	// Still listed for auditability.
	listed := suite.lifecycle.List()
	suite.Require().Len(listed, 1)
	suite.Assert().Equal(types.ProposalStatusRejected, listed[0].Status)
}

func (suite *LifecycleTestSuite) TestApproveExpiredProposal() {
	proposal := suite.createPending()
	suite.advance(DefaultProposalTTL + time.Minute)

	_, err := suite.lifecycle.Approve(context.Background(), proposal.ID, "operator")
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeProposalExpired))

	got, err := suite.lifecycle.Get(proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusExpired, got.Status)
}

func (suite *LifecycleTestSuite) TestLazyExpiryInList() {
	suite.createPending()
	suite.advance(DefaultProposalTTL + time.Minute)

	listed := suite.lifecycle.List()
	suite.Require().Len(listed, 1)
	suite.Assert().Equal(types.ProposalStatusExpired, listed[0].Status)
}

func (suite *LifecycleTestSuite) TestRejectIsIdempotent() {
	ctx := context.Background()
	proposal := suite.createPending()

	_, err := suite.lifecycle.Reject(ctx, proposal.ID)
	suite.Require().NoError(err)

	rejected, err := suite.lifecycle.Reject(ctx, proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusRejected, rejected.Status)
}

func (suite *LifecycleTestSuite) TestExecuteRequiresApproval() {
	proposal := suite.createPending()

	_, err := suite.lifecycle.Execute(context.Background(), proposal.ID)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeIllegalTransition))
	suite.Assert().Zero(suite.brk.calls())
}

func (suite *LifecycleTestSuite) TestApproveUnknownProposal() {
	_, err := suite.lifecycle.Approve(context.Background(), "missing", "operator")
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeProposalNotFound))
}

func (suite *LifecycleTestSuite) TestDoubleExecuteRace() {
	ctx := context.Background()
	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)

	suite.brk.placeDelay = 20 * time.Millisecond

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := suite.lifecycle.Execute(ctx, proposal.ID)
			results <- err
		}()
	}

	var successes, illegal int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			successes++
		} else if errors.HasCode(err, errors.ErrCodeIllegalTransition) {
			illegal++
		}
	}

	suite.Assert().Equal(1, successes)
	suite.Assert().Equal(1, illegal)
	suite.Assert().Equal(1, suite.brk.calls())
	suite.Assert().Equal(1, suite.lifecycle.Stats().TradesCount)
}

func (suite *LifecycleTestSuite) TestExecutionFailureLeavesApproved() {
	ctx := context.Background()
	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)

	suite.brk.execErr = errors.New(errors.ErrCodeOrderFailed, "venue rejected")

	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().Error(err)
	suite.Assert().Equal(maxExecuteAttempts, suite.brk.calls())

	got, err := suite.lifecycle.Get(proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusApproved, got.Status)
	suite.Assert().Zero(suite.lifecycle.Stats().TradesCount)

	// The approved proposal can be retried.
	suite.brk.execErr = nil
	executed, err := suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusExecuted, executed.Status)
}

func (suite *LifecycleTestSuite) TestTimeoutIsNotRetried() {
	ctx := context.Background()
	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)

	suite.brk.execErr = errors.New(errors.ErrCodeOrderTimeout, "order not confirmed")

	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeOrderTimeout))
	suite.Assert().Equal(1, suite.brk.calls())

	got, err := suite.lifecycle.Get(proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusApproved, got.Status)
}

func (suite *LifecycleTestSuite) TestBeginCycleThrottle() {
	suite.Require().NoError(suite.lifecycle.BeginCycle(false))

	err := suite.lifecycle.BeginCycle(false)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeCycleThrottled))

	// Force bypasses the guard.
	suite.Assert().NoError(suite.lifecycle.BeginCycle(true))

	suite.advance(DefaultMinInterval + time.Second)
	suite.Assert().NoError(suite.lifecycle.BeginCycle(false))
}

func (suite *LifecycleTestSuite) TestStateSurvivesRestart() {
	ctx := context.Background()
	proposal := suite.createPending()
	_, err := suite.lifecycle.Approve(ctx, proposal.ID, "operator")
	suite.Require().NoError(err)
	_, err = suite.lifecycle.Execute(ctx, proposal.ID)
	suite.Require().NoError(err)

	restored, err := NewLifecycle(ctx, suite.st, suite.brk, logger.NewNopLogger(),
		WithClock(suite.nowFunc()))
	suite.Require().NoError(err)

	got, err := restored.Get(proposal.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.ProposalStatusExecuted, got.Status)
	suite.Assert().Equal(1, restored.Stats().TradesCount)
	suite.Require().Len(restored.TrackedPositions(), 1)
	suite.Assert().Equal("TMV", restored.TrackedPositions()[0].Symbol)
	suite.Require().Len(restored.Ledger(), 1)
}

func (suite *LifecycleTestSuite) TestCorruptedStateRejected() {
	ctx := context.Background()
	suite.Require().NoError(suite.st.Save(ctx, store.KeyProposals, []byte("not json")))

	_, err := NewLifecycle(ctx, suite.st, suite.brk, logger.NewNopLogger())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeStateCorrupted))
}
