package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/broker"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/store"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const (
	// DefaultProposalTTL is how long a pending proposal stays approvable.
	DefaultProposalTTL = 30 * time.Minute
	// DefaultMinInterval is the minimum spacing between full signal cycles.
	DefaultMinInterval = 60 * time.Second

	// maxExecuteAttempts bounds order-placement retries within one Execute
	// call. Further retries need an operator (or scheduler) calling again.
	maxExecuteAttempts = 3
)

// Lifecycle owns all mutable trading state: proposals, the trade ledger,
// tracked positions, daily stats, and the last-run marker. Every mutation
// happens under one mutex and is persisted before the call returns.
type Lifecycle struct {
	mu  sync.Mutex
	log *logger.Logger
	st  store.Store
	brk broker.Broker

	proposals map[string]*types.TradeProposal
	tracked   map[string]types.TrackedPosition
	ledger    []*types.ExecutedTrade
	ledgerIdx map[string]*types.ExecutedTrade
	stats     *types.DailyStats
	lastRun   time.Time

	proposalTTL time.Duration
	minInterval time.Duration
	now         func() time.Time
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

func WithProposalTTL(ttl time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.proposalTTL = ttl }
}

func WithMinInterval(interval time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.minInterval = interval }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle creates a lifecycle manager and restores persisted state.
func NewLifecycle(ctx context.Context, st store.Store, brk broker.Broker, log *logger.Logger, opts ...LifecycleOption) (*Lifecycle, error) {
	l := &Lifecycle{
		log:         log,
		st:          st,
		brk:         brk,
		proposals:   make(map[string]*types.TradeProposal),
		tracked:     make(map[string]types.TrackedPosition),
		ledger:      make([]*types.ExecutedTrade, 0),
		ledgerIdx:   make(map[string]*types.ExecutedTrade),
		proposalTTL: DefaultProposalTTL,
		minInterval: DefaultMinInterval,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.stats = types.NewDailyStats(l.now().Format(types.DateFormat))

	if err := l.restore(ctx); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Lifecycle) restore(ctx context.Context) error {
	var proposals []types.TradeProposal
	if err := l.loadDocument(ctx, store.KeyProposals, &proposals); err != nil {
		return err
	}
	for i := range proposals {
		p := proposals[i]
		l.proposals[p.ID] = &p
	}

	var tracked []types.TrackedPosition
	if err := l.loadDocument(ctx, store.KeyTrackedPositions, &tracked); err != nil {
		return err
	}
	for _, t := range tracked {
		l.tracked[t.Symbol] = t
	}

	var ledger []types.ExecutedTrade
	if err := l.loadDocument(ctx, store.KeyTradeLedger, &ledger); err != nil {
		return err
	}
	for i := range ledger {
		t := ledger[i]
		l.ledger = append(l.ledger, &t)
		l.ledgerIdx[t.ID] = &t
	}

	var stats types.DailyStats
	if err := l.loadDocument(ctx, store.KeyDailyStats, &stats); err != nil {
		return err
	}
	if stats.Date != "" {
		l.stats = &stats
	}

	return nil
}

// loadDocument reads and unmarshals one state document. A missing key leaves
// the target untouched; malformed persisted state is a corruption error.
func (l *Lifecycle) loadDocument(ctx context.Context, key string, target any) error {
	raw, err := l.st.Load(ctx, key)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeStateNotFound) {
			return nil
		}

		return err
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(errors.ErrCodeStateCorrupted, err, "persisted state %q is not valid JSON", key)
	}

	return nil
}

func (l *Lifecycle) persistLocked(ctx context.Context) error {
	proposals := make([]types.TradeProposal, 0, len(l.proposals))
	for _, p := range l.proposals {
		proposals = append(proposals, *p)
	}

	tracked := make([]types.TrackedPosition, 0, len(l.tracked))
	for _, t := range l.tracked {
		tracked = append(tracked, t)
	}

	ledger := make([]types.ExecutedTrade, 0, len(l.ledger))
	for _, t := range l.ledger {
		ledger = append(ledger, *t)
	}

	var err error
	err = multierr.Append(err, l.saveDocument(ctx, store.KeyProposals, proposals))
	err = multierr.Append(err, l.saveDocument(ctx, store.KeyTrackedPositions, tracked))
	err = multierr.Append(err, l.saveDocument(ctx, store.KeyTradeLedger, ledger))
	err = multierr.Append(err, l.saveDocument(ctx, store.KeyDailyStats, l.stats))

	return err
}

func (l *Lifecycle) saveDocument(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStateCorrupted, err, "failed to marshal state %q", key)
	}

	return l.st.Save(ctx, key, raw)
}

// BeginCycle enforces the minimum interval between signal cycles. On success
// the last-run marker is advanced atomically, so concurrent callers cannot
// both win the same window.
func (l *Lifecycle) BeginCycle(force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !force && !l.lastRun.IsZero() {
		if elapsed := now.Sub(l.lastRun); elapsed < l.minInterval {
			return errors.Newf(errors.ErrCodeCycleThrottled,
				"cycle ran %s ago, minimum interval is %s", elapsed.Round(time.Second), l.minInterval)
		}
	}

	l.lastRun = now

	return nil
}

// Create records a proposal for a signal that cleared, or failed, the risk
// gate. Gate-blocked proposals are stored as rejected so the decision stays
// auditable; passing proposals start pending with a fresh expiry deadline.
func (l *Lifecycle) Create(ctx context.Context, signal types.Signal, order types.Order, risk types.RiskCheckResult) (types.TradeProposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	proposal := &types.TradeProposal{
		ID:        uuid.New().String(),
		Time:      now,
		Agent:     signal.Agent,
		Signal:    signal,
		Order:     order,
		Status:    types.ProposalStatusPending,
		Risk:      risk,
		ExpiresAt: now.Add(l.proposalTTL),
	}

	if !risk.Passed {
		proposal.Status = types.ProposalStatusRejected
	}

	l.proposals[proposal.ID] = proposal

	if err := l.persistLocked(ctx); err != nil {
		return types.TradeProposal{}, err
	}

	l.log.Info("Proposal created",
		zap.String("id", proposal.ID),
		zap.String("ticker", signal.Ticker),
		zap.String("action", string(signal.Action)),
		zap.Bool("riskPassed", risk.Passed))

	return *proposal, nil
}

// Approve transitions a pending, unexpired proposal to approved.
func (l *Lifecycle) Approve(ctx context.Context, id, approver string) (types.TradeProposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	proposal, ok := l.proposals[id]
	if !ok {
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalNotFound, "proposal %s not found", id)
	}

	now := l.now()
	switch status := proposal.EffectiveStatus(now); status {
	case types.ProposalStatusPending:
	case types.ProposalStatusExpired:
		proposal.Status = types.ProposalStatusExpired

		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalExpired,
			"proposal %s expired at %s", id, proposal.ExpiresAt.Format(time.RFC3339))
	default:
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeIllegalTransition,
			"cannot approve proposal %s in status %s", id, status)
	}

	proposal.Status = types.ProposalStatusApproved
	proposal.ApprovedAt = optional.Some(now)
	proposal.ApprovedBy = optional.Some(approver)

	if err := l.persistLocked(ctx); err != nil {
		return types.TradeProposal{}, err
	}

	l.log.Info("Proposal approved", zap.String("id", id), zap.String("approver", approver))

	return *proposal, nil
}

// Reject transitions a pending proposal to rejected. Rejecting an already
// rejected proposal is a no-op.
func (l *Lifecycle) Reject(ctx context.Context, id string) (types.TradeProposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	proposal, ok := l.proposals[id]
	if !ok {
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalNotFound, "proposal %s not found", id)
	}

	now := l.now()
	switch status := proposal.EffectiveStatus(now); status {
	case types.ProposalStatusPending:
	case types.ProposalStatusRejected:
		return *proposal, nil
	case types.ProposalStatusExpired:
		proposal.Status = types.ProposalStatusExpired

		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalExpired,
			"proposal %s expired at %s", id, proposal.ExpiresAt.Format(time.RFC3339))
	default:
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeIllegalTransition,
			"cannot reject proposal %s in status %s", id, status)
	}

	proposal.Status = types.ProposalStatusRejected

	if err := l.persistLocked(ctx); err != nil {
		return types.TradeProposal{}, err
	}

	l.log.Info("Proposal rejected", zap.String("id", id))

	return *proposal, nil
}

// Execute places the order for an approved proposal. On success the proposal
// becomes executed, the fill is recorded in the ledger and the day's stats,
// and buy-side fills register a tracked position. On failure the proposal
// stays approved so the call can be retried.
func (l *Lifecycle) Execute(ctx context.Context, id string) (types.TradeProposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	proposal, ok := l.proposals[id]
	if !ok {
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalNotFound, "proposal %s not found", id)
	}

	if status := proposal.EffectiveStatus(l.now()); status != types.ProposalStatusApproved {
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeIllegalTransition,
			"cannot execute proposal %s in status %s", id, status)
	}

	exec, err := l.placeWithRetry(ctx, proposal.Order)
	if err != nil {
		l.log.Error("Order placement failed, proposal stays approved",
			zap.String("id", id),
			zap.Error(err))

		return types.TradeProposal{}, err
	}

	now := l.now()
	proposal.Status = types.ProposalStatusExecuted
	proposal.ExecutedAt = optional.Some(now)
	proposal.OrderID = optional.Some(exec.OrderID)

	trade := &types.ExecutedTrade{
		ID:         uuid.New().String(),
		Time:       now,
		ProposalID: proposal.ID,
		Agent:      proposal.Agent,
		Ticker:     proposal.Order.Symbol,
		Action:     proposal.Order.Side,
		Qty:        exec.Qty,
		Price:      exec.FilledPrice,
	}
	l.ledger = append(l.ledger, trade)
	l.ledgerIdx[trade.ID] = trade

	l.stats.RollToDate(now.Format(types.DateFormat))
	l.stats.RecordTrade(*trade)

	if proposal.Order.Side == types.TradeActionBuy {
		if _, exists := l.tracked[trade.Ticker]; !exists {
			l.tracked[trade.Ticker] = types.TrackedPosition{
				Symbol:       trade.Ticker,
				EntryTradeID: trade.ID,
				EntryPrice:   trade.Price,
				Qty:          trade.Qty,
				EntryTime:    trade.Time,
				Agent:        trade.Agent,
			}
		}
	}

	if err := l.persistLocked(ctx); err != nil {
		return types.TradeProposal{}, err
	}

	l.log.Info("Proposal executed",
		zap.String("id", id),
		zap.String("orderId", exec.OrderID),
		zap.Float64("filledPrice", exec.FilledPrice))

	return *proposal, nil
}

func (l *Lifecycle) placeWithRetry(ctx context.Context, order types.Order) (broker.OrderExecution, error) {
	var exec broker.OrderExecution

	operation := func() error {
		var err error
		exec, err = l.brk.PlaceOrder(ctx, order)
		if err != nil {
			// Timeouts leave the order state at the venue unknown; retrying
			// could double-fill, so surface immediately.
			if errors.HasCode(err, errors.ErrCodeOrderTimeout) {
				return backoff.Permanent(err)
			}

			l.log.Warn("Order placement attempt failed, retrying", zap.Error(err))
		}

		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxExecuteAttempts-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return broker.OrderExecution{}, err
	}

	return exec, nil
}

// Get returns a proposal by id with read-time expiry applied.
func (l *Lifecycle) Get(id string) (types.TradeProposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	proposal, ok := l.proposals[id]
	if !ok {
		return types.TradeProposal{}, errors.Newf(errors.ErrCodeProposalNotFound, "proposal %s not found", id)
	}

	out := *proposal
	out.Status = proposal.EffectiveStatus(l.now())

	return out, nil
}

// List returns all proposals with read-time expiry applied, newest first.
func (l *Lifecycle) List() []types.TradeProposal {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]types.TradeProposal, 0, len(l.proposals))
	for _, p := range l.proposals {
		copied := *p
		copied.Status = p.EffectiveStatus(now)
		out = append(out, copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})

	return out
}

// RollStats advances daily stats to the current calendar day and folds in the
// observed portfolio value.
func (l *Lifecycle) RollStats(ctx context.Context, portfolioValue float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.RollToDate(l.now().Format(types.DateFormat))
	l.stats.ObservePortfolioValue(portfolioValue)

	return l.persistLocked(ctx)
}

// Stats returns a copy of the current daily stats.
func (l *Lifecycle) Stats() types.DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := *l.stats
	out.Trades = make([]types.ExecutedTrade, len(l.stats.Trades))
	copy(out.Trades, l.stats.Trades)

	return out
}

// TrackedPositions returns a copy of the tracked position set.
func (l *Lifecycle) TrackedPositions() []types.TrackedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.TrackedPosition, 0, len(l.tracked))
	for _, t := range l.tracked {
		out = append(out, t)
	}

	return out
}

// Ledger returns a copy of the trade ledger, oldest first.
func (l *Lifecycle) Ledger() []types.ExecutedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.ExecutedTrade, 0, len(l.ledger))
	for _, t := range l.ledger {
		out = append(out, *t)
	}

	return out
}

// ApplyReconciliation folds an outcome-tracker result back into owned state:
// outcomes annotate their ledger trades exactly once, realized P&L lands in
// the day's stats, and the tracked set is merged with the result. Only
// symbols the reconcile run observed as closed are removed, so a position
// registered by a concurrent Execute between the tracker's read and this
// apply survives.
func (l *Lifecycle) ApplyReconciliation(ctx context.Context, result ReconcileResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, update := range result.Outcomes {
		trade, ok := l.ledgerIdx[update.TradeID]
		if !ok {
			l.log.Warn("Outcome references unknown trade", zap.String("tradeId", update.TradeID))
			continue
		}

		if trade.Outcome.IsSome() {
			continue
		}

		trade.Outcome = optional.Some(update.Outcome)
		l.stats.RollToDate(l.now().Format(types.DateFormat))
		l.stats.AddPnL(update.Outcome.PnL)
	}

	for _, t := range result.Closed {
		delete(l.tracked, t.Symbol)
	}
	for _, t := range result.StillOpen {
		l.tracked[t.Symbol] = t
	}
	for _, t := range result.NewlyTracked {
		l.tracked[t.Symbol] = t
	}

	return l.persistLocked(ctx)
}
