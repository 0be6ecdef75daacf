package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is the candidate order embedded in a trade proposal.
type Order struct {
	Symbol string      `yaml:"symbol" json:"symbol" validate:"required"`
	Qty    float64     `yaml:"qty" json:"qty" validate:"required,gt=0"`
	Side   TradeAction `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	Type   OrderType   `yaml:"type" json:"type" validate:"required,oneof=market limit"`
	// LimitPrice is required for limit orders and absent for market orders.
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limitPrice,omitempty"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	if o.Type == OrderTypeLimit && o.LimitPrice.IsNone() {
		return errors.New(errors.ErrCodeInvalidOrder, "limit order requires a limit price")
	}

	return nil
}

// Value returns the notional dollar value of the order at the given reference
// price. Limit orders use their limit price.
func (o *Order) Value(referencePrice float64) float64 {
	price := o.LimitPrice.TakeOr(referencePrice)

	return o.Qty * price
}

// ProposalStatus is the stored lifecycle state of a trade proposal.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
	ProposalStatusExecuted ProposalStatus = "executed"
	ProposalStatusExpired  ProposalStatus = "expired"
)

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition. Legal transitions are pending -> approved/rejected/expired and
// approved -> executed; everything else is a consistency error.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case ProposalStatusPending:
		return next == ProposalStatusApproved || next == ProposalStatusRejected || next == ProposalStatusExpired
	case ProposalStatusApproved:
		return next == ProposalStatusExecuted
	case ProposalStatusRejected, ProposalStatusExecuted, ProposalStatusExpired:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusRejected || s == ProposalStatusExecuted || s == ProposalStatusExpired
}

// TradeProposal is a candidate order awaiting approval and execution, gated by
// a risk check. Proposals persist across restarts.
type TradeProposal struct {
	ID     string          `yaml:"id" json:"id"`
	Time   time.Time       `yaml:"time" json:"timestamp"`
	Agent  string          `yaml:"agent" json:"agent"`
	Signal Signal          `yaml:"signal" json:"signal"`
	Order  Order           `yaml:"order" json:"order"`
	Status ProposalStatus  `yaml:"status" json:"status"`
	Risk   RiskCheckResult `yaml:"risk_check" json:"riskCheck"`

	ApprovedAt optional.Option[time.Time] `yaml:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy optional.Option[string]    `yaml:"approved_by" json:"approvedBy,omitempty"`
	ExecutedAt optional.Option[time.Time] `yaml:"executed_at" json:"executedAt,omitempty"`
	// OrderID is the broker order id assigned on execution.
	OrderID optional.Option[string] `yaml:"order_id" json:"orderId,omitempty"`

	// ExpiresAt is fixed at creation. A pending proposal past this instant is
	// expired for every reader regardless of the stored status field.
	ExpiresAt time.Time `yaml:"expires_at" json:"expiresAt"`
}

// EffectiveStatus derives the status visible to readers at the given instant.
// Expiry is a read-time derivation, not a background job: a pending proposal
// whose deadline has passed reads as expired even if the stored field was
// never rewritten.
func (p *TradeProposal) EffectiveStatus(now time.Time) ProposalStatus {
	if p.Status == ProposalStatusPending && now.After(p.ExpiresAt) {
		return ProposalStatusExpired
	}

	return p.Status
}

// IsActionable reports whether the proposal can still be approved or rejected
// at the given instant.
func (p *TradeProposal) IsActionable(now time.Time) bool {
	return p.EffectiveStatus(now) == ProposalStatusPending
}
