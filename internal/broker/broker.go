// Package broker abstracts order execution and portfolio access. The core
// only needs three operations, so live venues and the paper broker share one
// small interface.
package broker

import (
	"context"
	"time"

	"github.com/delphi-lab/delphi-trading/internal/types"
)

// DefaultOrderTimeout bounds a single PlaceOrder call against a live venue.
const DefaultOrderTimeout = 10 * time.Second

// OrderExecution is the broker's report of a filled order.
type OrderExecution struct {
	OrderID     string    `json:"orderId"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         float64   `json:"qty"`
	FilledPrice float64   `json:"filledPrice"`
	FilledAt    time.Time `json:"filledAt"`
}

// Broker places orders and reports account state.
type Broker interface {
	// PlaceOrder submits the order and blocks until it fills, fails, or ctx
	// expires. A timeout returns an error with code ErrCodeOrderTimeout.
	PlaceOrder(ctx context.Context, order types.Order) (OrderExecution, error)
	// GetPortfolio returns current positions and cash.
	GetPortfolio(ctx context.Context) (types.PortfolioState, error)
	// RecentExecutions returns fills since the given time, newest first.
	RecentExecutions(ctx context.Context, since time.Time) ([]OrderExecution, error)
}
