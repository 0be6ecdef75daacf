// Package marketdata fetches the inputs for a market snapshot: treasury
// yields and ticker quotes. The composite provider assembles them into the
// normalized snapshot the rule engine consumes.
package marketdata

import (
	"context"

	"github.com/delphi-lab/delphi-trading/internal/types"
)

// YieldProvider fetches the current and prior-session treasury yield curves.
type YieldProvider interface {
	FetchYieldCurve(ctx context.Context) (current types.YieldCurve, previous types.YieldCurve, err error)
}

// QuoteProvider fetches the latest quote for a ticker.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, ticker string) (types.TickerQuote, error)
}

// Provider produces a full market snapshot.
type Provider interface {
	FetchSnapshot(ctx context.Context) (types.MarketSnapshot, error)
}
