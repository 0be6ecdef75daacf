package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// CompositeProvider assembles a snapshot from a yield provider and a quote
// provider, fetching all inputs in parallel. Yields are required; a failed
// ticker quote is logged and omitted so one bad symbol does not sink the
// whole cycle.
type CompositeProvider struct {
	yields  YieldProvider
	quotes  QuoteProvider
	tickers []string
	log     *logger.Logger
	now     func() time.Time
}

func NewCompositeProvider(yields YieldProvider, quotes QuoteProvider, tickers []string, log *logger.Logger) *CompositeProvider {
	return &CompositeProvider{
		yields:  yields,
		quotes:  quotes,
		tickers: tickers,
		log:     log,
		now:     time.Now,
	}
}

func (p *CompositeProvider) FetchSnapshot(ctx context.Context) (types.MarketSnapshot, error) {
	var (
		current, previous types.YieldCurve
		mu                sync.Mutex
		quotes            = make(map[string]types.TickerQuote)
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		current, previous, err = p.yields.FetchYieldCurve(gctx)
		return err
	})

	for _, ticker := range p.tickers {
		g.Go(func() error {
			quote, err := p.quotes.FetchQuote(gctx, ticker)
			if err != nil {
				p.log.Warn("Failed to fetch quote, omitting from snapshot",
					zap.String("ticker", ticker),
					zap.Error(err))
				return nil
			}

			mu.Lock()
			quotes[ticker] = quote
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return types.MarketSnapshot{}, errors.Wrap(errors.ErrCodeSnapshotFetchFailed,
			"failed to assemble market snapshot", err)
	}

	return types.MarketSnapshot{
		AsOf:   p.now(),
		IsMock: false,
		Yields: current,
		YieldChanges: types.YieldCurve{
			Y2:  current.Y2 - previous.Y2,
			Y5:  current.Y5 - previous.Y5,
			Y10: current.Y10 - previous.Y10,
			Y30: current.Y30 - previous.Y30,
		},
		Spreads: types.ComputeSpreads(current),
		Tickers: quotes,
	}, nil
}

// MockProvider serves a fixed snapshot flagged IsMock. Signal generation
// refuses mock snapshots, so this keeps the rest of the pipeline observable
// when live data is unreachable.
type MockProvider struct {
	now func() time.Time
}

func NewMockProvider() *MockProvider {
	return &MockProvider{now: time.Now}
}

func (p *MockProvider) FetchSnapshot(_ context.Context) (types.MarketSnapshot, error) {
	yields := types.YieldCurve{Y2: 4.10, Y5: 4.05, Y10: 4.25, Y30: 4.50}

	return types.MarketSnapshot{
		AsOf:         p.now(),
		IsMock:       true,
		Yields:       yields,
		YieldChanges: types.YieldCurve{},
		Spreads:      types.ComputeSpreads(yields),
		Tickers: map[string]types.TickerQuote{
			"TMV": {Price: 42.50, Change: 0.35, ChangePercent: 0.83, Volume: 1_200_000},
			"TLT": {Price: 93.10, Change: -0.22, ChangePercent: -0.24, Volume: 28_000_000},
		},
	}, nil
}

// FallbackProvider tries the primary provider and falls back to a secondary
// when it fails. The usual wiring is live composite over mock.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	log      *logger.Logger
}

func NewFallbackProvider(primary, fallback Provider, log *logger.Logger) *FallbackProvider {
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

func (p *FallbackProvider) FetchSnapshot(ctx context.Context) (types.MarketSnapshot, error) {
	snapshot, err := p.primary.FetchSnapshot(ctx)
	if err == nil {
		return snapshot, nil
	}

	p.log.Warn("Primary market data provider failed, serving fallback snapshot", zap.Error(err))

	return p.fallback.FetchSnapshot(ctx)
}
