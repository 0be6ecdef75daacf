package marketdata

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// PolygonAggsIterator abstracts the aggregate iterator for testing.
type PolygonAggsIterator interface {
	Next() bool
	Item() models.Agg
	Err() error
}

// PolygonAPIClient abstracts the Polygon REST client for testing.
type PolygonAPIClient interface {
	ListAggs(ctx context.Context, params *models.ListAggsParams, opts ...models.RequestOption) PolygonAggsIterator
}

type realPolygonClient struct {
	client *polygon.Client
}

func (r *realPolygonClient) ListAggs(ctx context.Context, params *models.ListAggsParams, opts ...models.RequestOption) PolygonAggsIterator {
	return r.client.ListAggs(ctx, params, opts...)
}

// PolygonQuoteProvider derives quotes from Polygon daily aggregates. The
// latest bar gives price and volume; the prior bar gives the session change.
type PolygonQuoteProvider struct {
	client PolygonAPIClient
}

func NewPolygonQuoteProvider(apiKey string) (*PolygonQuoteProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is required")
	}

	return &PolygonQuoteProvider{
		client: &realPolygonClient{client: polygon.New(apiKey)},
	}, nil
}

// newPolygonQuoteProviderWithClient is used for testing with mock clients.
func newPolygonQuoteProviderWithClient(client PolygonAPIClient) *PolygonQuoteProvider {
	return &PolygonQuoteProvider{client: client}
}

func (p *PolygonQuoteProvider) FetchQuote(ctx context.Context, ticker string) (types.TickerQuote, error) {
	now := time.Now()

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(now.AddDate(0, 0, -7)),
		To:         models.Millis(now),
	}.WithLimit(10)

	iter := p.client.ListAggs(ctx, params)

	var bars []models.Agg
	for iter.Next() {
		bars = append(bars, iter.Item())
	}

	if iter.Err() != nil {
		return types.TickerQuote{}, errors.Wrapf(errors.ErrCodeQuoteFetchFailed, iter.Err(),
			"error iterating polygon aggregates for %s", ticker)
	}

	if len(bars) == 0 {
		return types.TickerQuote{}, errors.Newf(errors.ErrCodeQuoteFetchFailed,
			"no aggregates returned for %s", ticker)
	}

	last := bars[len(bars)-1]
	quote := types.TickerQuote{
		Price:  last.Close,
		Volume: last.Volume,
	}

	if len(bars) >= 2 {
		prev := bars[len(bars)-2]
		quote.Change = last.Close - prev.Close
		if prev.Close != 0 {
			quote.ChangePercent = quote.Change / prev.Close * 100
		}
	}

	return quote, nil
}
