package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const yieldFetchTimeout = 30 * time.Second

// yieldRecord is one session's curve as served by the yields API.
type yieldRecord struct {
	Date string  `json:"date"`
	Y2   float64 `json:"y2"`
	Y5   float64 `json:"y5"`
	Y10  float64 `json:"y10"`
	Y30  float64 `json:"y30"`
}

type yieldResponse struct {
	Data []yieldRecord `json:"data"`
}

// YieldAPIProvider fetches treasury yields from a JSON API serving sessions
// newest first. The two most recent sessions give the current curve and the
// baseline for same-day changes.
type YieldAPIProvider struct {
	client *resty.Client
	apiKey string
}

func NewYieldAPIProvider(baseURL, apiKey string) (*YieldAPIProvider, error) {
	if baseURL == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "yields api base url is required")
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(yieldFetchTimeout)

	return &YieldAPIProvider{
		client: client,
		apiKey: apiKey,
	}, nil
}

func (p *YieldAPIProvider) FetchYieldCurve(ctx context.Context) (types.YieldCurve, types.YieldCurve, error) {
	req := p.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "2")
	if p.apiKey != "" {
		req.SetQueryParam("token", p.apiKey)
	}

	resp, err := req.Get("/treasury/yields")
	if err != nil {
		return types.YieldCurve{}, types.YieldCurve{}, errors.Wrap(errors.ErrCodeYieldFetchFailed,
			"failed to fetch treasury yields", err)
	}

	if resp.StatusCode() != 200 {
		return types.YieldCurve{}, types.YieldCurve{}, errors.Newf(errors.ErrCodeYieldFetchFailed,
			"yields api returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var parsed yieldResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return types.YieldCurve{}, types.YieldCurve{}, errors.Wrap(errors.ErrCodeYieldFetchFailed,
			"failed to parse yields response", err)
	}

	if len(parsed.Data) == 0 {
		return types.YieldCurve{}, types.YieldCurve{}, errors.New(errors.ErrCodeYieldFetchFailed,
			"yields api returned no sessions")
	}

	current := curveFromRecord(parsed.Data[0])

	// With a single session available, changes read as zero.
	previous := current
	if len(parsed.Data) >= 2 {
		previous = curveFromRecord(parsed.Data[1])
	}

	return current, previous, nil
}

func curveFromRecord(r yieldRecord) types.YieldCurve {
	return types.YieldCurve{
		Y2:  r.Y2,
		Y5:  r.Y5,
		Y10: r.Y10,
		Y30: r.Y30,
	}
}
