package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const webhookTimeout = 10 * time.Second

// WebhookNotifier posts alerts as JSON to a configured HTTP endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(url string) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "webhook url is required")
	}

	client := resty.New()
	client.SetTimeout(webhookTimeout)

	return &WebhookNotifier{
		client: client,
		url:    url,
	}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert types.Alert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(n.url)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNotifyFailed, "failed to deliver webhook alert", err)
	}

	if resp.StatusCode() >= 300 {
		return errors.Newf(errors.ErrCodeNotifyFailed,
			"webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}
