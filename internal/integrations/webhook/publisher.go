package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courtbot/internal/domain"
)

// Publisher POSTs audit events to an external webhook so booking outcomes
// can feed dashboards or alerting. Delivery is best-effort with bounded
// exponential backoff.
type Publisher struct {
	url        string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	httpClient *http.Client
}

func NewPublisher(url string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Publisher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	if retryMax < retryBase {
		retryMax = retryBase
	}
	return &Publisher{
		url:        url,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if p.url == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	delay := p.retryBase
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.retryMax {
				delay = p.retryMax
			}
		}
		lastErr = p.post(ctx, event, body)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (p *Publisher) post(ctx context.Context, event domain.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", string(event.Type))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}
