package store

import (
	"context"
	"time"

	"courtbot/internal/domain"
)

// Publisher forwards audit events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type published struct {
	Store
	pub     Publisher
	timeout time.Duration
}

// WithPublisher decorates a Store so every appended event is also pushed to
// pub. Delivery runs off the caller's goroutine and failures are dropped;
// the ledger in the wrapped store stays authoritative.
func WithPublisher(s Store, pub Publisher, timeout time.Duration) Store {
	if pub == nil {
		return s
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &published{Store: s, pub: pub, timeout: timeout}
}

func (p *published) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := p.Store.AppendEvent(eventType, payload)
	go func(evt domain.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		_ = p.pub.Publish(ctx, evt)
	}(event)
	return event
}
