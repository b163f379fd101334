package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"courtbot/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	creds    *domain.Credentials
	outcomes map[string]domain.Outcome
	events   []domain.Event
}

func NewStore() *Store {
	return &Store{
		outcomes: make(map[string]domain.Outcome),
		events:   make([]domain.Event, 0, 256),
	}
}

func (s *Store) SaveCredentials(c domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &c
	return nil
}

func (s *Store) LoadCredentials() (domain.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return domain.Credentials{}, false
	}
	return *s.creds, true
}

func (s *Store) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

func (s *Store) RecordOutcome(key string, o domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[key] = o
}

func (s *Store) DeleteOutcome(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outcomes, key)
}

func (s *Store) Outcomes() map[string]domain.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Outcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}

func (s *Store) Close() error { return nil }
