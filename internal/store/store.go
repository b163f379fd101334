package store

import "courtbot/internal/domain"

// Store is the durable state contract: saved login material, the booking
// outcome ledger, and the attempt audit trail. The scheduler's in-memory job
// table is authoritative at runtime; the store lets outcomes and credentials
// survive a restart.
type Store interface {
	SaveCredentials(c domain.Credentials) error
	LoadCredentials() (domain.Credentials, bool)
	ClearCredentials() error

	RecordOutcome(key string, o domain.Outcome)
	DeleteOutcome(key string)
	Outcomes() map[string]domain.Outcome

	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event

	Close() error
}
