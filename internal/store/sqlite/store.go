package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"courtbot/internal/domain"
)

// Store keeps credentials, the outcome ledger and the audit trail in a local
// sqlite file. This is the default backend: the engine is a single-process
// desktop-class bot and should not require a database server.
type Store struct {
	db *sql.DB
}

const schema = `
create table if not exists credentials (
	id integer primary key check (id = 1),
	username text not null,
	password text not null,
	device_id text not null,
	updated_at timestamp not null
);
create table if not exists outcomes (
	job_key text primary key,
	state text not null,
	order_id text not null default '',
	updated_at timestamp not null
);
create table if not exists events (
	id text primary key,
	event_type text not null,
	payload text not null,
	created_at timestamp not null
);
`

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveCredentials(c domain.Credentials) error {
	_, err := s.db.Exec(
		`insert into credentials(id, username, password, device_id, updated_at)
		 values (1, ?, ?, ?, ?)
		 on conflict (id) do update set
		   username = excluded.username,
		   password = excluded.password,
		   device_id = excluded.device_id,
		   updated_at = excluded.updated_at`,
		c.Username, c.Password, c.DeviceID, time.Now().UTC(),
	)
	return err
}

func (s *Store) LoadCredentials() (domain.Credentials, bool) {
	var c domain.Credentials
	err := s.db.QueryRow(`select username, password, device_id from credentials where id = 1`).
		Scan(&c.Username, &c.Password, &c.DeviceID)
	if err != nil {
		return domain.Credentials{}, false
	}
	return c, true
}

func (s *Store) ClearCredentials() error {
	_, err := s.db.Exec(`delete from credentials where id = 1`)
	return err
}

func (s *Store) RecordOutcome(key string, o domain.Outcome) {
	_, err := s.db.Exec(
		`insert into outcomes(job_key, state, order_id, updated_at)
		 values (?, ?, ?, ?)
		 on conflict (job_key) do update set
		   state = excluded.state,
		   order_id = excluded.order_id,
		   updated_at = excluded.updated_at`,
		key, string(o.State), o.OrderID, time.Now().UTC(),
	)
	if err != nil {
		log.Printf("sqlite: record outcome %s: %v", key, err)
	}
}

func (s *Store) DeleteOutcome(key string) {
	if _, err := s.db.Exec(`delete from outcomes where job_key = ?`, key); err != nil {
		log.Printf("sqlite: delete outcome %s: %v", key, err)
	}
}

func (s *Store) Outcomes() map[string]domain.Outcome {
	rows, err := s.db.Query(`select job_key, state, order_id from outcomes`)
	if err != nil {
		log.Printf("sqlite: list outcomes: %v", err)
		return map[string]domain.Outcome{}
	}
	defer rows.Close()
	out := make(map[string]domain.Outcome)
	for rows.Next() {
		var key, state, orderID string
		if err := rows.Scan(&key, &state, &orderID); err != nil {
			continue
		}
		out[key] = domain.Outcome{State: domain.OutcomeState(state), OrderID: orderID}
	}
	return out
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	if _, err := s.db.Exec(
		`insert into events(id, event_type, payload, created_at) values (?, ?, ?, ?)`,
		event.ID, string(event.Type), string(raw), event.CreatedAt,
	); err != nil {
		log.Printf("sqlite: append event: %v", err)
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, event_type, payload, created_at from events order by created_at desc limit ?`, limit)
	if err != nil {
		log.Printf("sqlite: list events: %v", err)
		return []domain.Event{}
	}
	defer rows.Close()
	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var payload string
		if err := rows.Scan(&e.ID, (*string)(&e.Type), &payload, &e.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		events = append(events, e)
	}
	return events
}

func (s *Store) Close() error { return s.db.Close() }
