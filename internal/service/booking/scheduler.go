package booking

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"courtbot/internal/domain"
	"courtbot/internal/service/schedule"
	"courtbot/internal/store"
)

// Client is the platform surface the scheduler drives. The concrete
// implementation lives in integrations/campus; tests substitute a fake.
type Client interface {
	Hop(ctx context.Context) error
	Venues(ctx context.Context) ([]domain.Venue, error)
	Slots(ctx context.Context, venueID, date string) ([]domain.Slot, error)
	LockedSlots(ctx context.Context, venueID, date string) ([]domain.Slot, error)
	Book(ctx context.Context, venueID string, fieldID, stockID int) (*domain.Order, domain.ResultCode, error)
}

// Notifier pushes human-readable booking outcomes somewhere an operator
// will see them.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Config struct {
	// MonitorInterval is the recheck period of a monitor job; each wait is
	// jittered by up to ±MonitorJitter so the polling signature is not
	// perfectly periodic.
	MonitorInterval time.Duration
	MonitorJitter   time.Duration
	Retry           RetryPolicy
	// OpenTime is the platform's daily booking-open instant (HH:MM:SS); the
	// default fire time of an order job lands there.
	OpenTime string
	Location *time.Location
}

func (c *Config) fillDefaults() {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.MonitorJitter < 0 {
		c.MonitorJitter = 0
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.OpenTime == "" {
		c.OpenTime = "08:40:01"
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

type job struct {
	key    domain.JobKey
	cancel context.CancelFunc
}

// Scheduler owns the background job set: interval monitor jobs and one-shot
// order jobs, each on its own goroutine so one key never overlaps itself.
// A monitor that secures its full count removes itself from the registry;
// finished order jobs stay listed with a terminal status until cancelled.
// Cancel is the only path that also deletes the outcome ledger entry.
type Scheduler struct {
	client   Client
	store    store.Store
	notifier Notifier
	cfg      Config

	mu       sync.Mutex
	venues   []domain.Venue
	jobs     map[string]*job
	keyOrder []string
	outcomes map[string]domain.Outcome
	closed   bool

	wg sync.WaitGroup
}

func New(client Client, st store.Store, notifier Notifier, cfg Config) *Scheduler {
	cfg.fillDefaults()
	return &Scheduler{
		client:   client,
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		jobs:     make(map[string]*job),
		outcomes: st.Outcomes(),
	}
}

// RefreshVenues snapshots the venue catalog. Errors are non-fatal: the
// platform closes the catalog overnight and the previous snapshot stays
// usable for scheduling.
func (s *Scheduler) RefreshVenues(ctx context.Context) error {
	venues, err := s.client.Venues(ctx)
	if err != nil {
		log.Printf("booking: venue refresh failed (platform may be closed): %v", err)
		return err
	}
	s.mu.Lock()
	s.venues = venues
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Venues() []domain.Venue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Venue, len(s.venues))
	copy(out, s.venues)
	return out
}

func (s *Scheduler) VenueByID(id string) (domain.Venue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.venues {
		if v.ID == id {
			return v, true
		}
	}
	return domain.Venue{}, false
}

// Schedule fetches the slot list for one venue+date and normalizes it into
// the front-end grid. Slots held by someone mid-payment come back from a
// separate lock query and are folded in as occupied.
func (s *Scheduler) Schedule(ctx context.Context, venueID, date string) (schedule.Grid, error) {
	if _, ok := s.VenueByID(venueID); !ok {
		return schedule.Grid{}, domain.ErrNoSuchVenue
	}
	slots, err := s.client.Slots(ctx, venueID, date)
	if err != nil {
		return schedule.Grid{}, err
	}
	locked, err := s.client.LockedSlots(ctx, venueID, date)
	if err != nil {
		log.Printf("booking: lock query for %s/%s failed: %v", venueID, date, err)
	}
	for _, slot := range locked {
		slot.Status = 2
		slots = append(slots, slot)
	}
	return schedule.BuildGrid(slots), nil
}

// Monitor starts an interval job watching venue+date until it has secured
// count slots. The count is capped at the venue's concurrent-booking limit.
func (s *Scheduler) Monitor(venueID, date string, count int) (domain.JobKey, error) {
	if err := domain.ValidateDate(date); err != nil {
		return domain.JobKey{}, err
	}
	if count < 1 {
		return domain.JobKey{}, fmt.Errorf("count must be >= 1")
	}
	venue, ok := s.VenueByID(venueID)
	if !ok {
		return domain.JobKey{}, domain.ErrNoSuchVenue
	}
	if count > venue.MaxBookings {
		log.Printf("booking: requested %d slots, venue %s allows %d", count, venueID, venue.MaxBookings)
		count = venue.MaxBookings
	}

	key := domain.JobKey{VenueID: venueID, Date: date, Kind: domain.JobMonitor}
	ctx, j, err := s.addJob(key)
	if err != nil {
		return domain.JobKey{}, err
	}
	s.emit(domain.EventJobScheduled, map[string]interface{}{
		"job_key": key.String(), "kind": string(domain.JobMonitor), "count": count,
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runMonitor(ctx, key, j, venue, count)
	}()
	return key, nil
}

// Order schedules a one-shot booking attempt for a specific stock. A zero
// fireAt defaults to the venue's advance-window boundary: the booking date
// minus its advance days, at the platform's booking-open time.
func (s *Scheduler) Order(venueID, date string, fieldID, stockID int, fireAt time.Time) (domain.JobKey, time.Time, error) {
	if err := domain.ValidateDate(date); err != nil {
		return domain.JobKey{}, time.Time{}, err
	}
	venue, ok := s.VenueByID(venueID)
	if !ok {
		return domain.JobKey{}, time.Time{}, domain.ErrNoSuchVenue
	}
	if fireAt.IsZero() {
		var err error
		if fireAt, err = s.defaultFireTime(venue, date); err != nil {
			return domain.JobKey{}, time.Time{}, err
		}
	}

	key := domain.JobKey{VenueID: venueID, Date: date, FieldID: fieldID, StockID: stockID, Kind: domain.JobOrder}
	ctx, _, err := s.addJob(key)
	if err != nil {
		return domain.JobKey{}, time.Time{}, err
	}
	s.emit(domain.EventJobScheduled, map[string]interface{}{
		"job_key": key.String(), "kind": string(domain.JobOrder), "fire_at": fireAt.Format(time.RFC3339),
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOrder(ctx, key, fireAt)
	}()
	return key, fireAt, nil
}

func (s *Scheduler) defaultFireTime(venue domain.Venue, date string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.cfg.Location)
	if err != nil {
		return time.Time{}, domain.ErrInvalidDate
	}
	open, err := time.Parse("15:04:05", s.cfg.OpenTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad open time %q: %w", s.cfg.OpenTime, err)
	}
	day = day.AddDate(0, 0, -venue.AdvanceDays)
	return time.Date(day.Year(), day.Month(), day.Day(),
		open.Hour(), open.Minute(), open.Second(), 0, s.cfg.Location), nil
}

// addJob registers key, replacing (and stopping) any previous job under the
// same key.
func (s *Scheduler) addJob(key domain.JobKey) (context.Context, *job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, fmt.Errorf("scheduler is shut down")
	}
	ks := key.String()
	if old, ok := s.jobs[ks]; ok {
		old.cancel()
	} else {
		s.keyOrder = append(s.keyOrder, ks)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{key: key, cancel: cancel}
	s.jobs[ks] = j
	return ctx, j, nil
}

func (s *Scheduler) runMonitor(ctx context.Context, key domain.JobKey, j *job, venue domain.Venue, remaining int) {
	for {
		remaining = s.monitorPass(ctx, key, venue, remaining)
		if remaining <= 0 {
			// A satisfied monitor leaves the registry; its ledger entry
			// stays behind.
			log.Printf("booking: monitor %s complete", key)
			s.removeJob(key, j)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.jitteredInterval()):
		}
	}
}

// monitorPass books every currently open slot until the job has what it
// wants or the list is exhausted.
func (s *Scheduler) monitorPass(ctx context.Context, key domain.JobKey, venue domain.Venue, remaining int) int {
	slots, err := s.client.Slots(ctx, venue.ID, key.Date)
	if err != nil {
		log.Printf("booking: monitor %s slot query failed: %v", key, err)
		return remaining
	}
	for _, slot := range slots {
		if ctx.Err() != nil || remaining <= 0 {
			break
		}
		if schedule.NormalizeStatus(slot.Status) != schedule.StatusAvailable {
			continue
		}
		order, ok := s.attempt(ctx, venue.ID, slot.FieldID, slot.StockID)
		if !ok {
			continue
		}
		remaining--
		s.recordSuccess(key, order, slot.FieldID, slot.StockID)
	}
	return remaining
}

func (s *Scheduler) runOrder(ctx context.Context, key domain.JobKey, fireAt time.Time) {
	timer := time.NewTimer(time.Until(fireAt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	// The session is necessarily stale for a job scheduled days ahead;
	// refresh before the first attempt.
	if err := s.client.Hop(ctx); err != nil {
		log.Printf("booking: order %s pre-hop failed: %v", key, err)
	}
	order, ok := s.attempt(ctx, key.VenueID, key.FieldID, key.StockID)
	if ok {
		s.recordSuccess(key, order, key.FieldID, key.StockID)
		return
	}
	s.recordFailure(key)
}

// attempt runs one slot's booking attempts under the shared retry budget.
func (s *Scheduler) attempt(ctx context.Context, venueID string, fieldID, stockID int) (*domain.Order, bool) {
	budget := s.cfg.Retry.MaxAttempts
	for attempt := 1; budget > 0 && ctx.Err() == nil; attempt++ {
		order, code, err := s.client.Book(ctx, venueID, fieldID, stockID)
		if err != nil {
			log.Printf("booking: attempt %d for %s/%d/%d: %v", attempt, venueID, fieldID, stockID, err)
			budget--
			continue
		}
		decision := s.cfg.Retry.Classify(code)
		if decision.Done {
			return order, true
		}
		budget--
		if decision.Rehop {
			if err := s.client.Hop(ctx); err != nil {
				log.Printf("booking: re-hop failed: %v", err)
			} else {
				s.emit(domain.EventSessionRefreshed, map[string]interface{}{"venue_id": venueID})
			}
		}
	}
	return nil, false
}

func (s *Scheduler) recordSuccess(key domain.JobKey, order *domain.Order, fieldID, stockID int) {
	outcome := domain.Outcome{State: domain.OutcomeSuccess}
	if order != nil {
		outcome.OrderID = order.OrderID
	}
	s.setOutcome(key, outcome)
	s.emit(domain.EventBookingSucceeded, map[string]interface{}{
		"job_key": key.String(), "order_id": outcome.OrderID,
		"field_id": fieldID, "stock_id": stockID,
	})
	s.notify(fmt.Sprintf("Booked venue %s %s (field %d, stock %d)", key.VenueID, key.Date, fieldID, stockID))
}

func (s *Scheduler) recordFailure(key domain.JobKey) {
	s.setOutcome(key, domain.Outcome{State: domain.OutcomeFailed})
	s.emit(domain.EventBookingFailed, map[string]interface{}{"job_key": key.String()})
	s.notify(fmt.Sprintf("Booking failed for venue %s %s after all retries", key.VenueID, key.Date))
}

// removeJob drops key from the registry if it is still bound to j; a job
// rescheduled under the same key is left alone.
func (s *Scheduler) removeJob(key domain.JobKey, j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := key.String()
	if s.jobs[ks] != j {
		return
	}
	delete(s.jobs, ks)
	for i, k := range s.keyOrder {
		if k == ks {
			s.keyOrder = append(s.keyOrder[:i], s.keyOrder[i+1:]...)
			break
		}
	}
}

func (s *Scheduler) setOutcome(key domain.JobKey, o domain.Outcome) {
	s.mu.Lock()
	s.outcomes[key.String()] = o
	s.mu.Unlock()
	s.store.RecordOutcome(key.String(), o)
}

type JobInfo struct {
	ID        int    `json:"id"`
	Key       string `json:"key"`
	VenueID   string `json:"venue_id"`
	VenueName string `json:"venue_name"`
	Date      string `json:"date"`
	Mode      string `json:"mode"`   // listen | book
	Status    string `json:"status"` // listening | failed | success
}

// Jobs lists every known job in scheduling order with its derived status:
// no outcome yet means the job is still listening.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.keyOrder))
	for i, ks := range s.keyOrder {
		j := s.jobs[ks]
		info := JobInfo{ID: i, Key: ks, VenueID: j.key.VenueID, Date: j.key.Date}
		if j.key.Kind == domain.JobOrder {
			info.Mode = "book"
		} else {
			info.Mode = "listen"
		}
		for _, v := range s.venues {
			if v.ID == j.key.VenueID {
				info.VenueName = v.Name
				break
			}
		}
		switch outcome, ok := s.outcomes[ks]; {
		case !ok:
			info.Status = "listening"
		case outcome.State == domain.OutcomeFailed:
			info.Status = "failed"
		default:
			info.Status = "success"
		}
		out = append(out, info)
	}
	return out
}

// Cancel removes the job at the given list position together with its
// outcome. A body already in flight finishes its current attempt.
func (s *Scheduler) Cancel(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.keyOrder) {
		s.mu.Unlock()
		return domain.ErrNoSuchJob
	}
	ks := s.keyOrder[index]
	j := s.jobs[ks]
	s.keyOrder = append(s.keyOrder[:index], s.keyOrder[index+1:]...)
	delete(s.jobs, ks)
	delete(s.outcomes, ks)
	s.mu.Unlock()

	j.cancel()
	s.store.DeleteOutcome(ks)
	s.emit(domain.EventJobCancelled, map[string]interface{}{"job_key": ks})
	return nil
}

// Close cancels every job and waits for in-flight bodies to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		j.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) jitteredInterval() time.Duration {
	d := s.cfg.MonitorInterval
	if s.cfg.MonitorJitter > 0 {
		d += time.Duration(rand.Int63n(int64(2*s.cfg.MonitorJitter))) - s.cfg.MonitorJitter
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (s *Scheduler) emit(eventType domain.EventType, payload map[string]interface{}) {
	s.store.AppendEvent(eventType, payload)
}

func (s *Scheduler) notify(text string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, text); err != nil {
		log.Printf("booking: notify failed: %v", err)
	}
}

// OutcomeFor reports the ledger entry for a key, if any.
func (s *Scheduler) OutcomeFor(key domain.JobKey) (domain.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[key.String()]
	return o, ok
}
