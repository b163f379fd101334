package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var datePattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)

// ValidateDate enforces the platform's YYYY-MM-DD date format before any
// network call is made with it.
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return ErrInvalidDate
	}
	return nil
}

type JobKind string

const (
	JobMonitor JobKind = "monitor"
	JobOrder   JobKind = "order"
)

// JobKey addresses one scheduled job. Monitor jobs are keyed per venue+date,
// order jobs additionally per field+stock.
type JobKey struct {
	VenueID string
	Date    string
	FieldID int
	StockID int
	Kind    JobKind
}

func (k JobKey) String() string {
	if k.Kind == JobOrder {
		return k.VenueID + "/" + k.Date + "/" + strconv.Itoa(k.FieldID) + "/" + strconv.Itoa(k.StockID) + "/" + string(JobOrder)
	}
	return k.VenueID + "/" + k.Date + "/" + string(JobMonitor)
}

type OutcomeState string

const (
	OutcomePending OutcomeState = "pending"
	OutcomeSuccess OutcomeState = "success"
	OutcomeFailed  OutcomeState = "failed"
)

type Outcome struct {
	State   OutcomeState `json:"state"`
	OrderID string       `json:"order_id,omitempty"`
}

// ResultCode is the platform's booking-submission verdict.
type ResultCode int

const (
	// ResultUnknown means the call produced no verdict at all (transport or
	// decode failure); the attempt is retryable.
	ResultUnknown ResultCode = -2
	// ResultNotAuthed means the booking sub-application rejected the session
	// cookie; a re-hop is required before retrying.
	ResultNotAuthed ResultCode = -1
	// ResultRejected covers slot already taken, outside the booking window,
	// and other platform-side refusals.
	ResultRejected ResultCode = 0
	ResultSuccess  ResultCode = 1
	// ResultPuzzleRejected means the slider track was not accepted.
	ResultPuzzleRejected ResultCode = 100
)

type EventType string

const (
	EventJobScheduled     EventType = "JobScheduled"
	EventJobCancelled     EventType = "JobCancelled"
	EventBookingSucceeded EventType = "BookingSucceeded"
	EventBookingFailed    EventType = "BookingFailed"
	EventSessionRefreshed EventType = "SessionRefreshed"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// Credentials is the persisted login material. At rest Password holds the
// secretbox ciphertext, never the plaintext.
type Credentials struct {
	Username string
	Password string
	DeviceID string
}

// Venue is an immutable snapshot of one bookable facility.
type Venue struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	Memo          string `json:"memo"`
	ImageURL      string `json:"image"`
	AdvanceDays   int    `json:"advanceday"`
	MaxBookings   int    `json:"advancenum"`
	Status        int    `json:"status"`
	PaymentWindow string `json:"expirydate"`
}

// Slot is one court+date+time unit. The platform nests date, time label and
// price inside a "stock" object; Slot flattens it.
type Slot struct {
	FieldID   int    `json:"id"`
	Name      string `json:"name"`
	CourtName string `json:"sname"`
	Status    int    `json:"status"`
	StockID   int    `json:"stockid"`
	Date      string `json:"s_date"`
	TimeLabel string `json:"time_no"`
	Price     int    `json:"price"`
}

type Order struct {
	OrderID string `json:"orderid"`
	UserID  string `json:"userid"`
	Status  int    `json:"status"`
}

// ParseVenue builds a Venue from a raw platform payload. Image URLs arrive as
// bare filenames and are prefixed with imageBase.
func ParseVenue(raw map[string]interface{}, imageBase string) (Venue, error) {
	v := Venue{}
	var err error
	if v.ID, err = requireString(raw, "venue", "id"); err != nil {
		return Venue{}, err
	}
	if v.Name, err = requireString(raw, "venue", "name"); err != nil {
		return Venue{}, err
	}
	if v.AdvanceDays, err = requireInt(raw, "venue", "advanceday"); err != nil {
		return Venue{}, err
	}
	if v.MaxBookings, err = requireInt(raw, "venue", "advancenum"); err != nil {
		return Venue{}, err
	}
	if v.Status, err = requireInt(raw, "venue", "status"); err != nil {
		return Venue{}, err
	}
	v.Address = optionalString(raw, "address")
	v.Memo = optionalString(raw, "memo")
	v.PaymentWindow = optionalString(raw, "expirydate")
	if img := optionalString(raw, "image"); img != "" {
		v.ImageURL = imageBase + img
	}
	return v, nil
}

// ParseSlot builds a Slot from a raw platform payload, pulling the inner
// stock fields up alongside the outer ones.
func ParseSlot(raw map[string]interface{}) (Slot, error) {
	s := Slot{}
	var err error
	if s.FieldID, err = requireInt(raw, "slot", "id"); err != nil {
		return Slot{}, err
	}
	if s.CourtName, err = requireString(raw, "slot", "sname"); err != nil {
		return Slot{}, err
	}
	if s.Status, err = requireInt(raw, "slot", "status"); err != nil {
		return Slot{}, err
	}
	if s.StockID, err = requireInt(raw, "slot", "stockid"); err != nil {
		return Slot{}, err
	}
	s.Name = optionalString(raw, "name")

	stock, _ := raw["stock"].(map[string]interface{})
	if stock == nil {
		return Slot{}, &ParseError{Entity: "slot", Field: "stock", Reason: "missing"}
	}
	if s.Date, err = requireString(stock, "slot", "s_date"); err != nil {
		return Slot{}, err
	}
	if s.TimeLabel, err = requireString(stock, "slot", "time_no"); err != nil {
		return Slot{}, err
	}
	if s.Price, err = requireInt(stock, "slot", "price"); err != nil {
		return Slot{}, err
	}
	return s, nil
}

func ParseOrder(raw map[string]interface{}) (Order, error) {
	o := Order{}
	var err error
	if o.OrderID, err = requireString(raw, "order", "orderid"); err != nil {
		return Order{}, err
	}
	o.UserID = optionalString(raw, "userid")
	if n, ok := coerceInt(raw["status"]); ok {
		o.Status = n
	}
	return o, nil
}

// The platform serves numbers and strings interchangeably across endpoints,
// so every required field goes through coercion.

func requireString(raw map[string]interface{}, entity, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", &ParseError{Entity: entity, Field: field, Reason: "missing"}
	}
	s, ok := coerceString(v)
	if !ok {
		return "", &ParseError{Entity: entity, Field: field, Reason: fmt.Sprintf("cannot coerce %T to string", v)}
	}
	return s, nil
}

func requireInt(raw map[string]interface{}, entity, field string) (int, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return 0, &ParseError{Entity: entity, Field: field, Reason: "missing"}
	}
	n, ok := coerceInt(v)
	if !ok {
		return 0, &ParseError{Entity: entity, Field: field, Reason: fmt.Sprintf("cannot coerce %T to int", v)}
	}
	return n, nil
}

func optionalString(raw map[string]interface{}, field string) string {
	v, ok := raw[field]
	if !ok || v == nil {
		return ""
	}
	s, _ := coerceString(v)
	return s
}

func coerceString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

func coerceInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
