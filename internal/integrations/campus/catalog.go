package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/captcha"
	"courtbot/internal/domain"
)

// Venues fetches the full venue list in one page. The platform closes the
// catalog outside business hours; callers treat an error as "platform closed"
// rather than fatal.
func (c *Client) Venues(ctx context.Context) ([]domain.Venue, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("rows", "100")
	q.Set("merccode", c.ep.MercCode)
	q.Set("remark", "defaultProList")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ep.VenueListURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue list: %w", err)
	}
	defer resp.Body.Close()
	var raw []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &domain.ProtocolError{Op: "venue list", Reason: err.Error()}
	}
	venues := make([]domain.Venue, 0, len(raw))
	for _, entry := range raw {
		v, err := domain.ParseVenue(entry, c.ep.ImageBaseURL)
		if err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, nil
}

// Slots fetches the bookable units for one venue and date. The date is
// validated before any network call; a missing payload means no slots, not an
// error.
func (c *Client) Slots(ctx context.Context, venueID, date string) ([]domain.Slot, error) {
	return c.slotQuery(ctx, c.ep.SlotListURL, "slot list", venueID, date, false)
}

// LockedSlots fetches the units the platform has withheld from booking for
// the date. Entries there don't always carry the full stock object, so
// unparseable ones are skipped.
func (c *Client) LockedSlots(ctx context.Context, venueID, date string) ([]domain.Slot, error) {
	return c.slotQuery(ctx, c.ep.LockedListURL, "locked slot list", venueID, date, true)
}

func (c *Client) slotQuery(ctx context.Context, target, op, venueID, date string, lenient bool) ([]domain.Slot, error) {
	if err := domain.ValidateDate(date); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("s_date", date)
	q.Set("serviceid", venueID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	var out struct {
		Object []map[string]interface{} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.ProtocolError{Op: op, Reason: err.Error()}
	}
	slots := make([]domain.Slot, 0, len(out.Object))
	for _, entry := range out.Object {
		s, err := domain.ParseSlot(entry)
		if err != nil {
			if lenient {
				continue
			}
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// unpaidMessage is the platform's "reservation held but not paid" verdict,
// treated as booking success: the hold exists and can be paid on site.
const unpaidMessage = "未支付"

// Book submits one reservation: fetch and solve a fresh slider puzzle, build
// the signed payment token around the puzzle id, and post the reservation
// with the drag track embedded.
func (c *Client) Book(ctx context.Context, venueID string, fieldID, stockID int) (*domain.Order, domain.ResultCode, error) {
	puzzleID, solution, sliderHeight, err := c.solvePuzzle(ctx)
	if err != nil {
		// A failed puzzle fetch or solve is indistinguishable from a
		// rejected one for retry purposes.
		log.Printf("campus: puzzle solve failed: %v", err)
		return nil, domain.ResultPuzzleRejected, nil
	}

	start := time.Now().UTC()
	last := solution.Track[len(solution.Track)-1]
	end := start.Add(time.Duration(last.T) * time.Millisecond)

	payToken := "synjones" + puzzleID + "synjones" + c.ep.PayMarker
	param, err := json.Marshal(map[string]interface{}{
		"stockdetail": map[string]string{strconv.Itoa(stockID): strconv.Itoa(fieldID)},
		"venueReason": "",
		"fileUrl":     "",
		"address":     venueID,
	})
	if err != nil {
		return nil, domain.ResultUnknown, err
	}
	yzm, err := json.Marshal(map[string]interface{}{
		"bgImageWidth":      captcha.RefWindowWidth,
		"bgImageHeight":     0,
		"sliderImageWidth":  0,
		"sliderImageHeight": sliderHeight,
		"startSlidingTime":  isoMillis(start),
		"endSlidingTime":    isoMillis(end),
		"trackList":         solution.Track,
	})
	if err != nil {
		return nil, domain.ResultUnknown, err
	}

	form := url.Values{}
	form.Set("param", string(param))
	form.Set("yzm", string(yzm)+payToken)
	form.Set("json", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ep.BookURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.ResultUnknown, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.ResultUnknown, fmt.Errorf("book: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Result  interface{}            `json:"result"`
		Message string                 `json:"message"`
		Object  map[string]interface{} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.ResultUnknown, &domain.ProtocolError{Op: "book", Reason: err.Error()}
	}

	switch resultString(out.Result) {
	case "1":
		order := parseOrderObject(out.Object)
		log.Printf("campus: booked venue %s field %d stock %d [%s]", venueID, fieldID, stockID, out.Message)
		return order, domain.ResultSuccess, nil
	case "100":
		return nil, domain.ResultPuzzleRejected, nil
	case "0":
		if out.Message == unpaidMessage {
			return nil, domain.ResultSuccess, nil
		}
		return nil, domain.ResultRejected, nil
	case "":
		// No result field at all: the sub-application dropped the session.
		return nil, domain.ResultNotAuthed, nil
	default:
		return nil, domain.ResultRejected, nil
	}
}

func (c *Client) solvePuzzle(ctx context.Context) (id string, sol captcha.Solution, sliderHeight int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ep.CaptchaURL, nil)
	if err != nil {
		return "", captcha.Solution{}, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", captcha.Solution{}, 0, fmt.Errorf("captcha fetch: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		ID      interface{}     `json:"id"`
		Captcha captcha.Payload `json:"captcha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", captcha.Solution{}, 0, &domain.ProtocolError{Op: "captcha fetch", Reason: err.Error()}
	}
	id = resultString(out.ID)
	if id == "" {
		return "", captcha.Solution{}, 0, &domain.ProtocolError{Op: "captcha fetch", Reason: "missing id"}
	}
	puzzle, err := captcha.Decode(out.Captcha)
	if err != nil {
		return "", captcha.Solution{}, 0, err
	}
	sol, err = puzzle.Solve()
	if err != nil {
		return "", captcha.Solution{}, 0, err
	}
	return id, sol, out.Captcha.SliderImageHeight, nil
}

func parseOrderObject(object map[string]interface{}) *domain.Order {
	if object == nil {
		return nil
	}
	raw, _ := object["order"].(map[string]interface{})
	if raw == nil {
		return nil
	}
	order, err := domain.ParseOrder(raw)
	if err != nil {
		log.Printf("campus: order payload unparseable: %v", err)
		return nil
	}
	return &order
}

// resultString coerces the platform's result field, which arrives as either
// a string or a number depending on the verdict.
func resultString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}

// isoMillis matches the slider widget's timestamp format: ISO-8601 with
// millisecond precision and an explicit numeric offset.
func isoMillis(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000-07:00")
}
