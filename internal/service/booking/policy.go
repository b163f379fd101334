package booking

import "courtbot/internal/domain"

// RetryPolicy governs the shared retry budget of a job body. Every
// non-success verdict costs one attempt; an expired session additionally
// triggers a re-hop before the next attempt rather than burning the budget
// faster than other codes.
type RetryPolicy struct {
	MaxAttempts    int
	RehopOnExpired bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, RehopOnExpired: true}
}

type Decision struct {
	Done  bool // terminal for this slot: booked
	Rehop bool // refresh the session before retrying
}

// Classify maps a booking verdict to what the retry loop should do next.
func (p RetryPolicy) Classify(code domain.ResultCode) Decision {
	switch code {
	case domain.ResultSuccess:
		return Decision{Done: true}
	case domain.ResultNotAuthed:
		return Decision{Rehop: p.RehopOnExpired}
	default:
		// Puzzle rejections, platform refusals and unknown verdicts are all
		// plain retries.
		return Decision{}
	}
}
