package campaign

import "time"

// AddSeconds returns the new remaining-seconds value after adding delta,
// enforcing maxSeconds when set (maxSeconds <= 0 means uncapped).
func AddSeconds(remaining, delta, maxSeconds int64) int64 {
	next := remaining + delta
	if maxSeconds > 0 && next > maxSeconds {
		next = maxSeconds
	}
	if next < 0 {
		next = 0
	}
	return next
}

// DisplayRemaining computes the live countdown a client would show at `now`,
// given the stored remaining count and the timer's started/paused timestamps.
// The server never runs this on a ticking loop; it is exposed so callers that
// need a server-computed preview (tests, admin tooling) don't have to
// reimplement the client's clock math.
func DisplayRemaining(remaining int64, startedAt, pausedAt *time.Time, now time.Time) int64 {
	if startedAt == nil {
		return remaining
	}
	if pausedAt != nil {
		return remaining
	}
	elapsed := int64(now.Sub(*startedAt).Seconds())
	left := remaining - elapsed
	if left < 0 {
		left = 0
	}
	return left
}
