package domain

import "time"

// Clock is the server-computed timing snapshot of a session.
type Clock struct {
	Elapsed   int  `json:"timeElapsed"`
	Remaining int  `json:"timeRemaining"`
	Expired   bool `json:"isExpired"`
}

// ComputeStatus derives elapsed and remaining seconds from the fixed start time.
// It has no side effects; callers decide what to persist.
func ComputeStatus(startedAt time.Time, limitSeconds int, now time.Time) Clock {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if limitSeconds < 0 {
		limitSeconds = 0
	}
	if elapsed > limitSeconds {
		elapsed = limitSeconds
	}
	remaining := limitSeconds - elapsed
	return Clock{
		Elapsed:   elapsed,
		Remaining: remaining,
		Expired:   remaining == 0,
	}
}

// Touch recomputes the session clock at now and applies it: elapsed never decreases, and a
// live session whose deadline has passed becomes expired. Terminal sessions keep their frozen
// clock. It reports whether the session changed.
func (s *Session) Touch(limitSeconds int, now time.Time) (Clock, bool) {
	if !s.Status.Live() {
		return frozenClock(s.TimeElapsed, limitSeconds), false
	}

	clock := ComputeStatus(s.StartedAt, limitSeconds, now)
	if clock.Elapsed < s.TimeElapsed {
		clock = frozenClock(s.TimeElapsed, limitSeconds)
	}

	changed := clock.Elapsed != s.TimeElapsed
	s.TimeElapsed = clock.Elapsed
	if clock.Expired {
		s.Status = StatusExpired
		changed = true
	}
	return clock, changed
}

func frozenClock(elapsed, limitSeconds int) Clock {
	remaining := limitSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Clock{Elapsed: elapsed, Remaining: remaining, Expired: remaining == 0}
}
