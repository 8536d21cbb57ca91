package middleware

import "time"

// SetClock replaces the clock used to pick rate limit windows.
func (rl *RateLimit) SetClock(now func() time.Time) {
	rl.now = now
}
