package ratelimit

import "time"

// A Deadline is a time instant until which a category is throttled.
type Deadline time.Time

// After reports whether the deadline d is after u.
func (d Deadline) After(u Deadline) bool {
	return time.Time(d).After(time.Time(u))
}

func (d Deadline) String() string {
	return time.Time(d).Format(time.RFC3339)
}
