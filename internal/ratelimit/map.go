package ratelimit

import "time"

// Map tracks the deadline after which sending is allowed again, per
// category. The CategoryAll entry throttles everything.
type Map map[Category]Deadline

// IsRateLimited reports whether the category may not be sent now.
func (m Map) IsRateLimited(c Category) bool {
	return m.isRateLimited(c, time.Now())
}

func (m Map) isRateLimited(c Category, now time.Time) bool {
	return m.Deadline(c).After(Deadline(now))
}

// Deadline returns the deadline of the given category, accounting for the
// all-categories limit.
func (m Map) Deadline(c Category) Deadline {
	categoryDeadline := m[c]
	allDeadline := m[CategoryAll]
	if categoryDeadline.After(allDeadline) {
		return categoryDeadline
	}
	return allDeadline
}

// Merge merges the other map into m, keeping the longest deadlines.
func (m Map) Merge(other Map) {
	for c, d := range other {
		if d.After(m[c]) {
			m[c] = d
		}
	}
}
