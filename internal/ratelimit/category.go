// Package ratelimit tracks the per-category throttling deadlines a
// collector communicates through response headers. Client reports and
// queue accounting key off the same categories.
package ratelimit

import "strings"

// Category classifies envelope items for quota accounting.
type Category string

const (
	CategoryAll         Category = ""
	CategoryError       Category = "error"
	CategoryTransaction Category = "transaction"
	CategorySession     Category = "session"
	CategoryCheckIn     Category = "monitor"
	CategoryAttachment  Category = "attachment"
	CategoryFeedback    Category = "feedback"
	CategoryInternal    Category = "internal"
)

// knownCategories is the set of currently known categories. Other categories
// are ignored.
var knownCategories = map[Category]struct{}{
	CategoryAll:         {},
	CategoryError:       {},
	CategoryTransaction: {},
	CategorySession:     {},
	CategoryCheckIn:     {},
	CategoryAttachment:  {},
	CategoryFeedback:    {},
	CategoryInternal:    {},
}

// IsKnown reports whether the category is known to this SDK version.
func (c Category) IsKnown() bool {
	_, ok := knownCategories[c]
	return ok
}

// String returns the category formatted like the Go constant name, for use
// in log and error messages.
func (c Category) String() string {
	switch c {
	case CategoryAll:
		return "CategoryAll"
	default:
		var b strings.Builder
		b.WriteString("Category")
		for _, word := range strings.Fields(string(c)) {
			b.WriteString(strings.Title(word)) //nolint: staticcheck
		}
		return b.String()
	}
}
