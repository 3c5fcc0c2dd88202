package wire

import "fmt"

// ParseError reports a required field that is missing or has the wrong shape
// in an incoming JSON payload. It is always surfaced to the caller; the
// caller decides whether to drop the payload.
type ParseError struct {
	// Field is the dotted path of the offending field, e.g. "exception.type".
	Field string
	// Reason describes what was wrong, e.g. "missing" or "not a string".
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: field %q %s", e.Field, e.Reason)
}

func missingField(field string) *ParseError {
	return &ParseError{Field: field, Reason: "missing"}
}

func wrongShape(field, want string) *ParseError {
	return &ParseError{Field: field, Reason: "not a " + want}
}
