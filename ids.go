package faultline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// InvalidIDError reports a string that could not be parsed as an identifier.
type InvalidIDError struct {
	Kind  string
	Value string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
}

// EventID identifies an event. The canonical form is 32 lowercase hex
// characters with no separators. The zero value is the empty sentinel,
// distinguishable from any generated id.
type EventID [16]byte

// NewEventID returns a random event id.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// ParseEventID parses the canonical 32-hex-character form.
func ParseEventID(s string) (EventID, error) {
	var id EventID
	if len(s) != 32 {
		return id, &InvalidIDError{Kind: "event id", Value: s}
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, &InvalidIDError{Kind: "event id", Value: s}
	}
	return id, nil
}

// IsZero reports whether id is the empty sentinel.
func (id EventID) IsZero() bool { return id == EventID{} }

func (id EventID) String() string { return hex.EncodeToString(id[:]) }

func (id EventID) MarshalText() ([]byte, error) {
	b := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(b, id[:])
	return b, nil
}

func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TraceID identifies a trace. Canonical form is 32 lowercase hex characters.
type TraceID [16]byte

// NewTraceID returns a random trace id.
func NewTraceID() TraceID {
	var id TraceID
	mustRandRead(id[:])
	return id
}

// ParseTraceID parses the canonical 32-hex-character form.
func ParseTraceID(s string) (TraceID, error) {
	var id TraceID
	if len(s) != 32 {
		return id, &InvalidIDError{Kind: "trace id", Value: s}
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, &InvalidIDError{Kind: "trace id", Value: s}
	}
	return id, nil
}

// IsZero reports whether id is the empty sentinel.
func (id TraceID) IsZero() bool { return id == TraceID{} }

func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

func (id TraceID) MarshalText() ([]byte, error) {
	b := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(b, id[:])
	return b, nil
}

func (id *TraceID) UnmarshalText(text []byte) error {
	parsed, err := ParseTraceID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SpanID identifies a span within a trace. Canonical form is 16 lowercase
// hex characters.
type SpanID [8]byte

// NewSpanID returns a random span id.
func NewSpanID() SpanID {
	var id SpanID
	mustRandRead(id[:])
	return id
}

// ParseSpanID parses the canonical 16-hex-character form.
func ParseSpanID(s string) (SpanID, error) {
	var id SpanID
	if len(s) != 16 {
		return id, &InvalidIDError{Kind: "span id", Value: s}
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, &InvalidIDError{Kind: "span id", Value: s}
	}
	return id, nil
}

// IsZero reports whether id is the empty sentinel.
func (id SpanID) IsZero() bool { return id == SpanID{} }

func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

func (id SpanID) MarshalText() ([]byte, error) {
	b := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(b, id[:])
	return b, nil
}

func (id *SpanID) UnmarshalText(text []byte) error {
	parsed, err := ParseSpanID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// mustRandRead fills b from the system entropy source. Identifier quality
// only needs collision resistance, but crypto/rand is the simplest source
// that never needs seeding.
func mustRandRead(b []byte) {
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(fmt.Sprintf("faultline: failed to read random bytes: %v", err))
	}
}
