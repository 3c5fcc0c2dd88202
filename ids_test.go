package faultline

import (
	"errors"
	"testing"
)

func TestParseEventID(t *testing.T) {
	id, err := ParseEventID("9c8d5a6e3f2b49b0a1c3e5d7f9081726")
	if err != nil {
		t.Fatal(err)
	}
	if got := id.String(); got != "9c8d5a6e3f2b49b0a1c3e5d7f9081726" {
		t.Errorf("String() = %q", got)
	}
	if id.IsZero() {
		t.Error("parsed id reported as zero")
	}
}

func TestParseIDErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"event id too short", func() error { _, err := ParseEventID("abc"); return err }()},
		{"event id bad chars", func() error { _, err := ParseEventID("zzzz5a6e3f2b49b0a1c3e5d7f9081726"); return err }()},
		{"trace id too long", func() error { _, err := ParseTraceID("9c8d5a6e3f2b49b0a1c3e5d7f908172600"); return err }()},
		{"span id wrong length", func() error { _, err := ParseSpanID("9c8d5a6e3f2b49b0a1c3e5d7f9081726"); return err }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var invalidErr *InvalidIDError
			if !errors.As(tt.err, &invalidErr) {
				t.Fatalf("got %v, want *InvalidIDError", tt.err)
			}
		})
	}
}

func TestIDZeroSentinels(t *testing.T) {
	if !(EventID{}).IsZero() || !(TraceID{}).IsZero() || !(SpanID{}).IsZero() {
		t.Error("zero values must report IsZero")
	}
	if NewEventID().IsZero() || NewTraceID().IsZero() || NewSpanID().IsZero() {
		t.Error("generated ids must not be the zero sentinel")
	}
}

func TestIDTextRoundTrip(t *testing.T) {
	orig := NewTraceID()
	text, err := orig.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var parsed TraceID
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if parsed != orig {
		t.Errorf("round trip changed id: %s != %s", parsed, orig)
	}
}
