package faultline

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewSession(t *testing.T) {
	session := NewSession("user-1", SessionAttributes{Release: "v1.0.0"})
	if session.Sid.IsZero() {
		t.Error("new session must carry a generated sid")
	}
	if !session.Init {
		t.Error("first update must carry Init")
	}
	if session.Seq != 0 {
		t.Errorf("Seq = %d", session.Seq)
	}
	if session.Status != SessionStatusOK {
		t.Errorf("Status = %q", session.Status)
	}
}

func TestSessionNextUpdate(t *testing.T) {
	first := NewSession("user-1", SessionAttributes{})
	second := first.NextUpdate()
	third := second.NextUpdate()

	if second.Sid != first.Sid {
		t.Error("follow-up must keep the session id")
	}
	if second.Init {
		t.Error("follow-up must clear Init")
	}
	if second.Seq != 1 || third.Seq != 2 {
		t.Errorf("Seq progression = %d, %d", second.Seq, third.Seq)
	}
}

func TestSessionDurationDerived(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &SessionUpdate{
		Sid:       NewEventID(),
		Started:   started,
		Timestamp: started.Add(90 * time.Second),
	}
	if got := session.Duration(); got != 90*time.Second {
		t.Errorf("Duration() = %v", got)
	}
}

func TestSessionSerializeTerminal(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &SessionUpdate{
		Sid:       mustEventID(t, "9c8d5a6e3f2b49b0a1c3e5d7f9081726"),
		Seq:       2,
		Started:   started,
		Timestamp: started.Add(90 * time.Second),
		Status:    SessionStatusExited,
		Errors:    1,
		Attrs:     SessionAttributes{Release: "v1.0.0", Environment: "production"},
	}
	b, err := json.Marshal(session)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"sid":"9c8d5a6e3f2b49b0a1c3e5d7f9081726","seq":2,` +
		`"started":"2024-03-01T10:00:00.000Z","timestamp":"2024-03-01T10:01:30.000Z",` +
		`"status":"exited","errors":1,"duration":90,` +
		`"attrs":{"release":"v1.0.0","environment":"production"}}`
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Errorf("session serialization mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionSerializeOngoingOmitsDuration(t *testing.T) {
	session := NewSession("user-1", SessionAttributes{})
	b, err := json.Marshal(session)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), `"duration"`) {
		t.Errorf("ongoing session must not emit duration: %s", b)
	}
	if !strings.Contains(string(b), `"init":true`) {
		t.Errorf("first update must emit init: %s", b)
	}
}

func TestSessionParseIgnoresStoredDuration(t *testing.T) {
	// The duration on the wire is always recomputed from the timestamps; a
	// contradictory stored value is discarded.
	in := `{"sid":"9c8d5a6e3f2b49b0a1c3e5d7f9081726",` +
		`"started":"2024-03-01T10:00:00.000Z","timestamp":"2024-03-01T10:01:30.000Z",` +
		`"status":"exited","errors":0,"duration":5,"attrs":{}}`
	session, err := SessionUpdateFromJSON([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if got := session.Duration(); got != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", got)
	}
}

func TestSessionParseRequiredFields(t *testing.T) {
	tests := []string{
		`{"started":"2024-03-01T10:00:00.000Z","timestamp":"2024-03-01T10:00:00.000Z"}`,
		`{"sid":"9c8d5a6e3f2b49b0a1c3e5d7f9081726","timestamp":"2024-03-01T10:00:00.000Z"}`,
		`{"sid":"9c8d5a6e3f2b49b0a1c3e5d7f9081726","started":"2024-03-01T10:00:00.000Z"}`,
	}
	for _, in := range tests {
		if _, err := SessionUpdateFromJSON([]byte(in)); err == nil {
			t.Errorf("no error for %s", in)
		}
	}
}
