package faultline

import (
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// SessionStatus is the lifecycle state reported by a session update.
type SessionStatus string

const (
	SessionStatusOK       SessionStatus = "ok"
	SessionStatusExited   SessionStatus = "exited"
	SessionStatusCrashed  SessionStatus = "crashed"
	SessionStatusAbnormal SessionStatus = "abnormal"
)

func (s SessionStatus) isTerminal() bool {
	return s == SessionStatusExited || s == SessionStatusCrashed || s == SessionStatusAbnormal
}

// SessionAttributes are the immutable attributes a session was started with.
type SessionAttributes struct {
	Release     string
	Environment string
	IPAddress   string
	UserAgent   string
}

// A SessionUpdate is one append-only update record for a logical user
// session. The first update of a session carries Init=true; later updates
// increment Seq. Updates are never mutated after serialization.
type SessionUpdate struct {
	Sid       EventID
	Did       string
	Seq       int64
	Init      bool
	Started   time.Time
	Timestamp time.Time
	Status    SessionStatus
	Errors    int64
	Attrs     SessionAttributes
}

// NewSession starts a new session and returns its initial update.
func NewSession(did string, attrs SessionAttributes) *SessionUpdate {
	now := time.Now().UTC()
	return &SessionUpdate{
		Sid:       NewEventID(),
		Did:       did,
		Init:      true,
		Started:   now,
		Timestamp: now,
		Status:    SessionStatusOK,
		Attrs:     attrs,
	}
}

// NextUpdate derives the follow-up update record: same session identity,
// incremented sequence number, Init cleared, fresh timestamp.
func (s *SessionUpdate) NextUpdate() *SessionUpdate {
	next := *s
	next.Seq = s.Seq + 1
	next.Init = false
	next.Timestamp = time.Now().UTC()
	return &next
}

// Duration is the session length so far. It is always derived from the two
// timestamps and never stored on the record.
func (s *SessionUpdate) Duration() time.Duration {
	if s.Started.IsZero() || s.Timestamp.IsZero() {
		return 0
	}
	return s.Timestamp.Sub(s.Started)
}

// WriteTo serializes the update. The duration field is emitted only on
// terminal updates and is computed, not read from state.
func (s *SessionUpdate) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("sid", s.Sid.String())
	w.String("did", s.Did)
	if s.Seq != 0 {
		w.IntAlways("seq", s.Seq)
	}
	if s.Init {
		w.Bool("init", true)
	}
	w.TimeAlways("started", s.Started)
	w.TimeAlways("timestamp", s.Timestamp)
	w.StringAlways("status", string(s.Status))
	w.IntAlways("errors", s.Errors)
	if s.Status.isTerminal() {
		w.FloatAlways("duration", s.Duration().Seconds())
	}
	w.Key("attrs")
	w.BeginObject()
	w.String("release", s.Attrs.Release)
	w.String("environment", s.Attrs.Environment)
	w.String("ip_address", s.Attrs.IPAddress)
	w.String("user_agent", s.Attrs.UserAgent)
	w.EndObject()
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (s *SessionUpdate) MarshalJSON() ([]byte, error) {
	return serialize(s.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionUpdate) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed, err := sessionUpdateFromNode(n)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// SessionUpdateFromJSON parses a serialized session update. A stored
// duration field, if present, is ignored: the value is always re-derived.
func SessionUpdateFromJSON(data []byte) (*SessionUpdate, error) {
	n, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	return sessionUpdateFromNode(n)
}

func sessionUpdateFromNode(n wire.Node) (*SessionUpdate, error) {
	s := &SessionUpdate{}
	raw, err := n.RequiredStr("sid")
	if err != nil {
		return nil, err
	}
	if s.Sid, err = ParseEventID(raw); err != nil {
		return nil, &ParseError{Field: "sid", Reason: err.Error()}
	}
	s.Did, _ = n.Get("did").Str()
	s.Seq, _ = n.Get("seq").Int64()
	s.Init, _ = n.Get("init").Bool()
	if s.Started, err = n.RequiredTime("started"); err != nil {
		return nil, err
	}
	if s.Timestamp, err = n.RequiredTime("timestamp"); err != nil {
		return nil, err
	}
	if v, ok := n.Get("status").Str(); ok {
		s.Status = SessionStatus(v)
	}
	s.Errors, _ = n.Get("errors").Int64()
	attrs := n.Get("attrs")
	s.Attrs.Release, _ = attrs.Get("release").Str()
	s.Attrs.Environment, _ = attrs.Get("environment").Str()
	s.Attrs.IPAddress, _ = attrs.Get("ip_address").Str()
	s.Attrs.UserAgent, _ = attrs.Get("user_agent").Str()
	return s, nil
}
