package faultline

import (
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// UserFeedback is a free-form comment a user attached to a previously
// captured event.
type UserFeedback struct {
	EventID   EventID
	Name      string
	Email     string
	Comments  string
	Timestamp time.Time
}

// NewUserFeedback builds feedback referencing the event it is about.
func NewUserFeedback(eventID EventID, name, email, comments string) *UserFeedback {
	return &UserFeedback{
		EventID:   eventID,
		Name:      name,
		Email:     email,
		Comments:  comments,
		Timestamp: time.Now().UTC(),
	}
}

func (f *UserFeedback) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("event_id", f.EventID.String())
	w.String("name", f.Name)
	w.String("email", f.Email)
	w.String("comments", f.Comments)
	w.Time("timestamp", f.Timestamp)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (f *UserFeedback) MarshalJSON() ([]byte, error) {
	return serialize(f.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *UserFeedback) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed, err := userFeedbackFromNode(n)
	if err != nil {
		return err
	}
	*f = *parsed
	return nil
}

// UserFeedbackFromJSON parses serialized feedback.
func UserFeedbackFromJSON(data []byte) (*UserFeedback, error) {
	n, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	return userFeedbackFromNode(n)
}

func userFeedbackFromNode(n wire.Node) (*UserFeedback, error) {
	f := &UserFeedback{}
	raw, err := n.RequiredStr("event_id")
	if err != nil {
		return nil, err
	}
	if f.EventID, err = ParseEventID(raw); err != nil {
		return nil, &ParseError{Field: "event_id", Reason: err.Error()}
	}
	f.Name, _ = n.Get("name").Str()
	f.Email, _ = n.Get("email").Str()
	f.Comments, _ = n.Get("comments").Str()
	f.Timestamp, _ = n.Get("timestamp").Time()
	return f, nil
}

// NewFeedbackEvent wraps user feedback in an event carrying a feedback
// context, the shape newer collectors ingest as a feedback envelope item.
func NewFeedbackEvent(feedback *FeedbackContext) *Event {
	event := NewEvent()
	event.Type = feedbackType
	if event.Contexts == nil {
		event.Contexts = make(Contexts)
	}
	event.Contexts[ContextKeyFeedback] = feedback
	return event
}

const feedbackType = "feedback"
