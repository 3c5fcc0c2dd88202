// Package faultlinelogrus provides a Logrus hook that forwards log entries
// as events.
package faultlinelogrus

import (
	"context"
	"errors"
	"net/http"
	"time"

	faultline "github.com/faultline-dev/faultline-go"
	"github.com/sirupsen/logrus"
)

const loggerName = "logrus"

// Log field keys carrying structured metadata. When present with the
// expected type the value is lifted out of Extra into the event proper.
const (
	// FieldRequest holds an *http.Request.
	FieldRequest = "request"
	// FieldUser holds a faultline.User or *faultline.User.
	FieldUser = "user"
	// FieldTransaction holds a transaction name as a string.
	FieldTransaction = "transaction"
	// FieldFingerprint holds a []string dictating event grouping.
	FieldFingerprint = "fingerprint"
)

var levelMap = map[logrus.Level]faultline.Level{
	logrus.TraceLevel: faultline.LevelDebug,
	logrus.DebugLevel: faultline.LevelDebug,
	logrus.InfoLevel:  faultline.LevelInfo,
	logrus.WarnLevel:  faultline.LevelWarning,
	logrus.ErrorLevel: faultline.LevelError,
	logrus.FatalLevel: faultline.LevelFatal,
	logrus.PanicLevel: faultline.LevelFatal,
}

// A FallbackFunc handles entries the hook failed to deliver.
type FallbackFunc func(*logrus.Entry) error

// Hook converts logrus entries to events and captures them on a hub.
type Hook struct {
	hubProvider func() *faultline.Hub
	fallback    FallbackFunc
	levels      []logrus.Level
}

var _ logrus.Hook = (*Hook)(nil)

// New builds a hook with its own client, configured from options. Only
// entries at the given levels are forwarded.
func New(levels []logrus.Level, options faultline.ClientOptions) (*Hook, error) {
	client, err := faultline.NewClient(options)
	if err != nil {
		return nil, err
	}
	return NewFromClient(levels, client), nil
}

// NewFromClient builds a hook on an existing client.
func NewFromClient(levels []logrus.Level, client *faultline.Client) *Hook {
	hub := faultline.NewHub(client, faultline.NewScope())
	return &Hook{
		levels:      levels,
		hubProvider: func() *faultline.Hub { return hub },
	}
}

// SetHubProvider routes entries through hubs obtained from provider, for
// per-request hub isolation.
func (h *Hook) SetHubProvider(provider func() *faultline.Hub) {
	h.hubProvider = provider
}

// SetFallback sets the handler for entries that could not be delivered.
func (h *Hook) SetFallback(fb FallbackFunc) {
	h.fallback = fb
}

// AddTags sets tags on the hook's scope.
func (h *Hook) AddTags(tags map[string]string) {
	h.hubProvider().Scope().SetTags(tags)
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	hub := h.hubProvider()
	event := h.entryToEvent(entry)
	if id := hub.CaptureEvent(event); id == nil {
		if h.fallback != nil {
			return h.fallback(entry)
		}
		return errors.New("event not delivered")
	}
	return nil
}

// Flush waits for the underlying transport queue to drain.
func (h *Hook) Flush(timeout time.Duration) bool {
	return h.hubProvider().Flush(timeout)
}

// FlushWithContext is Flush honoring context cancellation.
func (h *Hook) FlushWithContext(ctx context.Context) bool {
	return h.hubProvider().FlushWithContext(ctx)
}

func (h *Hook) entryToEvent(l *logrus.Entry) *faultline.Event {
	extra := make(map[string]interface{}, len(l.Data))
	for k, v := range l.Data {
		extra[k] = v
	}
	event := &faultline.Event{
		Level:     levelMap[l.Level],
		Message:   l.Message,
		Extra:     extra,
		Timestamp: l.Time,
		Logger:    loggerName,
	}

	switch request := extra[FieldRequest].(type) {
	case *http.Request:
		delete(extra, FieldRequest)
		event.Request = faultline.NewRequest(request)
	case *faultline.Request:
		delete(extra, FieldRequest)
		event.Request = request
	}

	if err, ok := extra[logrus.ErrorKey].(error); ok {
		delete(extra, logrus.ErrorKey)
		event.SetException(err, faultline.MaxErrorDepth)
	}

	switch user := extra[FieldUser].(type) {
	case faultline.User:
		delete(extra, FieldUser)
		event.User = user
	case *faultline.User:
		delete(extra, FieldUser)
		event.User = *user
	}

	if transaction, ok := extra[FieldTransaction].(string); ok {
		delete(extra, FieldTransaction)
		event.Transaction = transaction
	}

	if fingerprint, ok := extra[FieldFingerprint].([]string); ok {
		delete(extra, FieldFingerprint)
		event.Fingerprint = fingerprint
	}

	return event
}
