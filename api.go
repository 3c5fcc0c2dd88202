package faultline

import (
	"context"
	"time"
)

// Init binds a new client built from options to the current hub. Telemetry
// captured through the package-level functions flows through that client.
func Init(options ClientOptions) error {
	hub := CurrentHub()
	client, err := NewClient(options)
	if err != nil {
		return err
	}
	hub.BindClient(client)
	return nil
}

// AddBreadcrumb records a breadcrumb on the current hub's scope.
func AddBreadcrumb(breadcrumb *Breadcrumb) {
	hub := CurrentHub()
	hub.AddBreadcrumb(breadcrumb, nil)
}

// CaptureMessage captures a message event on the current hub.
func CaptureMessage(message string) *EventID {
	hub := CurrentHub()
	return hub.CaptureMessage(message)
}

// CaptureException captures an error on the current hub.
func CaptureException(err error) *EventID {
	hub := CurrentHub()
	return hub.CaptureException(err)
}

// CaptureEvent captures a fully built event on the current hub.
func CaptureEvent(event *Event) *EventID {
	hub := CurrentHub()
	return hub.CaptureEvent(event)
}

// CaptureCheckIn captures a monitor heartbeat on the current hub.
func CaptureCheckIn(checkIn *CheckIn, monitorConfig *MonitorConfig) *EventID {
	hub := CurrentHub()
	return hub.CaptureCheckIn(checkIn, monitorConfig)
}

// CaptureUserFeedback sends user feedback on the current hub.
func CaptureUserFeedback(feedback *UserFeedback) {
	hub := CurrentHub()
	hub.CaptureUserFeedback(feedback)
}

// Recover captures a panic on the current hub. Call inside a deferred
// function together with the builtin recover.
func Recover() *EventID {
	if recovered := recover(); recovered != nil {
		hub := CurrentHub()
		return hub.Recover(recovered)
	}
	return nil
}

// RecoverWithContext captures a panic on the hub stored on ctx, falling
// back to the current hub.
func RecoverWithContext(ctx context.Context) *EventID {
	if recovered := recover(); recovered != nil {
		hub := hubFromContext(ctx)
		return hub.RecoverWithContext(ctx, recovered)
	}
	return nil
}

// WithScope runs f inside a temporary scope on the current hub.
func WithScope(f func(scope *Scope)) {
	hub := CurrentHub()
	hub.WithScope(f)
}

// ConfigureScope runs f against the current hub's scope.
func ConfigureScope(f func(scope *Scope)) {
	hub := CurrentHub()
	hub.ConfigureScope(f)
}

// PushScope pushes a scope on the current hub.
func PushScope() {
	hub := CurrentHub()
	hub.PushScope()
}

// PopScope pops a scope from the current hub.
func PopScope() {
	hub := CurrentHub()
	hub.PopScope()
}

// StartSession begins a session on the current hub.
func StartSession(distinctID string) {
	hub := CurrentHub()
	hub.StartSession(distinctID)
}

// EndSession closes the current hub's session with the given status.
func EndSession(status SessionStatus) {
	hub := CurrentHub()
	hub.EndSession(status)
}

// FinishTransaction finishes the root span and captures the resulting
// transaction event on the current hub.
func FinishTransaction(span *Span) *EventID {
	hub := CurrentHub()
	return hub.FinishTransaction(span)
}

// Flush drains the current hub's transport queue, waiting at most timeout.
// Call before program termination to avoid losing buffered envelopes.
func Flush(timeout time.Duration) bool {
	hub := CurrentHub()
	return hub.Flush(timeout)
}

// FlushWithContext is Flush honoring context cancellation.
func FlushWithContext(ctx context.Context) bool {
	hub := CurrentHub()
	return hub.FlushWithContext(ctx)
}

// LastEventID returns the id of the last event captured on the current hub.
func LastEventID() EventID {
	hub := CurrentHub()
	return hub.LastEventID()
}
