package faultline

import (
	"context"
	"sync"
	"time"
)

type contextKey int

const hubContextKey = contextKey(1)

// A layer binds one client to one scope. Hubs keep a stack of layers so
// scopes can be pushed and popped without losing the outer state.
type layer struct {
	mu     sync.RWMutex
	client *Client
	scope  *Scope
}

func (l *layer) Client() *Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client
}

func (l *layer) SetClient(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = c
}

// Hub is the main entry point for capturing telemetry: it binds a client to
// a stack of scopes and routes capture calls through the top of the stack.
type Hub struct {
	mu          sync.RWMutex
	stack       []*layer
	lastEventID EventID
}

// currentHub is the process-wide default hub used by the package-level
// functions. Server integrations derive one hub per request from it.
var currentHub = NewHub(nil, NewScope())

// CurrentHub returns the process-wide default hub.
func CurrentHub() *Hub {
	return currentHub
}

// NewHub builds a hub from a client and a scope.
func NewHub(client *Client, scope *Scope) *Hub {
	return &Hub{
		stack: []*layer{{client: client, scope: scope}},
	}
}

// LastEventID returns the id of the last event captured through this hub.
func (hub *Hub) LastEventID() EventID {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.lastEventID
}

func (hub *Hub) stackTop() *layer {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if len(hub.stack) == 0 {
		return nil
	}
	return hub.stack[len(hub.stack)-1]
}

// Clone returns a hub with the same client and a clone of the top scope,
// for concurrent units of work that must not share scope mutations.
func (hub *Hub) Clone() *Hub {
	top := hub.stackTop()
	if top == nil {
		return NewHub(nil, NewScope())
	}
	return NewHub(top.Client(), top.scope.Clone())
}

// Scope returns the top scope.
func (hub *Hub) Scope() *Scope {
	top := hub.stackTop()
	if top == nil {
		return nil
	}
	return top.scope
}

// Client returns the bound client.
func (hub *Hub) Client() *Client {
	top := hub.stackTop()
	if top == nil {
		return nil
	}
	return top.Client()
}

// PushScope pushes a clone of the current scope and returns it.
func (hub *Hub) PushScope() *Scope {
	top := hub.stackTop()

	var scope *Scope
	var client *Client
	if top != nil {
		scope = top.scope.Clone()
		client = top.Client()
	} else {
		scope = NewScope()
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.stack = append(hub.stack, &layer{client: client, scope: scope})
	return scope
}

// PopScope drops the top scope. The bottom layer is never popped.
func (hub *Hub) PopScope() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.stack) > 1 {
		hub.stack = hub.stack[:len(hub.stack)-1]
	}
}

// BindClient binds a client to the current layer.
func (hub *Hub) BindClient(client *Client) {
	top := hub.stackTop()
	if top != nil {
		top.SetClient(client)
	}
}

// WithScope runs f inside a pushed scope that is popped afterwards.
func (hub *Hub) WithScope(f func(scope *Scope)) {
	scope := hub.PushScope()
	defer hub.PopScope()
	f(scope)
}

// ConfigureScope runs f against the current scope.
func (hub *Hub) ConfigureScope(f func(scope *Scope)) {
	if scope := hub.Scope(); scope != nil {
		f(scope)
	}
}

// CaptureEvent captures an event through the bound client.
func (hub *Hub) CaptureEvent(event *Event) *EventID {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return nil
	}
	id := client.CaptureEvent(event, nil, scope)
	if id != nil && event.Type != transactionType {
		hub.mu.Lock()
		hub.lastEventID = *id
		hub.mu.Unlock()
	}
	return id
}

// CaptureMessage captures a message event.
func (hub *Hub) CaptureMessage(message string) *EventID {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return nil
	}
	id := client.CaptureMessage(message, nil, scope)
	if id != nil {
		hub.mu.Lock()
		hub.lastEventID = *id
		hub.mu.Unlock()
	}
	return id
}

// CaptureException captures an error. It also bumps the error count on the
// scope's active session.
func (hub *Hub) CaptureException(err error) *EventID {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return nil
	}
	id := client.CaptureException(err, &EventHint{OriginalException: err}, scope)
	if id != nil {
		hub.mu.Lock()
		hub.lastEventID = *id
		if session := scope.Session(); session != nil {
			session.Errors++
		}
		hub.mu.Unlock()
	}
	return id
}

// CaptureCheckIn captures a monitor heartbeat, stamping release and
// environment from client options.
func (hub *Hub) CaptureCheckIn(checkIn *CheckIn, monitorConfig *MonitorConfig) *EventID {
	client := hub.Client()
	if client == nil {
		return nil
	}
	if monitorConfig != nil {
		checkIn.MonitorConfig = monitorConfig
	}
	if checkIn.Release == "" {
		checkIn.Release = client.options.Release
	}
	if checkIn.Environment == "" {
		checkIn.Environment = client.options.Environment
	}
	return client.CaptureCheckIn(checkIn)
}

// CaptureUserFeedback sends user feedback through the bound client.
func (hub *Hub) CaptureUserFeedback(feedback *UserFeedback) {
	if client := hub.Client(); client != nil {
		client.CaptureUserFeedback(feedback)
	}
}

// AddBreadcrumb records a breadcrumb on the current scope, after the
// client's BeforeBreadcrumb hook.
func (hub *Hub) AddBreadcrumb(breadcrumb *Breadcrumb, hint *BreadcrumbHint) {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return
	}
	options := client.Options()
	if options.MaxBreadcrumbs < 0 {
		return
	}
	if options.BeforeBreadcrumb != nil {
		h := hint
		if h == nil {
			h = &BreadcrumbHint{}
		}
		if breadcrumb = options.BeforeBreadcrumb(breadcrumb, h); breadcrumb == nil {
			return
		}
	}
	limit := options.MaxBreadcrumbs
	if limit == 0 {
		limit = defaultMaxBreadcrumbs
	}
	scope.AddBreadcrumb(breadcrumb, limit)
}

// StartSession begins a new session on the current scope and reports its
// initial update.
func (hub *Hub) StartSession(distinctID string) {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return
	}
	session := NewSession(distinctID, SessionAttributes{
		Release:     client.options.Release,
		Environment: client.options.Environment,
	})
	scope.SetSession(session)
	client.CaptureSession(session)
}

// EndSession closes the scope's session with the given terminal status and
// reports the final update.
func (hub *Hub) EndSession(status SessionStatus) {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return
	}
	session := scope.Session()
	if session == nil {
		return
	}
	final := session.NextUpdate()
	if !status.isTerminal() {
		status = SessionStatusExited
	}
	final.Status = status
	scope.SetSession(nil)
	client.CaptureSession(final)
}

// FinishTransaction assembles the transaction event from a finished root
// span and captures it. A re-homing consistency failure drops the
// transaction and accounts it as an internal discard.
func (hub *Hub) FinishTransaction(span *Span) *EventID {
	client := hub.Client()
	if client == nil {
		return nil
	}
	if !span.IsFinished() {
		span.Finish()
	}
	event, err := span.ToEvent()
	if err != nil {
		client.reportInternalDiscard(true)
		return nil
	}
	return hub.CaptureEvent(event)
}

// Recover captures a panic value as a fatal event.
func (hub *Hub) Recover(recovered interface{}) *EventID {
	return hub.RecoverWithContext(context.Background(), recovered)
}

// RecoverWithContext captures a panic value as a fatal event, keeping ctx
// in the hint for processors.
func (hub *Hub) RecoverWithContext(ctx context.Context, recovered interface{}) *EventID {
	client, scope := hub.Client(), hub.Scope()
	if client == nil || scope == nil {
		return nil
	}

	var event *Event
	switch v := recovered.(type) {
	case error:
		event = client.EventFromException(v, LevelFatal)
	case string:
		event = client.EventFromMessage(v, LevelFatal)
	default:
		event = client.EventFromMessage(formatRecovered(v), LevelFatal)
	}
	hint := &EventHint{RecoveredException: recovered, Context: ctx}
	id := client.CaptureEvent(event, hint, scope)
	if id != nil {
		hub.mu.Lock()
		hub.lastEventID = *id
		hub.mu.Unlock()
	}
	return id
}

// Flush waits for the bound client's queue to drain.
func (hub *Hub) Flush(timeout time.Duration) bool {
	client := hub.Client()
	if client == nil {
		return false
	}
	return client.Flush(timeout)
}

// FlushWithContext is Flush honoring context cancellation.
func (hub *Hub) FlushWithContext(ctx context.Context) bool {
	client := hub.Client()
	if client == nil {
		return false
	}
	return client.FlushWithContext(ctx)
}

// HasHubOnContext reports whether a hub is stored on the context.
func HasHubOnContext(ctx context.Context) bool {
	_, ok := ctx.Value(hubContextKey).(*Hub)
	return ok
}

// GetHubFromContext returns the hub stored on the context, or nil.
func GetHubFromContext(ctx context.Context) *Hub {
	if hub, ok := ctx.Value(hubContextKey).(*Hub); ok {
		return hub
	}
	return nil
}

// hubFromContext returns the context hub or the process-wide default.
func hubFromContext(ctx context.Context) *Hub {
	if hub, ok := ctx.Value(hubContextKey).(*Hub); ok {
		return hub
	}
	return currentHub
}

// SetHubOnContext stores the hub on the context.
func SetHubOnContext(ctx context.Context, hub *Hub) context.Context {
	return context.WithValue(ctx, hubContextKey, hub)
}
