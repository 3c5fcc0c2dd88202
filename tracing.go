package faultline

import (
	"fmt"
	"sync"
	"time"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// A Span is a timed sub-operation of a transaction. Spans form a tree via
// ParentSpanID, a weak reference: the relation carries no ownership, and a
// span list stays flat on the wire.
type Span struct {
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID
	Op           string
	Description  string
	Status       SpanStatus
	Tags         map[string]string
	StartTime    time.Time
	EndTime      time.Time
	Data         map[string]interface{}

	// Live-tree state, unset on spans that were parsed off the wire.
	name     string
	parent   *Span
	recorder *spanRecorder
	filtered bool

	mu sync.Mutex
}

// SpanOption configures a span at start time.
type SpanOption func(s *Span)

// WithOpName sets the span operation.
func WithOpName(op string) SpanOption {
	return func(s *Span) { s.Op = op }
}

// WithDescription sets the span description.
func WithDescription(desc string) SpanOption {
	return func(s *Span) { s.Description = desc }
}

// WithSpanStartTime overrides the span start time, for instrumenting
// operations that began before the span object existed.
func WithSpanStartTime(t time.Time) SpanOption {
	return func(s *Span) { s.StartTime = t }
}

// ContinueFromTrace links the transaction to an incoming trace instead of
// starting a fresh one.
func ContinueFromTrace(traceID TraceID, parentSpanID SpanID) SpanOption {
	return func(s *Span) {
		s.TraceID = traceID
		s.ParentSpanID = parentSpanID
	}
}

// StartTransaction starts the root span of a new trace. Finish the returned
// span and convert it with ToEvent to obtain the transaction event.
func StartTransaction(name string, options ...SpanOption) *Span {
	s := &Span{
		TraceID:   NewTraceID(),
		SpanID:    NewSpanID(),
		StartTime: time.Now(),
		name:      name,
		recorder:  &spanRecorder{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// StartChild starts a child span under s. The child shares the trace id and
// is recorded on the transaction's span recorder.
func (s *Span) StartChild(op string, options ...SpanOption) *Span {
	child := &Span{
		TraceID:      s.TraceID,
		SpanID:       NewSpanID(),
		ParentSpanID: s.SpanID,
		Op:           op,
		StartTime:    time.Now(),
		parent:       s,
		recorder:     s.recorder,
	}
	for _, o := range options {
		o(child)
	}
	if child.recorder != nil {
		child.recorder.record(child)
	}
	return child
}

// IsTransaction reports whether s is the root span of its trace.
func (s *Span) IsTransaction() bool { return s.parent == nil }

// Name returns the transaction name for root spans, "" otherwise.
func (s *Span) Name() string { return s.name }

// IsFinished reports whether Finish has been called.
func (s *Span) IsFinished() bool { return !s.EndTime.IsZero() }

// Finish sets the span end time. Finishing twice is a no-op: the first end
// time wins.
func (s *Span) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
}

// MarkFiltered excludes the span from the assembled transaction. Children of
// a filtered span are re-homed to the nearest surviving ancestor.
func (s *Span) MarkFiltered() {
	s.mu.Lock()
	s.filtered = true
	s.mu.Unlock()
}

// SetTag sets a tag on the span.
func (s *Span) SetTag(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[name] = value
}

// SetData attaches arbitrary data to the span.
func (s *Span) SetData(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data == nil {
		s.Data = make(map[string]interface{})
	}
	s.Data[name] = value
}

// Redact permanently replaces URL-like substrings in the span's description
// and string data values with a placeholder.
func (s *Span) Redact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Description = urlPattern.ReplaceAllString(s.Description, redactedPlaceholder)
	for k, v := range s.Data {
		if str, ok := v.(string); ok {
			s.Data[k] = urlPattern.ReplaceAllString(str, redactedPlaceholder)
		}
	}
}

// TraceContext returns the trace context describing s, for attaching to
// events that happen within the trace.
func (s *Span) TraceContext() *TraceContext {
	return &TraceContext{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Op:           s.Op,
		Description:  s.Description,
		Status:       s.Status,
	}
}

// ToEvent assembles the transaction event from the root span and its
// recorded children. Filtered spans are dropped and their children re-homed.
// Only finished child spans are included. Calling ToEvent on a non-root span
// is an error.
func (s *Span) ToEvent() (*Event, error) {
	if !s.IsTransaction() {
		return nil, fmt.Errorf("faultline: ToEvent called on non-root span %s", s.SpanID)
	}
	var recorded []*Span
	if s.recorder != nil {
		recorded = s.recorder.children()
	}
	spans, err := rehomeSpans(recorded)
	if err != nil {
		return nil, err
	}

	event := NewEvent()
	event.Type = transactionType
	event.Transaction = s.name
	event.StartTime = s.StartTime
	event.Timestamp = s.EndTime
	event.Tags = s.Tags
	if event.Contexts == nil {
		event.Contexts = make(Contexts)
	}
	event.Contexts[ContextKeyTrace] = s.TraceContext()
	event.Spans = spans
	return event, nil
}

// rehomeSpans drops filtered spans and re-parents their children to the
// nearest kept ancestor. A chain of filtered spans collapses transitively.
// Parent substitution is capped at the total span count per span; exceeding
// the cap means the filtered-parent relation has a cycle and the transaction
// is malformed.
func rehomeSpans(spans []*Span) ([]*Span, error) {
	kept := make([]*Span, 0, len(spans))
	filteredParent := make(map[SpanID]SpanID)
	for _, s := range spans {
		if s.filtered {
			filteredParent[s.SpanID] = s.ParentSpanID
			continue
		}
		if s.IsFinished() {
			kept = append(kept, s)
		}
	}
	if len(filteredParent) == 0 {
		return kept, nil
	}
	maxHops := len(spans)
	for _, s := range kept {
		parent := s.ParentSpanID
		hops := 0
		for {
			next, ok := filteredParent[parent]
			if !ok {
				break
			}
			hops++
			if hops > maxHops {
				return nil, &InternalConsistencyError{
					Op:     "span re-homing",
					Detail: fmt.Sprintf("filtered-parent chain of span %s exceeds %d hops", s.SpanID, maxHops),
				}
			}
			parent = next
		}
		s.ParentSpanID = parent
	}
	return kept, nil
}

// InternalConsistencyError reports a state that valid construction can never
// produce, such as a cycle in the filtered-span parent map. The affected
// transaction must be dropped, but the condition is not a panic.
type InternalConsistencyError struct {
	Op     string
	Detail string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("faultline: internal consistency violation in %s: %s", e.Op, e.Detail)
}

// spanRecorder collects the child spans of a transaction as they start.
type spanRecorder struct {
	mu    sync.Mutex
	spans []*Span
}

func (r *spanRecorder) record(s *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, s)
}

func (r *spanRecorder) children() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// WriteTo serialized fields, in order: trace_id, span_id, parent_span_id,
// op, description, status, tags, start_timestamp, timestamp, data.
func (s *Span) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("trace_id", s.TraceID.String())
	w.StringAlways("span_id", s.SpanID.String())
	if !s.ParentSpanID.IsZero() {
		w.StringAlways("parent_span_id", s.ParentSpanID.String())
	}
	w.String("op", s.Op)
	w.String("description", s.Description)
	w.String("status", s.Status.String())
	w.StringMap("tags", s.Tags)
	w.TimeAlways("start_timestamp", s.StartTime)
	w.Time("timestamp", s.EndTime)
	w.DynamicMap("data", s.Data)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (s *Span) MarshalJSON() ([]byte, error) {
	return serialize(s.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Span) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed, err := spanFromNode(n)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func spanFromNode(n wire.Node) (*Span, error) {
	s := &Span{}
	raw, err := n.RequiredStr("trace_id")
	if err != nil {
		return nil, err
	}
	if s.TraceID, err = ParseTraceID(raw); err != nil {
		return nil, &ParseError{Field: "trace_id", Reason: err.Error()}
	}
	if raw, err = n.RequiredStr("span_id"); err != nil {
		return nil, err
	}
	if s.SpanID, err = ParseSpanID(raw); err != nil {
		return nil, &ParseError{Field: "span_id", Reason: err.Error()}
	}
	if v, ok := n.Get("parent_span_id").Str(); ok {
		if s.ParentSpanID, err = ParseSpanID(v); err != nil {
			return nil, &ParseError{Field: "parent_span_id", Reason: err.Error()}
		}
	}
	s.Op, _ = n.Get("op").Str()
	s.Description, _ = n.Get("description").Str()
	if v, ok := n.Get("status").Str(); ok {
		s.Status = spanStatusFromString(v)
	}
	s.Tags = n.Get("tags").StringMap()
	s.StartTime, _ = n.Get("start_timestamp").Time()
	s.EndTime, _ = n.Get("timestamp").Time()
	s.Data = n.Get("data").DynamicMap()
	return s, nil
}

// SpanStatus is the coarse outcome of a span. The zero value is undefined
// and is omitted on the wire; a span whose status was never set is
// distinguishable from one explicitly marked unknown.
type SpanStatus uint8

const (
	SpanStatusUndefined SpanStatus = iota
	SpanStatusOK
	SpanStatusCanceled
	SpanStatusUnknown
	SpanStatusInvalidArgument
	SpanStatusDeadlineExceeded
	SpanStatusNotFound
	SpanStatusAlreadyExists
	SpanStatusPermissionDenied
	SpanStatusResourceExhausted
	SpanStatusFailedPrecondition
	SpanStatusAborted
	SpanStatusOutOfRange
	SpanStatusUnimplemented
	SpanStatusInternalError
	SpanStatusUnavailable
	SpanStatusDataLoss
	SpanStatusUnauthenticated
	maxSpanStatus
)

var spanStatusNames = [maxSpanStatus]string{
	"",
	"ok",
	"cancelled", // [sic]
	"unknown",
	"invalid_argument",
	"deadline_exceeded",
	"not_found",
	"already_exists",
	"permission_denied",
	"resource_exhausted",
	"failed_precondition",
	"aborted",
	"out_of_range",
	"unimplemented",
	"internal_error",
	"unavailable",
	"data_loss",
	"unauthenticated",
}

func (ss SpanStatus) String() string {
	if ss >= maxSpanStatus {
		return ""
	}
	return spanStatusNames[ss]
}

// MarshalJSON serializes the status to its snake_case name, or null when
// undefined.
func (ss SpanStatus) MarshalJSON() ([]byte, error) {
	s := ss.String()
	if s == "" {
		return []byte("null"), nil
	}
	return []byte(`"` + s + `"`), nil
}

// UnmarshalJSON parses a status name. Unknown names degrade to undefined
// rather than failing the event.
func (ss *SpanStatus) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	v, _ := n.Str()
	*ss = spanStatusFromString(v)
	return nil
}

func spanStatusFromString(v string) SpanStatus {
	for i, name := range spanStatusNames {
		if i != 0 && name == v {
			return SpanStatus(i)
		}
	}
	return SpanStatusUndefined
}

// SpanStatusFromHTTP maps an HTTP response code onto a span status, for
// server middleware closing request transactions.
func SpanStatusFromHTTP(code int) SpanStatus {
	switch {
	case code >= 200 && code < 400:
		return SpanStatusOK
	case code == 400:
		return SpanStatusInvalidArgument
	case code == 401:
		return SpanStatusUnauthenticated
	case code == 403:
		return SpanStatusPermissionDenied
	case code == 404:
		return SpanStatusNotFound
	case code == 409:
		return SpanStatusAlreadyExists
	case code == 429:
		return SpanStatusResourceExhausted
	case code >= 400 && code < 500:
		return SpanStatusInvalidArgument
	case code == 501:
		return SpanStatusUnimplemented
	case code == 503:
		return SpanStatusUnavailable
	case code == 504:
		return SpanStatusDeadlineExceeded
	case code >= 500 && code < 600:
		return SpanStatusInternalError
	default:
		return SpanStatusUnknown
	}
}

// A TraceContext carries the identity of the trace an event belongs to. On
// transaction events it doubles as the root span's operation and status.
type TraceContext struct {
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID
	Op           string
	Description  string
	Status       SpanStatus
}

func (c *TraceContext) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.StringAlways("type", ContextKeyTrace)
	w.StringAlways("trace_id", c.TraceID.String())
	w.StringAlways("span_id", c.SpanID.String())
	if !c.ParentSpanID.IsZero() {
		w.StringAlways("parent_span_id", c.ParentSpanID.String())
	}
	w.String("op", c.Op)
	w.String("description", c.Description)
	w.String("status", c.Status.String())
	w.EndObject()
}

func (c *TraceContext) Clone() Context {
	out := *c
	return &out
}

func (c *TraceContext) FillUnsetFrom(other Context) {
	o, ok := other.(*TraceContext)
	if !ok {
		return
	}
	if c.TraceID.IsZero() {
		c.TraceID = o.TraceID
	}
	if c.SpanID.IsZero() {
		c.SpanID = o.SpanID
	}
	if c.ParentSpanID.IsZero() {
		c.ParentSpanID = o.ParentSpanID
	}
	fillString(&c.Op, o.Op)
	fillString(&c.Description, o.Description)
	if c.Status == SpanStatusUndefined {
		c.Status = o.Status
	}
}

func traceContextFromNode(n wire.Node) Context {
	c := &TraceContext{}
	if v, ok := n.Get("trace_id").Str(); ok {
		c.TraceID, _ = ParseTraceID(v)
	}
	if v, ok := n.Get("span_id").Str(); ok {
		c.SpanID, _ = ParseSpanID(v)
	}
	if v, ok := n.Get("parent_span_id").Str(); ok {
		c.ParentSpanID, _ = ParseSpanID(v)
	}
	c.Op, _ = n.Get("op").Str()
	c.Description, _ = n.Get("description").Str()
	if v, ok := n.Get("status").Str(); ok {
		c.Status = spanStatusFromString(v)
	}
	return c
}
