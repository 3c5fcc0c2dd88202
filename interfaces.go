package faultline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/faultline-dev/faultline-go/internal/debuglog"
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// eventType is the type discriminator for transaction events.
const transactionType = "transaction"

// defaultPlatform is the platform reported for events from this SDK.
const defaultPlatform = "go"

// ParseError is the error returned when a required field is missing or has
// the wrong shape in an incoming payload.
type ParseError = wire.ParseError

// defaultWireConfig backs the stdlib json.Marshaler implementations on
// entities. Clients with registered converters thread their own config
// through WriteTo instead.
var defaultWireConfig = wire.NewConfig(debuglog.Warnf)

func serialize(writeTo func(w *wire.Writer)) ([]byte, error) {
	w := wire.NewWriter(defaultWireConfig)
	writeTo(w)
	return w.Bytes()
}

// Level marks the severity of an event or breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// levelFromNode reads a level, degrading unknown values to the empty level
// rather than failing; severity is never a required field.
func levelFromNode(n wire.Node) Level {
	s, ok := n.Str()
	if !ok {
		return ""
	}
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelFatal:
		return Level(s)
	}
	return ""
}

// SdkInfo describes the SDK that produced an event.
type SdkInfo struct {
	Name         string
	Version      string
	Integrations []string
	Packages     []SdkPackage
}

// SdkPackage describes a package shipped as part of the SDK.
type SdkPackage struct {
	Name    string
	Version string
}

func (s *SdkInfo) isEmpty() bool {
	return s.Name == "" && s.Version == "" && len(s.Integrations) == 0 && len(s.Packages) == 0
}

// WriteTo serializes the SDK info.
func (s *SdkInfo) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("name", s.Name)
	w.String("version", s.Version)
	w.StringSlice("integrations", s.Integrations)
	if s.Packages != nil {
		w.Key("packages")
		w.BeginArray()
		for _, p := range s.Packages {
			w.BeginObject()
			w.String("name", p.Name)
			w.String("version", p.Version)
			w.EndObject()
		}
		w.EndArray()
	}
	w.EndObject()
}

func sdkInfoFromNode(n wire.Node) SdkInfo {
	info := SdkInfo{}
	info.Name, _ = n.Get("name").Str()
	info.Version, _ = n.Get("version").Str()
	info.Integrations = n.Get("integrations").StringSlice()
	if pkgs, ok := n.Get("packages").Array(); ok {
		info.Packages = make([]SdkPackage, 0, len(pkgs))
		for _, p := range pkgs {
			var pkg SdkPackage
			pkg.Name, _ = p.Get("name").Str()
			pkg.Version, _ = p.Get("version").Str()
			info.Packages = append(info.Packages, pkg)
		}
	}
	return info
}

// User describes the user associated with an event.
type User struct {
	ID        string
	Email     string
	IPAddress string
	Username  string
	Name      string
	Data      map[string]string
}

// IsEmpty reports whether the user carries no information. Empty users are
// omitted from serialized events.
func (u User) IsEmpty() bool {
	return u.ID == "" && u.Email == "" && u.IPAddress == "" && u.Username == "" &&
		u.Name == "" && len(u.Data) == 0
}

// WriteTo serializes the user. A user with every field unset serializes to
// an empty object.
func (u User) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("id", u.ID)
	w.String("username", u.Username)
	w.String("email", u.Email)
	w.String("ip_address", u.IPAddress)
	w.String("name", u.Name)
	w.StringMap("data", u.Data)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (u User) MarshalJSON() ([]byte, error) {
	return serialize(u.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *User) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	*u = userFromNode(n)
	return nil
}

func userFromNode(n wire.Node) User {
	var u User
	u.ID, _ = n.Get("id").Str()
	u.Username, _ = n.Get("username").Str()
	u.Email, _ = n.Get("email").Str()
	u.IPAddress, _ = n.Get("ip_address").Str()
	u.Name, _ = n.Get("name").Str()
	u.Data = n.Get("data").StringMap()
	return u
}

// Request describes the HTTP request in flight when an event happened.
type Request struct {
	URL         string
	Method      string
	Data        string
	QueryString string
	Cookies     string
	Headers     map[string]string
	Env         map[string]string
}

// sensitiveHeaders are dropped when populating a Request from *http.Request.
var sensitiveHeaders = map[string]struct{}{
	"Authorization":       {},
	"Cookie":              {},
	"X-Forwarded-For":     {},
	"X-Real-Ip":           {},
	"Proxy-Authorization": {},
}

// NewRequest populates a Request from a net/http request. Sensitive headers
// and cookies are always stripped.
func NewRequest(r *http.Request) *Request {
	protocol := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		protocol = "https"
	}
	url := protocol + "://" + r.Host + r.URL.Path

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if _, sensitive := sensitiveHeaders[http.CanonicalHeaderKey(k)]; sensitive {
			continue
		}
		headers[k] = strings.Join(v, ",")
	}
	headers["Host"] = r.Host

	var env map[string]string
	if addr, port, found := strings.Cut(r.RemoteAddr, ":"); found {
		env = map[string]string{"REMOTE_ADDR": addr, "REMOTE_PORT": port}
	}

	return &Request{
		URL:         url,
		Method:      r.Method,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
		Env:         env,
	}
}

// WriteTo serializes the request.
func (r *Request) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("url", r.URL)
	w.String("method", r.Method)
	w.String("data", r.Data)
	w.String("query_string", r.QueryString)
	w.String("cookies", r.Cookies)
	w.StringMap("headers", r.Headers)
	w.StringMap("env", r.Env)
	w.EndObject()
}

func requestFromNode(n wire.Node) *Request {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	r := &Request{}
	r.URL, _ = n.Get("url").Str()
	r.Method, _ = n.Get("method").Str()
	r.Data, _ = n.Get("data").Str()
	r.QueryString, _ = n.Get("query_string").Str()
	r.Cookies, _ = n.Get("cookies").Str()
	r.Headers = n.Get("headers").StringMap()
	r.Env = n.Get("env").StringMap()
	return r
}

// Message carries a parameterized log message: the fully formatted text plus
// the original template and parameters, so the collector can group by
// template.
type Message struct {
	Formatted string
	Template  string
	Params    []interface{}
}

func (m *Message) isEmpty() bool {
	return m == nil || (m.Formatted == "" && m.Template == "" && len(m.Params) == 0)
}

// WriteTo serializes the message as the logentry interface.
func (m *Message) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("formatted", m.Formatted)
	w.String("message", m.Template)
	if m.Params != nil {
		w.Key("params")
		w.BeginArray()
		for _, p := range m.Params {
			w.DynamicValue(p)
		}
		w.EndArray()
	}
	w.EndObject()
}

func messageFromNode(n wire.Node) *Message {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	m := &Message{}
	m.Formatted, _ = n.Get("formatted").Str()
	m.Template, _ = n.Get("message").Str()
	if params, ok := n.Get("params").Array(); ok {
		m.Params = make([]interface{}, 0, len(params))
		for _, p := range params {
			m.Params = append(m.Params, p.Raw())
		}
	}
	return m
}

// mechanismDefaultType is the type reported when nothing more specific is
// known about how an exception was captured.
const mechanismDefaultType = "generic"

// Mechanism describes how an exception was produced and captured. The
// exception-group ids let the collector rebuild an exception tree from the
// flat exception list.
type Mechanism struct {
	Type             string
	Description      string
	HelpLink         string
	Source           string
	Handled          *bool
	Synthetic        bool
	IsExceptionGroup bool
	ExceptionID      *int64
	ParentID         *int64
	Data             map[string]interface{}
	Meta             map[string]interface{}
}

// IsEmpty reports whether every field is at its default value. An empty
// mechanism is omitted entirely from the serialized exception; including an
// all-defaults mechanism and omitting it are different payloads to the
// receiving service, so this predicate must stay exact.
func (m *Mechanism) IsEmpty() bool {
	if m == nil {
		return true
	}
	return (m.Type == "" || m.Type == mechanismDefaultType) &&
		m.Handled == nil &&
		!m.Synthetic &&
		!m.IsExceptionGroup &&
		m.ExceptionID == nil &&
		m.ParentID == nil &&
		m.Description == "" &&
		m.HelpLink == "" &&
		m.Source == "" &&
		len(m.Data) == 0 &&
		len(m.Meta) == 0
}

// WriteTo serializes the mechanism.
func (m *Mechanism) WriteTo(w *wire.Writer) {
	w.BeginObject()
	typ := m.Type
	if typ == "" {
		typ = mechanismDefaultType
	}
	w.StringAlways("type", typ)
	w.String("description", m.Description)
	w.String("help_link", m.HelpLink)
	w.String("source", m.Source)
	w.BoolPtr("handled", m.Handled)
	w.Bool("synthetic", m.Synthetic)
	w.Bool("is_exception_group", m.IsExceptionGroup)
	w.IntPtr("exception_id", m.ExceptionID)
	w.IntPtr("parent_id", m.ParentID)
	w.DynamicMap("data", m.Data)
	w.DynamicMap("meta", m.Meta)
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (m *Mechanism) MarshalJSON() ([]byte, error) {
	return serialize(m.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mechanism) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	parsed := mechanismFromNode(n)
	if parsed == nil {
		*m = Mechanism{}
		return nil
	}
	*m = *parsed
	return nil
}

func mechanismFromNode(n wire.Node) *Mechanism {
	if !n.Exists() || n.IsNull() {
		return nil
	}
	m := &Mechanism{}
	m.Type, _ = n.Get("type").Str()
	m.Description, _ = n.Get("description").Str()
	m.HelpLink, _ = n.Get("help_link").Str()
	m.Source, _ = n.Get("source").Str()
	if handled, ok := n.Get("handled").Bool(); ok {
		m.Handled = &handled
	}
	m.Synthetic, _ = n.Get("synthetic").Bool()
	m.IsExceptionGroup, _ = n.Get("is_exception_group").Bool()
	if id, ok := n.Get("exception_id").Int64(); ok {
		m.ExceptionID = &id
	}
	if id, ok := n.Get("parent_id").Int64(); ok {
		m.ParentID = &id
	}
	m.Data = n.Get("data").DynamicMap()
	m.Meta = n.Get("meta").DynamicMap()
	return m
}

// Exception is one entry of an event's exception chain, oldest cause first.
type Exception struct {
	Type       string
	Value      string
	Module     string
	ThreadID   string
	Stacktrace *Stacktrace
	Mechanism  *Mechanism
}

// WriteTo serializes the exception. An all-defaults mechanism is omitted.
func (e *Exception) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("type", e.Type)
	w.String("value", e.Value)
	w.String("module", e.Module)
	w.String("thread_id", e.ThreadID)
	if e.Stacktrace != nil {
		w.Key("stacktrace")
		e.Stacktrace.WriteTo(w)
	}
	if !e.Mechanism.IsEmpty() {
		w.Key("mechanism")
		e.Mechanism.WriteTo(w)
	}
	w.EndObject()
}

func exceptionFromNode(n wire.Node) Exception {
	var e Exception
	e.Type, _ = n.Get("type").Str()
	e.Value, _ = n.Get("value").Str()
	e.Module, _ = n.Get("module").Str()
	e.ThreadID, _ = n.Get("thread_id").Str()
	e.Stacktrace = stacktraceFromNode(n.Get("stacktrace"))
	e.Mechanism = mechanismFromNode(n.Get("mechanism"))
	return e
}

// Thread describes an OS thread or goroutine active when the event was
// captured.
type Thread struct {
	ID         string
	Name       string
	Stacktrace *Stacktrace
	Crashed    bool
	Current    bool
}

// WriteTo serializes the thread.
func (t *Thread) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.String("id", t.ID)
	w.String("name", t.Name)
	if t.Stacktrace != nil {
		w.Key("stacktrace")
		t.Stacktrace.WriteTo(w)
	}
	w.Bool("crashed", t.Crashed)
	w.Bool("current", t.Current)
	w.EndObject()
}

func threadFromNode(n wire.Node) Thread {
	var t Thread
	t.ID, _ = n.Get("id").Str()
	t.Name, _ = n.Get("name").Str()
	t.Stacktrace = stacktraceFromNode(n.Get("stacktrace"))
	t.Crashed, _ = n.Get("crashed").Bool()
	t.Current, _ = n.Get("current").Bool()
	return t
}

// EventHint carries context for BeforeSend callbacks and event processors.
type EventHint struct {
	Data               interface{}
	EventID            EventID
	OriginalException  error
	RecoveredException interface{}
	Context            context.Context
	Request            *http.Request
	Response           *http.Response
}

// Event is the root diagnostic record: a captured error, message or
// performance transaction with everything attached to it.
//
// Events are created at capture time with a fresh id and timestamp, enriched
// by scope data and event processors, and are treated as immutable once
// serialized for transmission.
type Event struct {
	EventID     EventID
	Timestamp   time.Time
	Level       Level
	Platform    string
	Logger      string
	ServerName  string
	Release     string
	Dist        string
	Environment string
	Message     string
	Logentry    *Message
	Fingerprint []string
	Modules     map[string]string
	Tags        map[string]string
	Extra       map[string]interface{}
	Breadcrumbs []*Breadcrumb
	User        User
	Request     *Request
	Sdk         SdkInfo
	Contexts    Contexts
	DebugMeta   *DebugMeta
	Exception   []Exception
	Threads     []Thread

	// Transaction fields. Type is "transaction" for performance events and
	// empty for error events.
	Type         string
	Transaction  string
	StartTime    time.Time
	Spans        []*Span
	Measurements map[string]Measurement
}

// NewEvent creates an event with a fresh id, the current timestamp and this
// SDK's platform.
func NewEvent() *Event {
	return &Event{
		EventID:   NewEventID(),
		Timestamp: time.Now().UTC(),
		Platform:  defaultPlatform,
	}
}

// IsTransaction reports whether the event is a performance transaction.
func (e *Event) IsTransaction() bool {
	return e.Type == transactionType
}

// WriteTo serializes the event. Field order follows the wire schema and is
// stable, so serializing the same event twice yields identical bytes.
func (e *Event) WriteTo(w *wire.Writer) {
	w.BeginObject()
	if !e.EventID.IsZero() {
		w.String("event_id", e.EventID.String())
	}
	w.Time("timestamp", e.Timestamp)
	if e.IsTransaction() {
		w.Time("start_timestamp", e.StartTime)
	}
	w.String("platform", e.Platform)
	w.String("level", string(e.Level))
	w.String("logger", e.Logger)
	w.String("server_name", e.ServerName)
	w.String("release", e.Release)
	w.String("dist", e.Dist)
	w.String("environment", e.Environment)
	w.String("transaction", e.Transaction)
	w.String("type", e.Type)
	w.String("message", e.Message)
	if !e.Logentry.isEmpty() {
		w.Key("logentry")
		e.Logentry.WriteTo(w)
	}
	w.StringSlice("fingerprint", e.Fingerprint)
	w.StringMap("modules", e.Modules)
	w.StringMap("tags", e.Tags)
	w.DynamicMap("extra", e.Extra)
	if e.Breadcrumbs != nil {
		w.Key("breadcrumbs")
		w.BeginArray()
		for _, b := range e.Breadcrumbs {
			b.WriteTo(w)
		}
		w.EndArray()
	}
	if !e.User.IsEmpty() {
		w.Key("user")
		e.User.WriteTo(w)
	}
	if e.Request != nil {
		w.Key("request")
		e.Request.WriteTo(w)
	}
	if !e.Sdk.isEmpty() {
		w.Key("sdk")
		e.Sdk.WriteTo(w)
	}
	if len(e.Contexts) > 0 {
		w.Key("contexts")
		e.Contexts.WriteTo(w)
	}
	if e.DebugMeta != nil {
		w.Key("debug_meta")
		e.DebugMeta.WriteTo(w)
	}
	if e.Exception != nil {
		w.Key("exception")
		w.BeginArray()
		for i := range e.Exception {
			e.Exception[i].WriteTo(w)
		}
		w.EndArray()
	}
	if e.Threads != nil {
		w.Key("threads")
		w.BeginArray()
		for i := range e.Threads {
			e.Threads[i].WriteTo(w)
		}
		w.EndArray()
	}
	if e.IsTransaction() {
		if e.Spans != nil {
			w.Key("spans")
			w.BeginArray()
			for _, s := range e.Spans {
				s.WriteTo(w)
			}
			w.EndArray()
		}
		if e.Measurements != nil {
			w.Key("measurements")
			w.BeginObject()
			for _, name := range sortedMeasurementNames(e.Measurements) {
				m := e.Measurements[name]
				w.Key(name)
				m.WriteTo(w)
			}
			w.EndObject()
		}
	}
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	return serialize(e.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	parsed, err := EventFromJSON(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// EventFromJSON parses a serialized event. Required fields (event_id,
// timestamp, and for transactions the transaction name and start timestamp)
// fail with a *ParseError naming the field; optional fields default.
func EventFromJSON(data []byte) (*Event, error) {
	n, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	return eventFromNode(n)
}

func eventFromNode(n wire.Node) (*Event, error) {
	idStr, err := n.RequiredStr("event_id")
	if err != nil {
		return nil, err
	}
	id, err := ParseEventID(idStr)
	if err != nil {
		return nil, &ParseError{Field: "event_id", Reason: "not a valid event id"}
	}
	timestamp, err := n.RequiredTime("timestamp")
	if err != nil {
		return nil, err
	}

	e := &Event{EventID: id, Timestamp: timestamp}
	e.Platform, _ = n.Get("platform").Str()
	e.Level = levelFromNode(n.Get("level"))
	e.Logger, _ = n.Get("logger").Str()
	e.ServerName, _ = n.Get("server_name").Str()
	e.Release, _ = n.Get("release").Str()
	e.Dist, _ = n.Get("dist").Str()
	e.Environment, _ = n.Get("environment").Str()
	e.Transaction, _ = n.Get("transaction").Str()
	e.Type, _ = n.Get("type").Str()
	e.Message, _ = n.Get("message").Str()
	e.Logentry = messageFromNode(n.Get("logentry"))
	e.Fingerprint = n.Get("fingerprint").StringSlice()
	e.Modules = n.Get("modules").StringMap()
	e.Tags = n.Get("tags").StringMap()
	e.Extra = n.Get("extra").DynamicMap()
	if crumbs, ok := n.Get("breadcrumbs").Array(); ok {
		e.Breadcrumbs = make([]*Breadcrumb, 0, len(crumbs))
		for _, c := range crumbs {
			e.Breadcrumbs = append(e.Breadcrumbs, breadcrumbFromNode(c))
		}
	}
	e.User = userFromNode(n.Get("user"))
	e.Request = requestFromNode(n.Get("request"))
	e.Sdk = sdkInfoFromNode(n.Get("sdk"))
	e.Contexts = contextsFromNode(n.Get("contexts"))
	e.DebugMeta = debugMetaFromNode(n.Get("debug_meta"))
	if excs, ok := n.Get("exception").Array(); ok {
		e.Exception = make([]Exception, 0, len(excs))
		for _, x := range excs {
			e.Exception = append(e.Exception, exceptionFromNode(x))
		}
	}
	if threads, ok := n.Get("threads").Array(); ok {
		e.Threads = make([]Thread, 0, len(threads))
		for _, x := range threads {
			e.Threads = append(e.Threads, threadFromNode(x))
		}
	}

	if e.IsTransaction() {
		if e.Transaction == "" {
			return nil, &ParseError{Field: "transaction", Reason: "missing"}
		}
		e.StartTime, err = n.RequiredTime("start_timestamp")
		if err != nil {
			return nil, err
		}
		if spans, ok := n.Get("spans").Array(); ok {
			e.Spans = make([]*Span, 0, len(spans))
			for _, s := range spans {
				span, err := spanFromNode(s)
				if err != nil {
					return nil, err
				}
				e.Spans = append(e.Spans, span)
			}
		}
		if node := n.Get("measurements"); node.Exists() && !node.IsNull() {
			e.Measurements = make(map[string]Measurement)
			for _, name := range node.Keys() {
				e.Measurements[name] = measurementFromNode(node.Get(name))
			}
		}
	}

	return e, nil
}
