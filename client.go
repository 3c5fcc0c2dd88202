package faultline

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"reflect"
	"time"

	"github.com/faultline-dev/faultline-go/internal/clientreport"
	"github.com/faultline-dev/faultline-go/internal/debuglog"
	internalhttp "github.com/faultline-dev/faultline-go/internal/http"
	"github.com/faultline-dev/faultline-go/internal/ratelimit"
	"github.com/faultline-dev/faultline-go/internal/wire"
)

// SDK identity reported in event sdk info and envelope headers.
const (
	sdkName    = "faultline.go"
	sdkVersion = "0.9.0"
)

// MaxErrorDepth is how many wrapped causes of an error are unwrapped into
// separate exception entries.
const MaxErrorDepth = 10

// defaultMaxBreadcrumbs bounds the scope's breadcrumb ring when the option
// is unset.
const defaultMaxBreadcrumbs = 100

// An EventProcessor can enrich or veto an event before sending. Returning
// nil drops the event.
type EventProcessor func(event *Event, hint *EventHint) *Event

// ClientOptions configures a Client.
type ClientOptions struct {
	// CollectorURL is the envelope ingestion endpoint. Leaving it empty
	// disables sending; capture calls become no-ops.
	CollectorURL string
	// APIKey authenticates with the collector.
	APIKey string
	// Debug turns on SDK debug logging.
	Debug bool
	// DebugWriter receives the debug log. Defaults to stderr when Debug is
	// set.
	DebugWriter io.Writer
	// SampleRate is the error event sample rate in (0.0, 1.0]. Zero means
	// send everything.
	SampleRate float64
	// BeforeSend runs last before an error event is queued. Returning nil
	// drops the event.
	BeforeSend func(event *Event, hint *EventHint) *Event
	// BeforeSendTransaction is BeforeSend for transaction events.
	BeforeSendTransaction func(event *Event, hint *EventHint) *Event
	// BeforeBreadcrumb runs before a breadcrumb is recorded. Returning nil
	// drops the breadcrumb.
	BeforeBreadcrumb func(breadcrumb *Breadcrumb, hint *BreadcrumbHint) *Breadcrumb
	// EventProcessors run on every event from this client, before scope
	// processors.
	EventProcessors []EventProcessor
	// AttachStacktrace captures a stacktrace on CaptureMessage.
	AttachStacktrace bool
	// ServerName overrides the reported host name.
	ServerName string
	// Release, Dist, Environment stamp every outgoing event.
	Release     string
	Dist        string
	Environment string
	// MaxBreadcrumbs bounds the breadcrumb ring. Negative disables
	// breadcrumbs entirely.
	MaxBreadcrumbs int
	// InAppInclude and InAppExclude are module prefixes steering in-app
	// frame classification.
	InAppInclude []string
	InAppExclude []string
	// RedactURLs strips URL-like strings from breadcrumbs and spans.
	RedactURLs bool
	// SendClientReports controls whether discard statistics accompany
	// outgoing envelopes. Enabled by default; set DisableClientReports to
	// turn off.
	DisableClientReports bool
	// Transport overrides the default queue transport.
	Transport Transport
	// QueueSize bounds the default transport's send queue.
	QueueSize int
	// Converters extend dynamic-value serialization with custom
	// type-to-JSON conversions, applied before reflection.
	Converters []wire.Converter
	// HTTP plumbing for the default transport.
	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	HTTPProxy     string
	HTTPSProxy    string
	CaCerts       *x509.CertPool
}

// BreadcrumbHint carries arbitrary context for BeforeBreadcrumb callbacks.
type BreadcrumbHint map[string]interface{}

// Client encapsulates capture, enrichment and queuing of telemetry. Methods
// are safe for concurrent use; the bound scope is supplied per call.
type Client struct {
	options   ClientOptions
	transport Transport
	reports   *clientreport.Aggregator
	cfg       *wire.Config
	sdk       SdkInfo
}

// NewClient builds a client from options. An empty CollectorURL yields a
// working client that discards everything.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Debug {
		w := options.DebugWriter
		if w == nil {
			w = os.Stderr
		}
		debuglog.SetOutput(w)
	}
	if options.SampleRate < 0 || options.SampleRate > 1 {
		return nil, fmt.Errorf("faultline: SampleRate out of range: %v", options.SampleRate)
	}
	if options.ServerName == "" {
		options.ServerName = defaultServerName()
	}
	if options.MaxBreadcrumbs == 0 {
		options.MaxBreadcrumbs = defaultMaxBreadcrumbs
	}

	cfg := wire.NewConfig(debuglog.Warnf)
	for _, c := range options.Converters {
		cfg.RegisterConverter(c)
	}

	reports := clientreport.NewAggregator()
	reports.SetEnabled(!options.DisableClientReports)

	client := &Client{
		options: options,
		reports: reports,
		cfg:     cfg,
		sdk: SdkInfo{
			Name:    sdkName,
			Version: sdkVersion,
		},
	}

	switch {
	case options.Transport != nil:
		client.transport = options.Transport
	case options.CollectorURL == "":
		debuglog.Println("no collector URL configured, events will be discarded")
		client.transport = noopTransport{}
	default:
		t := internalhttp.NewQueueTransport(internalhttp.TransportOptions{
			CollectorURL:  options.CollectorURL,
			APIKey:        options.APIKey,
			HTTPClient:    options.HTTPClient,
			HTTPTransport: options.HTTPTransport,
			HTTPProxy:     options.HTTPProxy,
			HTTPSProxy:    options.HTTPSProxy,
			CaCerts:       options.CaCerts,
			QueueSize:     options.QueueSize,
			DebugLogger:   debuglog.GetLogger(),
			Reports:       reports,
		})
		t.Start()
		client.transport = t
	}

	return client, nil
}

// Options returns the options the client was built with.
func (c *Client) Options() ClientOptions { return c.options }

// CaptureMessage captures an informational message as an event.
func (c *Client) CaptureMessage(message string, hint *EventHint, scope *Scope) *EventID {
	event := c.EventFromMessage(message, LevelInfo)
	return c.CaptureEvent(event, hint, scope)
}

// CaptureException captures an error.
func (c *Client) CaptureException(err error, hint *EventHint, scope *Scope) *EventID {
	event := c.EventFromException(err, LevelError)
	return c.CaptureEvent(event, hint, scope)
}

// CaptureCheckIn captures a monitor heartbeat.
func (c *Client) CaptureCheckIn(checkIn *CheckIn) *EventID {
	payload, err := serializeWith(c.cfg, checkIn.WriteTo)
	if err != nil {
		debuglog.Errorf("check-in serialization failed: %v", err)
		return nil
	}
	envelope, err := envelopeFromItem(NewEnvelopeItem(EnvelopeItemTypeCheckIn, payload), c.sdkMeta())
	if err != nil {
		debuglog.Errorf("check-in envelope failed: %v", err)
		return nil
	}
	if err := c.transport.SendEnvelope(envelope); err != nil {
		debuglog.Warnf("check-in dropped: %v", err)
		return nil
	}
	id := checkIn.ID
	return &id
}

// CaptureSession sends one session update.
func (c *Client) CaptureSession(session *SessionUpdate) {
	payload, err := serializeWith(c.cfg, session.WriteTo)
	if err != nil {
		debuglog.Errorf("session serialization failed: %v", err)
		return
	}
	envelope, err := envelopeFromItem(NewEnvelopeItem(EnvelopeItemTypeSession, payload), c.sdkMeta())
	if err != nil {
		debuglog.Errorf("session envelope failed: %v", err)
		return
	}
	if err := c.transport.SendEnvelope(envelope); err != nil {
		debuglog.Warnf("session update dropped: %v", err)
	}
}

// CaptureUserFeedback sends user feedback about a captured event.
func (c *Client) CaptureUserFeedback(feedback *UserFeedback) {
	payload, err := serializeWith(c.cfg, feedback.WriteTo)
	if err != nil {
		debuglog.Errorf("feedback serialization failed: %v", err)
		return
	}
	envelope, err := envelopeFromItem(NewEnvelopeItem(EnvelopeItemTypeFeedback, payload), c.sdkMeta())
	if err != nil {
		debuglog.Errorf("feedback envelope failed: %v", err)
		return
	}
	if err := c.transport.SendEnvelope(envelope); err != nil {
		debuglog.Warnf("feedback dropped: %v", err)
	}
}

// CaptureEvent runs the event through processors and hooks, packages it
// into an envelope and hands it to the transport. It returns the event id
// when the event was queued and nil when it was dropped at any stage.
func (c *Client) CaptureEvent(event *Event, hint *EventHint, scope *Scope) *EventID {
	if event == nil {
		return nil
	}
	event = c.processEvent(event, hint, scope)
	if event == nil {
		return nil
	}

	var attachments []*Attachment
	if scope != nil {
		attachments = scope.Attachments()
	}
	envelope, err := envelopeFromEvent(c.cfg, event, c.sdkMeta(), attachments, c.takeReport())
	if err != nil {
		debuglog.Errorf("event %s serialization failed: %v", event.EventID, err)
		c.reports.RecordOne(clientreport.ReasonInternalError, categoryFor(event))
		return nil
	}
	if err := c.transport.SendEnvelope(envelope); err != nil {
		debuglog.Warnf("event %s dropped: %v", event.EventID, err)
		return nil
	}
	id := event.EventID
	return &id
}

// Flush waits for the transport queue to drain. It must be called before
// process exit to avoid losing buffered events.
func (c *Client) Flush(timeout time.Duration) bool {
	return c.transport.Flush(timeout)
}

// FlushWithContext is Flush honoring context cancellation.
func (c *Client) FlushWithContext(ctx context.Context) bool {
	return flushWithContext(ctx, c.transport)
}

// Close flushes nothing and shuts down the transport.
func (c *Client) Close() {
	c.transport.Close()
}

// EventFromMessage builds a message event, with a stacktrace of the capture
// site when AttachStacktrace is set.
func (c *Client) EventFromMessage(message string, level Level) *Event {
	if message == "" {
		message = "<empty message>"
	}
	event := NewEvent()
	event.Level = level
	event.Message = message
	if c.options.AttachStacktrace {
		event.Threads = []Thread{{
			Stacktrace: NewStacktrace(),
			Current:    true,
		}}
	}
	return event
}

// EventFromException builds an error event, unwrapping the cause chain into
// exception entries ordered oldest-first.
func (c *Client) EventFromException(err error, level Level) *Event {
	event := NewEvent()
	event.Level = level
	event.SetException(err, MaxErrorDepth)
	return event
}

// SetException fills the event's exception list from an error and its
// unwrapped causes. The outermost error ends up last, per protocol order,
// and chained causes carry a mechanism linking them to their parent.
func (e *Event) SetException(exception error, maxErrorDepth int) {
	if exception == nil {
		return
	}

	err := exception
	exceptions := []Exception{}
	for i := 0; err != nil && i < maxErrorDepth; i++ {
		exceptions = append(exceptions, Exception{
			Value:      err.Error(),
			Type:       reflect.TypeOf(err).String(),
			Stacktrace: ExtractStacktrace(err),
		})
		switch previous := err.(type) {
		case interface{ Unwrap() error }:
			err = previous.Unwrap()
		case interface{ Cause() error }:
			err = previous.Cause()
		default:
			err = nil
		}
	}

	// Reverse so the oldest cause comes first.
	for i, j := 0, len(exceptions)-1; i < j; i, j = i+1, j-1 {
		exceptions[i], exceptions[j] = exceptions[j], exceptions[i]
	}

	// The event stacktrace belongs on the outermost exception when none of
	// the errors carried one.
	last := len(exceptions) - 1
	if exceptions[last].Stacktrace == nil {
		exceptions[last].Stacktrace = NewStacktrace()
	}

	if len(exceptions) > 1 {
		for i := range exceptions {
			exceptions[i].Mechanism = &Mechanism{
				Type:        "chained",
				ExceptionID: Pointer(int64(last - i)),
			}
			if i < last {
				exceptions[i].Mechanism.ParentID = Pointer(int64(last - i - 1))
			} else {
				exceptions[i].Mechanism.Type = mechanismDefaultType
			}
		}
	}

	e.Exception = exceptions
}

// processEvent applies defaults, sampling, scope state, processors and
// hooks, in that order. A nil return means the event was dropped.
func (c *Client) processEvent(event *Event, hint *EventHint, scope *Scope) *Event {
	category := categoryFor(event)

	if !event.IsTransaction() && c.options.SampleRate != 0 {
		randomFloat := rand.New(rand.NewSource(time.Now().UnixNano())).Float64()
		if randomFloat >= c.options.SampleRate {
			debuglog.Println("event dropped by sample rate")
			c.reports.RecordOne(clientreport.ReasonSampleRate, category)
			return nil
		}
	}

	c.prepareEvent(event)

	if scope != nil {
		limit := c.options.MaxBreadcrumbs
		if limit == 0 {
			limit = defaultMaxBreadcrumbs
		} else if limit < 0 {
			limit = 0
		}
		event = scope.ApplyToEvent(event, hint, limit)
		if event == nil {
			c.reports.RecordOne(clientreport.ReasonEventProcessor, category)
			return nil
		}
	}

	for _, processor := range c.options.EventProcessors {
		event = processor(event, hint)
		if event == nil {
			debuglog.Println("event dropped by client event processor")
			c.reports.RecordOne(clientreport.ReasonEventProcessor, category)
			return nil
		}
	}

	switch {
	case event.IsTransaction():
		if c.options.BeforeSendTransaction != nil {
			if event = c.options.BeforeSendTransaction(event, hint); event == nil {
				debuglog.Println("transaction dropped by BeforeSendTransaction")
				c.reports.RecordOne(clientreport.ReasonBeforeSend, category)
				return nil
			}
		}
	default:
		if c.options.BeforeSend != nil {
			if event = c.options.BeforeSend(event, hint); event == nil {
				debuglog.Println("event dropped by BeforeSend")
				c.reports.RecordOne(clientreport.ReasonBeforeSend, category)
				return nil
			}
		}
	}

	return event
}

// prepareEvent fills client-level defaults on the event.
func (c *Client) prepareEvent(event *Event) {
	if event.EventID.IsZero() {
		event.EventID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" && !event.IsTransaction() {
		event.Level = LevelInfo
	}
	if event.Platform == "" {
		event.Platform = defaultPlatform
	}
	if event.ServerName == "" {
		event.ServerName = c.options.ServerName
	}
	if event.Release == "" {
		event.Release = c.options.Release
	}
	if event.Dist == "" {
		event.Dist = c.options.Dist
	}
	if event.Environment == "" {
		event.Environment = c.options.Environment
	}
	event.Sdk = c.sdk
	if event.Modules == nil {
		event.Modules = collectModules()
	}

	if event.Contexts == nil {
		event.Contexts = make(Contexts)
	}
	if _, ok := event.Contexts[ContextKeyOS]; !ok {
		if osCtx := collectOSContext(); osCtx != nil {
			event.Contexts[ContextKeyOS] = osCtx
		}
	}
	if _, ok := event.Contexts[ContextKeyRuntime]; !ok {
		event.Contexts[ContextKeyRuntime] = collectRuntimeContext()
	}

	classify := func(st *Stacktrace) {
		if st != nil {
			st.ClassifyInApp(c.options.InAppInclude, c.options.InAppExclude)
		}
	}
	for i := range event.Exception {
		classify(event.Exception[i].Stacktrace)
	}
	for i := range event.Threads {
		classify(event.Threads[i].Stacktrace)
	}

	if c.options.RedactURLs {
		for _, b := range event.Breadcrumbs {
			b.Redact()
		}
		for _, s := range event.Spans {
			s.Redact()
		}
	}
}

func (c *Client) sdkMeta() *SdkMeta {
	return &SdkMeta{Name: c.sdk.Name, Version: c.sdk.Version}
}

// takeReport drains accumulated discard statistics for piggybacking on an
// outgoing envelope.
func (c *Client) takeReport() *clientreport.ClientReport {
	if c.options.DisableClientReports {
		return nil
	}
	return c.reports.TakeReport()
}

func categoryFor(event *Event) ratelimit.Category {
	if event.IsTransaction() {
		return ratelimit.CategoryTransaction
	}
	return ratelimit.CategoryError
}

// reportInternalDiscard accounts an event dropped outside the capture path,
// such as a transaction failing its consistency check during assembly.
func (c *Client) reportInternalDiscard(transactionEvent bool) {
	category := ratelimit.CategoryError
	if transactionEvent {
		category = ratelimit.CategoryTransaction
	}
	c.reports.RecordOne(clientreport.ReasonInternalError, category)
}
