// Package http delivers serialized envelopes to a collector endpoint. It
// implements the queueing, retry and rate-limit behavior the client layer
// builds on.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/faultline-dev/faultline-go/internal/clientreport"
	"github.com/faultline-dev/faultline-go/internal/protocol"
	"github.com/faultline-dev/faultline-go/internal/ratelimit"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultQueueSize      = 1000
	defaultMaxRetries     = 3
	defaultRetryBackoff   = time.Second
	defaultRequestTimeout = 30 * time.Second

	envelopeContentType = "application/x-faultline-envelope"
)

// maxDrainResponseBytes caps how much of a response body is read when
// draining it. Bodies must be drained and closed for TCP keep-alive to
// work, but collector responses are short and their content is unused.
const maxDrainResponseBytes = 16 << 10

var (
	// ErrQueueFull is returned when the send queue is full, giving the
	// caller a backpressure signal.
	ErrQueueFull = errors.New("transport queue full")

	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport is closed")
)

// TransportOptions configures the HTTP transports.
type TransportOptions struct {
	// CollectorURL is the full envelope ingestion endpoint.
	CollectorURL string
	// APIKey authenticates the client with the collector.
	APIKey        string
	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	HTTPProxy     string
	HTTPSProxy    string
	CaCerts       *x509.CertPool
	DebugLogger   *log.Logger
	// QueueSize bounds the send queue of QueueTransport.
	QueueSize int
	// Reports receives discard outcomes for dropped envelopes.
	Reports *clientreport.Aggregator
}

func getProxyConfig(options TransportOptions) func(*http.Request) (*url.URL, error) {
	if options.HTTPSProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPSProxy)
		}
	}
	if options.HTTPProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPProxy)
		}
	}
	return http.ProxyFromEnvironment
}

func getTLSConfig(options TransportOptions) *tls.Config {
	if options.CaCerts != nil {
		return &tls.Config{
			RootCAs:    options.CaCerts,
			MinVersion: tls.VersionTLS12,
		}
	}
	return nil
}

func newHTTPClient(options TransportOptions) *http.Client {
	if options.HTTPClient != nil {
		return options.HTTPClient
	}
	rt := options.HTTPTransport
	if rt == nil {
		rt = &http.Transport{
			Proxy:           getProxyConfig(options),
			TLSClientConfig: getTLSConfig(options),
		}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   defaultTimeout,
	}
}

// requestFromEnvelope serializes the envelope and builds the collector
// request carrying it.
func requestFromEnvelope(ctx context.Context, collectorURL, apiKey string, envelope *protocol.Envelope) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var buf bytes.Buffer
	if _, err := envelope.WriteTo(&buf); err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, collectorURL, &buf)
	if err != nil {
		return nil, err
	}
	sdkName, sdkVersion := "faultline.go", "unknown"
	if envelope.Header != nil && envelope.Header.Sdk != nil {
		if envelope.Header.Sdk.Name != "" {
			sdkName = envelope.Header.Sdk.Name
		}
		if envelope.Header.Sdk.Version != "" {
			sdkVersion = envelope.Header.Sdk.Version
		}
	}
	r.Header.Set("User-Agent", fmt.Sprintf("%s/%s", sdkName, sdkVersion))
	r.Header.Set("Content-Type", envelopeContentType)
	if apiKey != "" {
		r.Header.Set("X-Faultline-Auth", fmt.Sprintf("key=%s, client=%s/%s", apiKey, sdkName, sdkVersion))
	}
	return r, nil
}

// categoryFromEnvelope maps the envelope's primary item type to its quota
// category. Attachments are skipped so an event with attachments is
// accounted as an event.
func categoryFromEnvelope(envelope *protocol.Envelope) ratelimit.Category {
	if envelope == nil {
		return ratelimit.CategoryAll
	}
	for _, item := range envelope.Items {
		if item == nil || item.Header == nil {
			continue
		}
		switch item.Header.Type {
		case protocol.EnvelopeItemTypeEvent:
			return ratelimit.CategoryError
		case protocol.EnvelopeItemTypeTransaction:
			return ratelimit.CategoryTransaction
		case protocol.EnvelopeItemTypeSession:
			return ratelimit.CategorySession
		case protocol.EnvelopeItemTypeCheckIn:
			return ratelimit.CategoryCheckIn
		case protocol.EnvelopeItemTypeFeedback:
			return ratelimit.CategoryFeedback
		case protocol.EnvelopeItemTypeClientReport:
			return ratelimit.CategoryInternal
		case protocol.EnvelopeItemTypeAttachment:
			continue
		default:
			return ratelimit.CategoryAll
		}
	}
	return ratelimit.CategoryAttachment
}

// SyncTransport sends envelopes sequentially and blocks until the collector
// responds. Useful on platforms where background goroutines are not
// guaranteed to run; prefer QueueTransport otherwise.
type SyncTransport struct {
	collectorURL string
	apiKey       string
	client       *http.Client
	logger       *log.Logger
	reports      *clientreport.Aggregator

	mu     sync.Mutex
	limits ratelimit.Map
}

// NewSyncTransport returns a SyncTransport configured with options.
func NewSyncTransport(options TransportOptions) *SyncTransport {
	return &SyncTransport{
		collectorURL: options.CollectorURL,
		apiKey:       options.APIKey,
		client:       newHTTPClient(options),
		logger:       options.DebugLogger,
		reports:      options.Reports,
		limits:       make(ratelimit.Map),
	}
}

// SendEnvelope delivers one envelope, blocking until done.
func (t *SyncTransport) SendEnvelope(envelope *protocol.Envelope) error {
	return t.SendEnvelopeWithContext(context.Background(), envelope)
}

// SendEnvelopeWithContext delivers one envelope, honoring ctx cancellation.
func (t *SyncTransport) SendEnvelopeWithContext(ctx context.Context, envelope *protocol.Envelope) error {
	if t.collectorURL == "" {
		return nil
	}
	category := categoryFromEnvelope(envelope)
	if t.isRateLimited(category) {
		t.recordDiscard(clientreport.ReasonRateLimit, category)
		return nil
	}
	request, err := requestFromEnvelope(ctx, t.collectorURL, t.apiKey, envelope)
	if err != nil {
		t.logf("envelope request failed: %v", err)
		return err
	}
	response, err := t.client.Do(request)
	if err != nil {
		t.logf("envelope send failed: %v", err)
		t.recordDiscard(clientreport.ReasonNetworkError, category)
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 400 {
		t.logf("collector rejected envelope %s: status %d", envelope.Header.EventID, response.StatusCode)
	}
	t.mergeLimits(ratelimit.FromResponse(response))
	_, _ = io.CopyN(io.Discard, response.Body, maxDrainResponseBytes)
	return nil
}

// Flush is a no-op for SyncTransport: nothing is buffered.
func (t *SyncTransport) Flush(time.Duration) bool { return true }

// FlushWithContext is a no-op for SyncTransport.
func (t *SyncTransport) FlushWithContext(context.Context) bool { return true }

// Close is a no-op for SyncTransport.
func (t *SyncTransport) Close() {}

// IsRateLimited reports whether the category is currently throttled.
func (t *SyncTransport) IsRateLimited(category ratelimit.Category) bool {
	return t.isRateLimited(category)
}

func (t *SyncTransport) isRateLimited(c ratelimit.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits.IsRateLimited(c)
}

func (t *SyncTransport) mergeLimits(m ratelimit.Map) {
	t.mu.Lock()
	t.limits.Merge(m)
	t.mu.Unlock()
}

func (t *SyncTransport) recordDiscard(reason clientreport.DiscardReason, c ratelimit.Category) {
	if t.reports != nil {
		t.reports.RecordOne(reason, c)
	}
}

func (t *SyncTransport) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// QueueTransport delivers envelopes through a bounded queue drained by a
// single worker goroutine, preserving submission order. A full queue drops
// the new envelope and reports backpressure instead of blocking the caller.
type QueueTransport struct {
	collectorURL string
	apiKey       string
	client       *http.Client
	logger       *log.Logger
	reports      *clientreport.Aggregator

	queue     chan *protocol.Envelope
	done      chan struct{}
	inflight  sync.WaitGroup
	workerWG  sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	mu     sync.RWMutex
	limits ratelimit.Map
	closed bool
}

// NewQueueTransport returns a QueueTransport configured with options. Call
// Start before sending.
func NewQueueTransport(options TransportOptions) *QueueTransport {
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &QueueTransport{
		collectorURL: options.CollectorURL,
		apiKey:       options.APIKey,
		client:       newHTTPClient(options),
		logger:       options.DebugLogger,
		reports:      options.Reports,
		queue:        make(chan *protocol.Envelope, queueSize),
		done:         make(chan struct{}),
		limits:       make(ratelimit.Map),
	}
}

// Start launches the worker goroutine. Safe to call more than once.
func (t *QueueTransport) Start() {
	t.startOnce.Do(func() {
		t.workerWG.Add(1)
		go t.worker()
	})
}

// SendEnvelope enqueues the envelope for delivery. It never blocks: when
// the queue is full the envelope is dropped, recorded as a queue overflow
// discard, and ErrQueueFull is returned.
func (t *QueueTransport) SendEnvelope(envelope *protocol.Envelope) error {
	if t.collectorURL == "" {
		return nil
	}
	category := categoryFromEnvelope(envelope)
	if t.isRateLimited(category) {
		t.recordDiscard(clientreport.ReasonRateLimit, category)
		return nil
	}
	// The read lock is held across the enqueue so that Close, which takes the
	// write lock before signaling the worker, cannot observe a sender between
	// the closed check and the channel send.
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	t.inflight.Add(1)
	select {
	case t.queue <- envelope:
		t.mu.RUnlock()
		return nil
	default:
		t.mu.RUnlock()
		t.inflight.Done()
		t.recordDiscard(clientreport.ReasonQueueOverflow, category)
		t.logf("envelope dropped: send queue full")
		return ErrQueueFull
	}
}

// Flush waits until all queued envelopes have been processed or the timeout
// elapses, reporting whether the queue fully drained.
func (t *QueueTransport) Flush(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.FlushWithContext(ctx)
}

// FlushWithContext waits until all queued envelopes have been processed or
// ctx is done.
func (t *QueueTransport) FlushWithContext(ctx context.Context) bool {
	drained := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops the worker. Envelopes still queued are processed before the
// worker exits; SendEnvelope calls racing Close either enqueue before the
// worker drains or return ErrTransportClosed. The queue channel is never
// closed so a late sender can never panic.
func (t *QueueTransport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		t.workerWG.Wait()
	})
}

// IsRateLimited reports whether the category is currently throttled.
func (t *QueueTransport) IsRateLimited(category ratelimit.Category) bool {
	return t.isRateLimited(category)
}

func (t *QueueTransport) worker() {
	defer t.workerWG.Done()
	for {
		select {
		case envelope := <-t.queue:
			t.processEnvelope(envelope)
			t.inflight.Done()
		case <-t.done:
			// Drain whatever made it into the queue before Close flipped the
			// closed flag; no new envelopes can arrive past this point.
			for {
				select {
				case envelope := <-t.queue:
					t.processEnvelope(envelope)
					t.inflight.Done()
				default:
					return
				}
			}
		}
	}
}

// processEnvelope sends one envelope, retrying transient failures with
// exponential backoff.
func (t *QueueTransport) processEnvelope(envelope *protocol.Envelope) {
	category := categoryFromEnvelope(envelope)
	if t.isRateLimited(category) {
		t.recordDiscard(clientreport.ReasonRateLimit, category)
		return
	}
	backoff := defaultRetryBackoff
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		retryable, err := t.sendOnce(envelope)
		if err == nil {
			return
		}
		if !retryable {
			t.recordDiscard(clientreport.ReasonSendError, category)
			return
		}
		if attempt < defaultMaxRetries {
			select {
			case <-t.done:
				t.recordDiscard(clientreport.ReasonSendError, category)
				return
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	t.recordDiscard(clientreport.ReasonNetworkError, category)
	t.logf("envelope %s dropped after %d attempts", envelope.Header.EventID, defaultMaxRetries+1)
}

// sendOnce performs a single delivery attempt. The first return value
// reports whether a failure is worth retrying.
func (t *QueueTransport) sendOnce(envelope *protocol.Envelope) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	request, err := requestFromEnvelope(ctx, t.collectorURL, t.apiKey, envelope)
	if err != nil {
		return false, err
	}
	response, err := t.client.Do(request)
	if err != nil {
		return true, err
	}
	defer response.Body.Close()

	t.mu.Lock()
	t.limits.Merge(ratelimit.FromResponse(response))
	t.mu.Unlock()

	_, _ = io.CopyN(io.Discard, response.Body, maxDrainResponseBytes)

	switch {
	case response.StatusCode < 300:
		return false, nil
	case response.StatusCode >= 500:
		return true, fmt.Errorf("collector returned status %d", response.StatusCode)
	default:
		t.logf("collector rejected envelope %s: status %d", envelope.Header.EventID, response.StatusCode)
		return false, fmt.Errorf("collector returned status %d", response.StatusCode)
	}
}

func (t *QueueTransport) isRateLimited(c ratelimit.Category) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits.IsRateLimited(c)
}

func (t *QueueTransport) recordDiscard(reason clientreport.DiscardReason, c ratelimit.Category) {
	if t.reports != nil {
		t.reports.RecordOne(reason, c)
	}
}

func (t *QueueTransport) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
