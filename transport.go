package faultline

import (
	"context"
	"time"

	"github.com/faultline-dev/faultline-go/internal/debuglog"
	internalhttp "github.com/faultline-dev/faultline-go/internal/http"
)

// Transport delivers envelopes to the collector. Implementations must be
// safe for concurrent use.
type Transport interface {
	// SendEnvelope queues or delivers one envelope. A non-nil error is a
	// backpressure or configuration signal; the envelope has been dropped.
	SendEnvelope(envelope *Envelope) error
	// Flush waits until queued envelopes are delivered or the timeout
	// elapses, reporting whether everything was delivered.
	Flush(timeout time.Duration) bool
	// Close releases transport resources. The transport must not be used
	// afterwards.
	Close()
}

// NewSyncTransport returns a transport that blocks the calling goroutine
// for every envelope instead of queuing. Use on platforms where background
// goroutines may not get to run; assign it to ClientOptions.Transport.
func NewSyncTransport(options ClientOptions) Transport {
	return internalhttp.NewSyncTransport(internalhttp.TransportOptions{
		CollectorURL:  options.CollectorURL,
		APIKey:        options.APIKey,
		HTTPClient:    options.HTTPClient,
		HTTPTransport: options.HTTPTransport,
		HTTPProxy:     options.HTTPProxy,
		HTTPSProxy:    options.HTTPSProxy,
		CaCerts:       options.CaCerts,
		DebugLogger:   debuglog.GetLogger(),
	})
}

// noopTransport is used when no collector URL is configured: everything is
// accepted and discarded.
type noopTransport struct{}

var _ Transport = noopTransport{}

func (noopTransport) SendEnvelope(*Envelope) error { return nil }
func (noopTransport) Flush(time.Duration) bool     { return true }
func (noopTransport) Close()                       {}

// flushWithContext adapts Flush to context cancellation for transports that
// do not implement FlushWithContext natively.
func flushWithContext(ctx context.Context, t Transport) bool {
	type ctxFlusher interface {
		FlushWithContext(ctx context.Context) bool
	}
	if f, ok := t.(ctxFlusher); ok {
		return f.FlushWithContext(ctx)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return t.Flush(30 * time.Second)
	}
	return t.Flush(time.Until(deadline))
}
