// Package faultlinehttp provides net/http middleware that isolates a hub
// per request, records the request on the scope, and reports panics.
package faultlinehttp

import (
	"context"
	"net/http"
	"time"

	faultline "github.com/faultline-dev/faultline-go"
)

// Handler wraps http handlers with panic reporting.
type Handler struct {
	repanic         bool
	waitForDelivery bool
	timeout         time.Duration
}

type Options struct {
	// Repanic re-raises the recovered panic after reporting it. Set it
	// when an outer recovery middleware renders the error page.
	Repanic bool
	// WaitForDelivery blocks the failing request until the panic event is
	// delivered or Timeout elapses.
	WaitForDelivery bool
	Timeout         time.Duration
}

func New(options Options) *Handler {
	if options.Timeout == 0 {
		options.Timeout = 2 * time.Second
	}
	return &Handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		timeout:         options.Timeout,
	}
}

// Handle wraps handler so every request runs with its own hub.
func (h *Handler) Handle(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := contextWithRequestHub(r)
		defer h.recoverWithHub(ctx)
		handler.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// HandleFunc is Handle for bare handler functions.
func (h *Handler) HandleFunc(handler http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx := contextWithRequestHub(r)
		defer h.recoverWithHub(ctx)
		handler(rw, r.WithContext(ctx))
	}
}

func (h *Handler) recoverWithHub(ctx context.Context) {
	if recovered := recover(); recovered != nil {
		hub := faultline.GetHubFromContext(ctx)
		eventID := hub.RecoverWithContext(ctx, recovered)
		if eventID != nil && h.waitForDelivery {
			hub.Flush(h.timeout)
		}
		if h.repanic {
			panic(recovered)
		}
	}
}

func contextWithRequestHub(r *http.Request) context.Context {
	parent := faultline.CurrentHub()
	scope := parent.Scope().Clone()
	scope.SetRequest(r)
	hub := faultline.NewHub(parent.Client(), scope)
	return faultline.SetHubOnContext(r.Context(), hub)
}
