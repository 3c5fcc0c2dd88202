// Package faultlineecho provides Echo middleware that isolates a hub per
// request, traces the request as a transaction, and reports panics.
package faultlineecho

import (
	"context"
	"fmt"
	"net/http"
	"time"

	faultline "github.com/faultline-dev/faultline-go"
	"github.com/labstack/echo/v4"
)

const (
	// valuesKey stores the request hub on the echo.Context.
	valuesKey = "faultline"
	// transactionKey stores the request transaction on the echo.Context.
	transactionKey = "faultline_transaction"
)

type handler struct {
	repanic         bool
	waitForDelivery bool
	timeout         time.Duration
}

type Options struct {
	// Repanic re-raises the recovered panic after reporting it, so Echo's
	// own Recover middleware can answer the request.
	Repanic bool
	// WaitForDelivery blocks the failing request until the panic event is
	// delivered or Timeout elapses.
	WaitForDelivery bool
	Timeout         time.Duration
}

// New returns a middleware for use with echo.Echo.Use.
func New(options Options) echo.MiddlewareFunc {
	if options.Timeout == 0 {
		options.Timeout = 2 * time.Second
	}
	return (&handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		timeout:         options.Timeout,
	}).handle
}

func (h *handler) handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hub := GetHubFromContext(c)
		if hub == nil {
			hub = faultline.CurrentHub().Clone()
		}

		r := c.Request()

		name := r.URL.Path
		if path := c.Path(); path != "" {
			name = path
		}
		transaction := faultline.StartTransaction(
			fmt.Sprintf("%s %s", r.Method, name),
			faultline.WithOpName("http.server"),
		)
		transaction.SetData("http.request.method", r.Method)

		defer func() {
			status := c.Response().Status
			transaction.Status = faultline.SpanStatusFromHTTP(status)
			transaction.SetData("http.response.status_code", status)
			hub.FinishTransaction(transaction)
		}()

		hub.Scope().SetRequest(r)
		c.Set(valuesKey, hub)
		c.Set(transactionKey, transaction)
		ctx := faultline.SetHubOnContext(r.Context(), hub)
		c.SetRequest(r.WithContext(ctx))
		defer h.recoverWithHub(ctx, r)
		return next(c)
	}
}

func (h *handler) recoverWithHub(ctx context.Context, r *http.Request) {
	if recovered := recover(); recovered != nil {
		hub := faultline.GetHubFromContext(ctx)
		hub.ConfigureScope(func(scope *faultline.Scope) {
			scope.SetRequest(r)
		})
		eventID := hub.RecoverWithContext(ctx, recovered)
		if eventID != nil && h.waitForDelivery {
			hub.Flush(h.timeout)
		}
		if h.repanic {
			panic(recovered)
		}
	}
}

// GetHubFromContext retrieves the hub stored on the echo.Context by the
// middleware, or nil when the middleware did not run.
func GetHubFromContext(c echo.Context) *faultline.Hub {
	if hub, ok := c.Get(valuesKey).(*faultline.Hub); ok {
		return hub
	}
	return nil
}

// GetTransactionFromContext retrieves the request transaction stored on the
// echo.Context, or nil.
func GetTransactionFromContext(c echo.Context) *faultline.Span {
	if span, ok := c.Get(transactionKey).(*faultline.Span); ok {
		return span
	}
	return nil
}
