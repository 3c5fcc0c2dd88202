// Package faultlinegin provides Gin middleware that isolates a hub per
// request and reports panics.
package faultlinegin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	faultline "github.com/faultline-dev/faultline-go"
	"github.com/gin-gonic/gin"
)

type handler struct {
	repanic         bool
	waitForDelivery bool
	timeout         time.Duration
}

type Options struct {
	// Repanic re-raises the recovered panic after reporting it, so Gin's
	// own recovery middleware can answer the request.
	Repanic bool
	// WaitForDelivery blocks the failing request until the panic event is
	// delivered or Timeout elapses.
	WaitForDelivery bool
	Timeout         time.Duration
}

func New(options Options) gin.HandlerFunc {
	if options.Timeout == 0 {
		options.Timeout = 2 * time.Second
	}
	h := handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		timeout:         options.Timeout,
	}
	return h.handle
}

func (h *handler) handle(c *gin.Context) {
	r := c.Copy().Request
	hub := faultline.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	ctx := faultline.SetHubOnContext(r.Context(), hub)

	name := r.URL.Path
	if path := c.FullPath(); path != "" {
		name = path
	}
	transaction := faultline.StartTransaction(
		fmt.Sprintf("%s %s", r.Method, name),
		faultline.WithOpName("http.server"),
	)
	transaction.SetData("http.request.method", r.Method)
	defer func() {
		status := c.Writer.Status()
		transaction.Status = faultline.SpanStatusFromHTTP(status)
		transaction.SetData("http.response.status_code", status)
		hub.FinishTransaction(transaction)
	}()

	defer h.recoverWithHub(ctx, r)
	c.Request = r.WithContext(ctx)
	c.Next()
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
