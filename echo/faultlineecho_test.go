package faultlineecho_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	faultline "github.com/faultline-dev/faultline-go"
	faultlineecho "github.com/faultline-dev/faultline-go/echo"
)

type mockTransport struct {
	mu        sync.Mutex
	envelopes []*faultline.Envelope
}

func (t *mockTransport) SendEnvelope(envelope *faultline.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envelopes = append(t.envelopes, envelope)
	return nil
}

func (t *mockTransport) Flush(time.Duration) bool { return true }
func (t *mockTransport) Close()                   {}

func (t *mockTransport) eventsOfType(tb testing.TB, itemType faultline.EnvelopeItemType) []*faultline.Event {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var events []*faultline.Event
	for _, envelope := range t.envelopes {
		for _, item := range envelope.Items {
			if item.Header.Type == itemType {
				event, err := faultline.EventFromJSON(item.Payload)
				require.NoError(tb, err)
				events = append(events, event)
			}
		}
	}
	return events
}

func (t *mockTransport) Errors(tb testing.TB) []*faultline.Event {
	return t.eventsOfType(tb, faultline.EnvelopeItemTypeEvent)
}

func (t *mockTransport) Transactions(tb testing.TB) []*faultline.Event {
	return t.eventsOfType(tb, faultline.EnvelopeItemTypeTransaction)
}

func bindTransport(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	client, err := faultline.NewClient(faultline.ClientOptions{Transport: transport})
	require.NoError(t, err)
	faultline.CurrentHub().BindClient(client)
	t.Cleanup(func() { faultline.CurrentHub().BindClient(nil) })
	return transport
}

func TestMiddlewareTracesRequest(t *testing.T) {
	transport := bindTransport(t)

	e := echo.New()
	e.Use(faultlineecho.New(faultlineecho.Options{}))
	e.GET("/users/:id", func(c echo.Context) error {
		require.NotNil(t, faultlineecho.GetHubFromContext(c))
		require.NotNil(t, faultlineecho.GetTransactionFromContext(c))
		return c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/42", nil))

	require.Equal(t, http.StatusOK, w.Code)
	transactions := transport.Transactions(t)
	require.Len(t, transactions, 1)
	tx := transactions[0]
	assert.Equal(t, "GET /users/:id", tx.Transaction)
	trace, ok := tx.Contexts["trace"].(*faultline.TraceContext)
	require.True(t, ok)
	assert.Equal(t, "http.server", trace.Op)
	assert.Equal(t, faultline.SpanStatusOK, trace.Status)
}

func TestMiddlewareTransactionStatusFromResponse(t *testing.T) {
	transport := bindTransport(t)

	e := echo.New()
	e.Use(faultlineecho.New(faultlineecho.Options{}))
	e.GET("/missing", func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	transactions := transport.Transactions(t)
	require.Len(t, transactions, 1)
	trace, ok := transactions[0].Contexts["trace"].(*faultline.TraceContext)
	require.True(t, ok)
	assert.Equal(t, faultline.SpanStatusNotFound, trace.Status)
}

func TestMiddlewareReportsPanic(t *testing.T) {
	transport := bindTransport(t)

	e := echo.New()
	e.Use(faultlineecho.New(faultlineecho.Options{}))
	e.GET("/panic", func(c echo.Context) error {
		panic("echo handler blew up")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/panic", nil))

	errors := transport.Errors(t)
	require.Len(t, errors, 1)
	assert.Equal(t, "echo handler blew up", errors[0].Message)
	assert.Equal(t, faultline.LevelFatal, errors[0].Level)
	require.NotNil(t, errors[0].Request)
	assert.Contains(t, errors[0].Request.URL, "/panic")
}

func TestMiddlewareScopeCarriesRequest(t *testing.T) {
	transport := bindTransport(t)

	e := echo.New()
	e.Use(faultlineecho.New(faultlineecho.Options{}))
	e.POST("/submit", func(c echo.Context) error {
		faultlineecho.GetHubFromContext(c).CaptureMessage("handled")
		return c.NoContent(http.StatusAccepted)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/submit", nil))

	errors := transport.Errors(t)
	require.Len(t, errors, 1)
	require.NotNil(t, errors[0].Request)
	assert.Equal(t, http.MethodPost, errors[0].Request.Method)
}
