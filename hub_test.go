package faultline

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestHub(t *testing.T, options ClientOptions) (*Hub, *recordingTransport) {
	t.Helper()
	transport := &recordingTransport{}
	options.Transport = transport
	client, err := NewClient(options)
	if err != nil {
		t.Fatal(err)
	}
	return NewHub(client, NewScope()), transport
}

func TestHubPushPopScope(t *testing.T) {
	hub, _ := newTestHub(t, ClientOptions{})
	hub.Scope().SetTag("outer", "1")

	inner := hub.PushScope()
	inner.SetTag("inner", "1")
	if hub.Scope() != inner {
		t.Error("PushScope did not install the new scope")
	}

	hub.PopScope()
	event := hub.Scope().ApplyToEvent(&Event{}, nil, 100)
	if _, ok := event.Tags["inner"]; ok {
		t.Error("inner tag leaked out of the popped scope")
	}
	if event.Tags["outer"] != "1" {
		t.Error("outer tag lost")
	}
}

func TestHubPopNeverDropsBottomLayer(t *testing.T) {
	hub, _ := newTestHub(t, ClientOptions{})
	hub.PopScope()
	hub.PopScope()
	if hub.Scope() == nil || hub.Client() == nil {
		t.Fatal("bottom layer must survive excess pops")
	}
}

func TestHubWithScope(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})
	hub.WithScope(func(scope *Scope) {
		scope.SetTag("temp", "1")
		hub.CaptureMessage("inside")
	})
	hub.CaptureMessage("outside")

	inside := eventPayload(t, transport.envelopes[0])
	outside := eventPayload(t, transport.envelopes[1])
	if inside.Tags["temp"] != "1" {
		t.Error("temporary scope not applied inside WithScope")
	}
	if _, ok := outside.Tags["temp"]; ok {
		t.Error("temporary tag leaked out of WithScope")
	}
}

func TestHubLastEventID(t *testing.T) {
	hub, _ := newTestHub(t, ClientOptions{})
	id := hub.CaptureMessage("x")
	if id == nil {
		t.Fatal("capture failed")
	}
	if hub.LastEventID() != *id {
		t.Errorf("LastEventID = %s, want %s", hub.LastEventID(), id)
	}
}

func TestHubAddBreadcrumbHooks(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{
		BeforeBreadcrumb: func(breadcrumb *Breadcrumb, hint *BreadcrumbHint) *Breadcrumb {
			if breadcrumb.Category == "noise" {
				return nil
			}
			breadcrumb.Message = "edited: " + breadcrumb.Message
			return breadcrumb
		},
	})
	hub.AddBreadcrumb(&Breadcrumb{Category: "noise", Message: "drop me"}, nil)
	hub.AddBreadcrumb(&Breadcrumb{Category: "query", Message: "keep me"}, nil)
	hub.CaptureMessage("x")

	event := eventPayload(t, transport.envelopes[0])
	if len(event.Breadcrumbs) != 1 {
		t.Fatalf("got %d breadcrumbs, want 1", len(event.Breadcrumbs))
	}
	if event.Breadcrumbs[0].Message != "edited: keep me" {
		t.Errorf("breadcrumb = %q", event.Breadcrumbs[0].Message)
	}
}

func TestHubAddBreadcrumbDisabled(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{MaxBreadcrumbs: -1})
	hub.AddBreadcrumb(&Breadcrumb{Message: "never"}, nil)
	hub.CaptureMessage("x")
	event := eventPayload(t, transport.envelopes[0])
	if len(event.Breadcrumbs) != 0 {
		t.Errorf("breadcrumbs recorded despite MaxBreadcrumbs<0: %d", len(event.Breadcrumbs))
	}
}

func TestHubCaptureWithoutClient(t *testing.T) {
	hub := NewHub(nil, NewScope())
	if id := hub.CaptureMessage("x"); id != nil {
		t.Error("capture on a clientless hub returned an id")
	}
	if id := hub.CaptureException(errors.New("x")); id != nil {
		t.Error("exception capture on a clientless hub returned an id")
	}
	hub.AddBreadcrumb(&Breadcrumb{Message: "x"}, nil)
}

func TestHubRecover(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})

	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				hub.Recover(recovered)
			}
		}()
		panic(errors.New("boom"))
	}()

	if len(transport.envelopes) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(transport.envelopes))
	}
	event := eventPayload(t, transport.envelopes[0])
	if event.Level != LevelFatal {
		t.Errorf("level = %q", event.Level)
	}
	if len(event.Exception) == 0 || event.Exception[0].Value != "boom" {
		t.Errorf("exception = %#v", event.Exception)
	}
}

func TestHubRecoverString(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})
	hub.Recover("string panic")
	event := eventPayload(t, transport.envelopes[0])
	if event.Message != "string panic" {
		t.Errorf("message = %q", event.Message)
	}
	if event.Level != LevelFatal {
		t.Errorf("level = %q", event.Level)
	}
}

func TestHubSessionLifecycle(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{Release: "v1.0.0"})
	hub.StartSession("user-1")
	if hub.Scope().Session() == nil {
		t.Fatal("session not installed on the scope")
	}
	hub.EndSession(SessionStatusExited)
	if hub.Scope().Session() != nil {
		t.Error("session not cleared after EndSession")
	}

	if len(transport.envelopes) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(transport.envelopes))
	}
	first, err := SessionUpdateFromJSON(transport.envelopes[0].Items[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	final, err := SessionUpdateFromJSON(transport.envelopes[1].Items[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Init || first.Seq != 0 || first.Status != SessionStatusOK {
		t.Errorf("initial update = %#v", first)
	}
	if first.Attrs.Release != "v1.0.0" {
		t.Errorf("initial release = %q", first.Attrs.Release)
	}
	if final.Init || final.Seq != 1 || final.Status != SessionStatusExited {
		t.Errorf("final update = %#v", final)
	}
	if final.Sid != first.Sid {
		t.Error("final update lost the session id")
	}
}

func TestHubSessionErrorCount(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})
	hub.StartSession("")
	hub.CaptureException(errors.New("boom"))
	hub.EndSession(SessionStatusCrashed)

	final, err := SessionUpdateFromJSON(transport.envelopes[len(transport.envelopes)-1].Items[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if final.Errors != 1 {
		t.Errorf("Errors = %d, want 1", final.Errors)
	}
	if final.Status != SessionStatusCrashed {
		t.Errorf("Status = %q", final.Status)
	}
}

func TestHubSessionErrorCountConcurrent(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})
	hub.StartSession("")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				hub.CaptureException(errors.New("boom"))
			}
		}()
	}
	wg.Wait()
	hub.EndSession(SessionStatusCrashed)

	final, err := SessionUpdateFromJSON(transport.envelopes[len(transport.envelopes)-1].Items[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if final.Errors != 80 {
		t.Errorf("Errors = %d, want 80", final.Errors)
	}
}

func TestHubFinishTransaction(t *testing.T) {
	hub, transport := newTestHub(t, ClientOptions{})
	tx := StartTransaction("job")
	child := tx.StartChild("step")
	child.Finish()
	if id := hub.FinishTransaction(tx); id == nil {
		t.Fatal("transaction capture failed")
	}
	event := eventPayload(t, transport.envelopes[0])
	if !event.IsTransaction() || event.Transaction != "job" {
		t.Errorf("event = %q %q", event.Type, event.Transaction)
	}
	if len(event.Spans) != 1 {
		t.Errorf("got %d spans, want 1", len(event.Spans))
	}
}

func TestHubOnContext(t *testing.T) {
	hub, _ := newTestHub(t, ClientOptions{})
	ctx := context.Background()
	if HasHubOnContext(ctx) {
		t.Error("fresh context must not carry a hub")
	}
	ctx = SetHubOnContext(ctx, hub)
	if !HasHubOnContext(ctx) {
		t.Error("hub not stored on context")
	}
	if GetHubFromContext(ctx) != hub {
		t.Error("stored hub not returned")
	}
}

func TestHubClone(t *testing.T) {
	hub, _ := newTestHub(t, ClientOptions{})
	hub.Scope().SetTag("k", "parent")

	clone := hub.Clone()
	clone.Scope().SetTag("k", "clone")

	event := hub.Scope().ApplyToEvent(&Event{}, nil, 100)
	if event.Tags["k"] != "parent" {
		t.Errorf("clone mutation leaked: %q", event.Tags["k"])
	}
	if clone.Client() != hub.Client() {
		t.Error("clone must share the client")
	}
}
