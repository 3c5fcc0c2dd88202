package faultline

import (
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestScopeBreadcrumbRing(t *testing.T) {
	scope := NewScope()
	for i := 0; i < 5; i++ {
		scope.AddBreadcrumb(&Breadcrumb{Message: fmt.Sprintf("crumb %d", i)}, 3)
	}
	event := scope.ApplyToEvent(&Event{}, nil, 100)
	if len(event.Breadcrumbs) != 3 {
		t.Fatalf("got %d breadcrumbs, want 3", len(event.Breadcrumbs))
	}
	if event.Breadcrumbs[0].Message != "crumb 2" || event.Breadcrumbs[2].Message != "crumb 4" {
		t.Errorf("wrong eviction order: %q ... %q",
			event.Breadcrumbs[0].Message, event.Breadcrumbs[2].Message)
	}
}

func TestScopeApplyToEventPrecedence(t *testing.T) {
	scope := NewScope()
	scope.SetTag("env", "scope")
	scope.SetTag("region", "eu")
	scope.SetExtra("a", "scope")
	scope.SetUser(User{ID: "scope-user"})
	scope.SetLevel(LevelWarning)
	scope.SetTransaction("scope-tx")

	event := &Event{
		Tags:  map[string]string{"env": "event"},
		Extra: map[string]interface{}{"a": "event"},
		User:  User{ID: "event-user"},
	}
	out := scope.ApplyToEvent(event, nil, 100)

	if out.Tags["env"] != "event" {
		t.Errorf("event tag overwritten: %q", out.Tags["env"])
	}
	if out.Tags["region"] != "eu" {
		t.Errorf("missing scope tag not applied: %q", out.Tags["region"])
	}
	if out.Extra["a"] != "event" {
		t.Errorf("event extra overwritten: %v", out.Extra["a"])
	}
	if out.User.ID != "event-user" {
		t.Errorf("event user overwritten: %q", out.User.ID)
	}
	if out.Level != LevelWarning {
		t.Errorf("scope level not applied: %q", out.Level)
	}
	if out.Transaction != "scope-tx" {
		t.Errorf("scope transaction not applied: %q", out.Transaction)
	}
}

func TestScopeApplyToEventRequest(t *testing.T) {
	scope := NewScope()
	r := httptest.NewRequest("GET", "https://example.com/path?q=1", nil)
	scope.SetRequest(r)

	event := scope.ApplyToEvent(&Event{}, nil, 100)
	if event.Request == nil {
		t.Fatal("request not applied")
	}
	if event.Request.Method != "GET" {
		t.Errorf("request method = %q", event.Request.Method)
	}
}

func TestScopeEventProcessorDrops(t *testing.T) {
	scope := NewScope()
	scope.AddEventProcessor(func(event *Event, hint *EventHint) *Event {
		return nil
	})
	if got := scope.ApplyToEvent(&Event{}, nil, 100); got != nil {
		t.Errorf("dropping processor ignored: %#v", got)
	}
}

func TestScopeCloneIsolation(t *testing.T) {
	parent := NewScope()
	parent.SetTag("shared", "parent")
	parent.SetExtra("payload", map[string]interface{}{"k": "parent"})
	parent.SetContext("vcs", OpaqueContext{"branch": "main"})

	child := parent.Clone()
	child.SetTag("shared", "child")
	child.SetExtra("payload", "replaced")
	child.SetContext("vcs", OpaqueContext{"branch": "feature"})

	event := parent.ApplyToEvent(&Event{}, nil, 100)
	if event.Tags["shared"] != "parent" {
		t.Errorf("child mutation leaked into parent tag: %q", event.Tags["shared"])
	}
	if m, ok := event.Extra["payload"].(map[string]interface{}); !ok || m["k"] != "parent" {
		t.Errorf("child mutation leaked into parent extra: %v", event.Extra["payload"])
	}
	if ctx, ok := event.Contexts["vcs"].(OpaqueContext); !ok || ctx["branch"] != "main" {
		t.Errorf("child mutation leaked into parent context: %v", event.Contexts["vcs"])
	}
}

func TestScopeClear(t *testing.T) {
	scope := NewScope()
	scope.SetTag("k", "v")
	scope.SetUser(User{ID: "42"})
	scope.AddBreadcrumb(&Breadcrumb{Message: "m"}, 10)
	scope.AddAttachment(&Attachment{Filename: "log.txt"})
	scope.Clear()

	event := scope.ApplyToEvent(&Event{}, nil, 100)
	if len(event.Tags) != 0 || !event.User.IsEmpty() || len(event.Breadcrumbs) != 0 {
		t.Errorf("cleared scope still applies data: %#v", event)
	}
	if len(scope.Attachments()) != 0 {
		t.Error("cleared scope still holds attachments")
	}
}

func TestScopeSession(t *testing.T) {
	scope := NewScope()
	if scope.Session() != nil {
		t.Fatal("fresh scope must not carry a session")
	}
	session := NewSession("user-1", SessionAttributes{})
	scope.SetSession(session)
	if got := scope.Session(); got != session {
		t.Error("session not stored")
	}
	scope.SetSession(nil)
	if scope.Session() != nil {
		t.Error("session not cleared")
	}
}
