package faultline

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContextsCopyTo(t *testing.T) {
	src := Contexts{
		ContextKeyApp: &AppContext{AppName: "checkout", AppVersion: "2.0"},
		ContextKeyOS:  &OSContext{Name: "linux"},
		"vcs":         OpaqueContext{"branch": "main", "commit": "abc123"},
	}
	target := Contexts{
		ContextKeyApp: &AppContext{AppVersion: "1.0"},
		"vcs":         OpaqueContext{"commit": "def456"},
	}

	src.CopyTo(target)

	app := target[ContextKeyApp].(*AppContext)
	if app.AppName != "checkout" {
		t.Errorf("unset app name not filled: %q", app.AppName)
	}
	if app.AppVersion != "1.0" {
		t.Errorf("existing app version overwritten: %q", app.AppVersion)
	}
	if _, ok := target[ContextKeyOS].(*OSContext); !ok {
		t.Error("missing context not copied")
	}
	vcs := target["vcs"].(OpaqueContext)
	if vcs["commit"] != "def456" {
		t.Errorf("existing opaque key overwritten: %v", vcs["commit"])
	}
	if vcs["branch"] != "main" {
		t.Errorf("missing opaque key not filled: %v", vcs["branch"])
	}
}

func TestContextsCopyToNilTarget(t *testing.T) {
	// An explicit nil entry in the target is unset, not a veto: the source
	// context replaces it.
	src := Contexts{ContextKeyApp: &AppContext{AppName: "checkout"}}
	target := Contexts{ContextKeyApp: nil}

	src.CopyTo(target)

	app, ok := target[ContextKeyApp].(*AppContext)
	if !ok || app.AppName != "checkout" {
		t.Errorf("nil target entry not replaced: %#v", target[ContextKeyApp])
	}
}

func TestContextsCopyToIsolation(t *testing.T) {
	src := Contexts{ContextKeyApp: &AppContext{AppName: "checkout"}}
	target := Contexts{}
	src.CopyTo(target)

	src[ContextKeyApp].(*AppContext).AppName = "changed"
	if got := target[ContextKeyApp].(*AppContext).AppName; got != "checkout" {
		t.Errorf("copied context shares memory with source: %q", got)
	}
}

func TestContextsClone(t *testing.T) {
	orig := Contexts{
		ContextKeyRuntime: &RuntimeContext{Name: "go", Version: "go1.22"},
		"vcs":             OpaqueContext{"branch": "main"},
	}
	cloned := orig.Clone()

	orig[ContextKeyRuntime].(*RuntimeContext).Version = "changed"
	orig["vcs"].(OpaqueContext)["branch"] = "changed"

	if got := cloned[ContextKeyRuntime].(*RuntimeContext).Version; got != "go1.22" {
		t.Errorf("clone shares typed context: %q", got)
	}
	if got := cloned["vcs"].(OpaqueContext)["branch"]; got != "main" {
		t.Errorf("clone shares opaque context: %v", got)
	}
}

func TestContextsSerializeSortedKeys(t *testing.T) {
	cs := Contexts{
		"zz":          OpaqueContext{"v": "1"},
		ContextKeyApp: &AppContext{AppName: "checkout"},
		"aa":          OpaqueContext{"v": "2"},
	}
	b, err := serialize(cs.WriteTo)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"aa":{"v":"2"},"app":{"type":"app","app_name":"checkout"},"zz":{"v":"1"}}`
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Errorf("contexts serialization mismatch (-want +got):\n%s", diff)
	}
}

func TestContextsParseTyped(t *testing.T) {
	in := `{"os":{"type":"os","name":"linux","version":"6.8"},"custom":{"answer":42}}`
	var event Event
	payload := `{"event_id":"9c8d5a6e3f2b49b0a1c3e5d7f9081726","timestamp":"2024-03-01T10:04:05.000Z","contexts":` + in + `}`
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		t.Fatal(err)
	}
	osCtx, ok := event.Contexts[ContextKeyOS].(*OSContext)
	if !ok {
		t.Fatalf("os context not parsed as typed: %#v", event.Contexts[ContextKeyOS])
	}
	if osCtx.Name != "linux" || osCtx.Version != "6.8" {
		t.Errorf("os context fields: %#v", osCtx)
	}
	if _, ok := event.Contexts["custom"].(OpaqueContext); !ok {
		t.Errorf("unknown context not kept opaque: %#v", event.Contexts["custom"])
	}
}
