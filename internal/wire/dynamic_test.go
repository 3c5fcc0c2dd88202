package wire

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestSafeMarshalPlainValues(t *testing.T) {
	w := NewWriter(nil)
	w.BeginObject()
	w.Dynamic("s", "text")
	w.Dynamic("n", 42)
	w.Dynamic("m", map[string]interface{}{"k": true})
	w.EndObject()
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"s":"text","n":42,"m":{"k":true}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestSafeMarshalCyclicValue(t *testing.T) {
	var logged []string
	cfg := NewConfig(func(format string, args ...interface{}) {
		logged = append(logged, format)
	})

	cycle := map[string]interface{}{}
	cycle["self"] = cycle

	w := NewWriter(cfg)
	w.BeginObject()
	w.String("message", "kept")
	w.Dynamic("bad", cycle)
	w.String("after", "also kept")
	w.EndObject()

	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"message":"kept","bad":{},"after":"also kept"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
	if len(logged) != 1 {
		t.Errorf("want exactly 1 logged failure, got %d", len(logged))
	}
	if !json.Valid(b) {
		t.Error("output is not valid JSON")
	}
}

type panickyMarshaler struct{}

func (panickyMarshaler) MarshalJSON() ([]byte, error) { panic("boom") }

func TestSafeMarshalPanickingMarshaler(t *testing.T) {
	logs := 0
	cfg := NewConfig(func(string, ...interface{}) { logs++ })

	w := NewWriter(cfg)
	w.BeginObject()
	w.Dynamic("bad", panickyMarshaler{})
	w.EndObject()
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"bad":{}}` {
		t.Errorf("got %s", b)
	}
	if logs != 1 {
		t.Errorf("want 1 log, got %d", logs)
	}
}

func TestSafeMarshalRecoversUnsupportedLeaves(t *testing.T) {
	// A func value makes the direct marshal fail; the sanitized retry drops
	// just that leaf instead of replacing the whole map.
	v := map[string]interface{}{
		"fn":   func() {},
		"kept": "value",
		"nan":  math.NaN(),
	}
	w := NewWriter(nil)
	w.BeginObject()
	w.Dynamic("data", v)
	w.EndObject()
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"kept":"value"`) {
		t.Errorf("sanitized retry lost a good leaf: %s", s)
	}
	if !strings.Contains(s, `"fn":null`) || !strings.Contains(s, `"nan":null`) {
		t.Errorf("unsupported leaves should degrade to null: %s", s)
	}
}
