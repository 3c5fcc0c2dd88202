package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writerOutput(t *testing.T, fn func(w *Writer)) string {
	t.Helper()
	w := NewWriter(nil)
	fn(w)
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestWriterConditionalEmission(t *testing.T) {
	tests := []struct {
		name string
		fn   func(w *Writer)
		want string
	}{
		{
			"empty strings omitted",
			func(w *Writer) {
				w.BeginObject()
				w.String("a", "")
				w.String("b", "   ")
				w.String("c", "x")
				w.EndObject()
			},
			`{"c":"x"}`,
		},
		{
			"zero numbers omitted",
			func(w *Writer) {
				w.BeginObject()
				w.Int("n", 0)
				w.Float("f", 0)
				w.IntAlways("m", 0)
				w.EndObject()
			},
			`{"m":0}`,
		},
		{
			"zero time omitted",
			func(w *Writer) {
				w.BeginObject()
				w.Time("t", time.Time{})
				w.Time("u", time.Date(2024, 3, 1, 10, 4, 5, 120e6, time.UTC))
				w.EndObject()
			},
			`{"u":"2024-03-01T10:04:05.120Z"}`,
		},
		{
			"bool pointer keeps explicit false",
			func(w *Writer) {
				f := false
				w.BeginObject()
				w.Bool("a", false)
				w.BoolPtr("b", &f)
				w.BoolPtr("c", nil)
				w.EndObject()
			},
			`{"b":false}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := writerOutput(t, tt.fn)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriterNilVersusEmptyCollections(t *testing.T) {
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.StringMap("omitted", nil)
		w.StringMap("empty", map[string]string{})
		w.NullableStringMap("null", nil)
		w.StringSlice("list", []string{})
		w.NullableDynamicMap("dyn", nil)
		w.EndObject()
	})
	want := `{"empty":{},"null":null,"list":[],"dyn":null}`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterHexAddresses(t *testing.T) {
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.Hex("zero", 0)
		w.Hex("addr", 4096)
		w.EndObject()
	})
	want := `{"addr":"0x1000"}`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterSortsMapKeys(t *testing.T) {
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.StringMap("m", map[string]string{"b": "2", "a": "1", "c": "3"})
		w.EndObject()
	})
	want := `{"m":{"a":"1","b":"2","c":"3"}}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWriterStringEscaping(t *testing.T) {
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.String("m", "line1\nline2\t\"quoted\" \\ \x01")
		w.EndObject()
	})
	want := `{"m":"line1\nline2\t\"quoted\" \\ \u0001"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWriterInvalidUTF8(t *testing.T) {
	// Invalid bytes are replaced with U+FFFD, matching encoding/json.
	input := "valid \xff\xfe tail \xc3"
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.String("m", input)
		w.EndObject()
	})
	want := `{"m":"valid \ufffd\ufffd tail \ufffd"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	std, err := json.Marshal(input)
	if err != nil {
		t.Fatal(err)
	}
	var fromStd, fromWriter map[string]string
	if err := json.Unmarshal([]byte(`{"m":`+string(std)+`}`), &fromStd); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(got), &fromWriter); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(fromStd, fromWriter); diff != "" {
		t.Errorf("mismatch with encoding/json (-want +got):\n%s", diff)
	}
}

func TestWriterNestedArrays(t *testing.T) {
	got := writerOutput(t, func(w *Writer) {
		w.BeginObject()
		w.Key("frames")
		w.BeginArray()
		for _, fn := range []string{"main", "run"} {
			w.BeginObject()
			w.String("function", fn)
			w.EndObject()
		}
		w.EndArray()
		w.EndObject()
	})
	want := `{"frames":[{"function":"main"},{"function":"run"}]}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestConfigConverter(t *testing.T) {
	cfg := NewConfig(nil)
	cfg.RegisterConverter(func(v interface{}) (interface{}, bool) {
		if d, ok := v.(time.Duration); ok {
			return d.String(), true
		}
		return nil, false
	})
	w := NewWriter(cfg)
	w.BeginObject()
	w.Dynamic("elapsed", 1500*time.Millisecond)
	w.EndObject()
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"elapsed":"1.5s"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
