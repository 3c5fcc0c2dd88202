// Package wire implements the JSON surface shared by every protocol entity:
// a streaming writer with uniform rules for optional fields, and a value-tree
// reader for the parse side.
//
// Writer conventions, applied by every entity's WriteTo:
//
//   - Optional scalar fields are omitted when empty: no nulls for absent
//     strings, zero counters or zero timestamps.
//   - Map and slice helpers distinguish nil from empty-but-present. The
//     default helpers omit nil collections; the Nullable variants emit an
//     explicit null for nil and {} / [] for empty, where the receiving
//     service treats the two as different signals.
//   - 64-bit addresses serialize as lowercase "0x"-prefixed hex and are
//     omitted when zero.
//   - Arbitrary user-supplied values go through the fallback contract in
//     dynamic.go, so one bad value never aborts the containing entity.
package wire

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"
)

// TimeFormat is the wire format for all protocol timestamps: UTC, millisecond
// precision, trailing Z. The receiving service is strict about breadcrumb
// timestamps matching this exact pattern.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Logf is the logger side-channel used when a dynamic value cannot be
// serialized. It must never panic.
type Logf func(format string, args ...interface{})

// Config carries serialization settings through every WriteTo call. It is
// built once at client startup; there is no process-global registry.
type Config struct {
	logf       Logf
	converters []Converter
}

// A Converter maps a user-supplied value to a JSON-serializable replacement
// before the default serialization runs. Returning ok=false passes the value
// through unchanged.
type Converter func(v interface{}) (replacement interface{}, ok bool)

// NewConfig returns a Config that logs through logf. A nil logf discards.
func NewConfig(logf Logf) *Config {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Config{logf: logf}
}

// RegisterConverter appends a converter. Converters run in registration
// order; the first one that returns ok wins.
func (c *Config) RegisterConverter(fn Converter) {
	c.converters = append(c.converters, fn)
}

func (c *Config) convert(v interface{}) interface{} {
	for _, fn := range c.converters {
		if r, ok := fn(v); ok {
			return r
		}
	}
	return v
}

// Writer builds a single JSON document with deterministic field order.
// Errors are sticky: the first failure is remembered and every later call is
// a no-op, so WriteTo implementations do not need to check errors per field.
// A Writer must not be shared between goroutines.
type Writer struct {
	cfg *Config
	buf bytes.Buffer
	err error

	// first[i] reports whether the i-th open scope already has an element.
	first      []bool
	keyPending bool
}

// NewWriter returns a Writer using cfg. A nil cfg gets a discard logger.
func NewWriter(cfg *Config) *Writer {
	if cfg == nil {
		cfg = NewConfig(nil)
	}
	return &Writer{cfg: cfg}
}

// Config returns the serialization config threaded through this writer.
func (w *Writer) Config() *Config { return w.cfg }

// Bytes returns the document written so far and the sticky error, if any.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// prefix emits the element separator, if one is due, before a value or key.
func (w *Writer) prefix() {
	if w.keyPending {
		w.keyPending = false
		return
	}
	if n := len(w.first); n > 0 {
		if w.first[n-1] {
			w.buf.WriteByte(',')
		} else {
			w.first[n-1] = true
		}
	}
}

// BeginObject opens a JSON object value.
func (w *Writer) BeginObject() {
	if w.err != nil {
		return
	}
	w.prefix()
	w.buf.WriteByte('{')
	w.first = append(w.first, false)
}

// EndObject closes the innermost object.
func (w *Writer) EndObject() {
	if w.err != nil {
		return
	}
	w.buf.WriteByte('}')
	w.first = w.first[:len(w.first)-1]
}

// BeginArray opens a JSON array value.
func (w *Writer) BeginArray() {
	if w.err != nil {
		return
	}
	w.prefix()
	w.buf.WriteByte('[')
	w.first = append(w.first, false)
}

// EndArray closes the innermost array.
func (w *Writer) EndArray() {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(']')
	w.first = w.first[:len(w.first)-1]
}

// Key writes an object key. The next value written belongs to it.
func (w *Writer) Key(name string) {
	if w.err != nil {
		return
	}
	w.prefix()
	w.writeString(name)
	w.buf.WriteByte(':')
	w.keyPending = true
}

// Null writes an explicit null value.
func (w *Writer) Null() {
	if w.err != nil {
		return
	}
	w.prefix()
	w.buf.WriteString("null")
}

// StringValue writes a string value (array element or after Key).
func (w *Writer) StringValue(v string) {
	if w.err != nil {
		return
	}
	w.prefix()
	w.writeString(v)
}

// RawValue writes pre-serialized JSON verbatim.
func (w *Writer) RawValue(raw []byte) {
	if w.err != nil {
		return
	}
	w.prefix()
	w.buf.Write(raw)
}

// String writes key/v, omitting the field when v is empty or whitespace-only.
func (w *Writer) String(key, v string) {
	if !hasContent(v) {
		return
	}
	w.Key(key)
	w.StringValue(v)
}

// StringAlways writes key/v even when v is empty. Used for fields the
// protocol requires unconditionally.
func (w *Writer) StringAlways(key, v string) {
	w.Key(key)
	w.StringValue(v)
}

// Bool writes key/v, omitting the field when v is false.
func (w *Writer) Bool(key string, v bool) {
	if !v {
		return
	}
	w.Key(key)
	w.boolValue(v)
}

// BoolPtr writes key/v, omitting the field when v is nil. Unlike Bool, an
// explicit false is written, since a set pointer means "known to be false".
func (w *Writer) BoolPtr(key string, v *bool) {
	if v == nil {
		return
	}
	w.Key(key)
	w.boolValue(*v)
}

func (w *Writer) boolValue(v bool) {
	if w.err != nil {
		return
	}
	w.prefix()
	if v {
		w.buf.WriteString("true")
	} else {
		w.buf.WriteString("false")
	}
}

// Int writes key/v, omitting the field when v is zero.
func (w *Writer) Int(key string, v int64) {
	if v == 0 {
		return
	}
	w.IntAlways(key, v)
}

// IntAlways writes key/v even when v is zero.
func (w *Writer) IntAlways(key string, v int64) {
	w.Key(key)
	if w.err != nil {
		return
	}
	w.prefix()
	w.buf.WriteString(strconv.FormatInt(v, 10))
}

// IntPtr writes key/v, omitting the field when v is nil.
func (w *Writer) IntPtr(key string, v *int64) {
	if v == nil {
		return
	}
	w.IntAlways(key, *v)
}

// Float writes key/v, omitting the field when v is zero. NaN and infinities
// are not representable in JSON and are written as null.
func (w *Writer) Float(key string, v float64) {
	if v == 0 {
		return
	}
	w.FloatAlways(key, v)
}

// FloatAlways writes key/v even when v is zero.
func (w *Writer) FloatAlways(key string, v float64) {
	w.Key(key)
	w.floatValue(v)
}

// FloatPtr writes key/v, omitting the field when v is nil.
func (w *Writer) FloatPtr(key string, v *float64) {
	if v == nil {
		return
	}
	w.FloatAlways(key, *v)
}

func (w *Writer) floatValue(v float64) {
	if w.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.prefix()
		w.buf.WriteString("null")
		return
	}
	w.prefix()
	w.buf.Write(b)
}

// Hex writes a 64-bit address as lowercase "0x"-prefixed hex, omitting the
// field when v is zero. Zero addresses mean "absent" on the wire; a
// literal "0x0" is never emitted.
func (w *Writer) Hex(key string, v uint64) {
	if v == 0 {
		return
	}
	w.Key(key)
	w.StringValue("0x" + strconv.FormatUint(v, 16))
}

// Time writes key/t in the protocol timestamp format, omitting the field
// when t is the zero time.
func (w *Writer) Time(key string, t time.Time) {
	if t.IsZero() {
		return
	}
	w.TimeAlways(key, t)
}

// TimeAlways writes key/t even for the zero time.
func (w *Writer) TimeAlways(key string, t time.Time) {
	w.Key(key)
	w.StringValue(t.UTC().Format(TimeFormat))
}

// StringSlice writes key/v as an array of strings, omitting the field when v
// is nil. An empty non-nil slice writes [].
func (w *Writer) StringSlice(key string, v []string) {
	if v == nil {
		return
	}
	w.Key(key)
	w.BeginArray()
	for _, s := range v {
		w.StringValue(s)
	}
	w.EndArray()
}

// StringMap writes key/m as an object with sorted keys, omitting the field
// when m is nil. An empty non-nil map writes {}.
func (w *Writer) StringMap(key string, m map[string]string) {
	if m == nil {
		return
	}
	w.Key(key)
	w.BeginObject()
	for _, k := range sortedKeys(m) {
		w.Key(k)
		w.StringValue(m[k])
	}
	w.EndObject()
}

// NullableStringMap is like StringMap but writes an explicit null for a nil
// map. Used where null and {} are different signals to the receiver.
func (w *Writer) NullableStringMap(key string, m map[string]string) {
	if m == nil {
		w.Key(key)
		w.Null()
		return
	}
	w.StringMap(key, m)
}

// Dynamic writes key with an arbitrary user-supplied value, omitting the
// field when v is nil. The value goes through the safe-serialization
// fallback; see dynamic.go.
func (w *Writer) Dynamic(key string, v interface{}) {
	if v == nil {
		return
	}
	w.Key(key)
	w.DynamicValue(v)
}

// DynamicValue writes an arbitrary value in value position.
func (w *Writer) DynamicValue(v interface{}) {
	if w.err != nil {
		return
	}
	w.RawValue(w.safeMarshal(v))
}

// DynamicMap writes key/m as an object with sorted keys where each value is
// an arbitrary user-supplied value, omitting the field when m is nil.
func (w *Writer) DynamicMap(key string, m map[string]interface{}) {
	if m == nil {
		return
	}
	w.Key(key)
	w.dynamicMapValue(m)
}

// NullableDynamicMap is like DynamicMap but writes an explicit null for a
// nil map.
func (w *Writer) NullableDynamicMap(key string, m map[string]interface{}) {
	if m == nil {
		w.Key(key)
		w.Null()
		return
	}
	w.DynamicMap(key, m)
}

func (w *Writer) dynamicMapValue(m map[string]interface{}) {
	w.BeginObject()
	for _, k := range sortedKeys(m) {
		w.Key(k)
		w.DynamicValue(m[k])
	}
	w.EndObject()
}

const hexDigits = "0123456789abcdef"

// writeString writes a quoted, escaped JSON string.
func (w *Writer) writeString(s string) {
	w.buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			if b >= 0x20 && b != '"' && b != '\\' {
				i++
				continue
			}
			w.buf.WriteString(s[start:i])
			switch b {
			case '"':
				w.buf.WriteString(`\"`)
			case '\\':
				w.buf.WriteString(`\\`)
			case '\n':
				w.buf.WriteString(`\n`)
			case '\r':
				w.buf.WriteString(`\r`)
			case '\t':
				w.buf.WriteString(`\t`)
			default:
				w.buf.WriteString(`\u00`)
				w.buf.WriteByte(hexDigits[b>>4])
				w.buf.WriteByte(hexDigits[b&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid byte: substitute U+FFFD like encoding/json does.
			w.buf.WriteString(s[start:i])
			w.buf.WriteString(`\ufffd`)
			i++
			start = i
			continue
		}
		i += size
	}
	w.buf.WriteString(s[start:])
	w.buf.WriteByte('"')
}

func hasContent(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
