package wire

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
)

// placeholder replaces a value that could not be serialized. Emitting an
// empty object instead of failing bounds the blast radius of one bad value
// to that one field.
var placeholder = []byte("{}")

var errCyclicValue = errors.New("wire: cyclic value")

// safeMarshal serializes an arbitrary user-supplied value. The contract:
// attempt direct serialization; on failure retry once on a sanitized copy;
// if the value is genuinely unserializable (cyclic, or panicking in a
// custom marshaler), emit an empty object placeholder and log the failure.
// Exactly one log line is produced per failed value.
func (w *Writer) safeMarshal(v interface{}) []byte {
	v = w.cfg.convert(v)

	b, err := json.Marshal(v)
	if err == nil {
		return b
	}

	b, retryErr := marshalSanitized(v)
	if retryErr == nil {
		return b
	}

	w.cfg.logf("replacing unserializable value with placeholder: %v", err)
	return placeholder
}

func marshalSanitized(v interface{}) (b []byte, err error) {
	// MarshalJSON implementations on user types may panic; treat that the
	// same as a serialization error.
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, errors.New("wire: panic during serialization")
		}
	}()
	s, err := sanitize(reflect.ValueOf(v), make(map[uintptr]bool), 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// maxSanitizeDepth caps recursion for degenerate object graphs that grow a
// fresh node per level and therefore never revisit a pointer.
const maxSanitizeDepth = 64

// sanitize converts v into a tree of JSON-safe values: unsupported kinds
// (chan, func, unsafe pointers) become nil, NaN and infinities become nil,
// structs are kept when they serialize cleanly on their own and dropped to
// nil otherwise. A cycle is a hard error; the caller falls back to the
// placeholder for the whole value.
func sanitize(v reflect.Value, seen map[uintptr]bool, depth int) (interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if depth > maxSanitizeDepth {
		return nil, errCyclicValue
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return sanitize(v.Elem(), seen, depth+1)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		p := v.Pointer()
		if seen[p] {
			return nil, errCyclicValue
		}
		seen[p] = true
		defer delete(seen, p)
		return sanitize(v.Elem(), seen, depth+1)
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		p := v.Pointer()
		if seen[p] {
			return nil, errCyclicValue
		}
		seen[p] = true
		defer delete(seen, p)
		out := make(map[string]interface{}, v.Len())
		for _, k := range v.MapKeys() {
			key, ok := mapKeyString(k)
			if !ok {
				continue
			}
			val, err := sanitize(v.MapIndex(k), seen, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				return nil, nil
			}
			p := v.Pointer()
			if seen[p] {
				return nil, errCyclicValue
			}
			seen[p] = true
			defer delete(seen, p)
		}
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			val, err := sanitize(v.Index(i), seen, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil, nil
	case reflect.Struct:
		if !v.CanInterface() {
			return nil, nil
		}
		if b, err := json.Marshal(v.Interface()); err == nil {
			return json.RawMessage(b), nil
		}
		return nil, nil
	default:
		if !v.CanInterface() {
			return nil, nil
		}
		return v.Interface(), nil
	}
}

func mapKeyString(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if s, ok := k.Interface().(interface{ String() string }); ok {
		return s.String(), true
	}
	return "", false
}
