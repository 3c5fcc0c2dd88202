package util

import (
	"maps"
	"reflect"
	"slices"
)

type seenKey struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
	cap  int
}

func newSeenKey(v reflect.Value) seenKey {
	key := seenKey{kind: v.Kind()}

	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		key.ptr = v.Pointer()
	case reflect.Slice:
		key.ptr = v.Pointer()
		key.len = v.Len()
		key.cap = v.Cap()
	}

	return key
}

// Deepcopy deep-copies the mutable containers that show up in telemetry
// payloads: maps, slices and pointers, recursively. Cycles in the input are
// mirrored in the copy instead of looping. Values that cannot be copied
// (channels, funcs, structs with unexported state) are returned as-is.
func Deepcopy(v any) any {
	if v == nil {
		return nil
	}

	// Fast paths for the common payload container types.
	switch t := v.(type) {
	case []byte:
		return slices.Clone(t)
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	}

	return copyValue(reflect.ValueOf(v), make(map[seenKey]reflect.Value)).Interface()
}

func copyValue(v reflect.Value, seen map[seenKey]reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(copyValue(v.Elem(), seen))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := newSeenKey(v)
		if cloned, ok := seen[key]; ok {
			return cloned
		}
		clone := reflect.New(v.Type().Elem())
		seen[key] = clone
		clone.Elem().Set(copyValue(v.Elem(), seen))
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := newSeenKey(v)
		if cloned, ok := seen[key]; ok {
			return cloned
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		seen[key] = clone
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := newSeenKey(v)
		if cloned, ok := seen[key]; ok {
			return cloned
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		seen[key] = clone
		for _, mk := range v.MapKeys() {
			clone.SetMapIndex(copyValue(mk, seen), copyValue(v.MapIndex(mk), seen))
		}
		return clone
	default:
		return v
	}
}
