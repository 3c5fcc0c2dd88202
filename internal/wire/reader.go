package wire

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Node is one value in a parsed JSON tree. The zero Node reports absent.
// Numbers are kept as json.Number so that string-encoded numerics from
// native-interop payloads and exact literals both survive a round trip.
type Node struct {
	v       interface{}
	present bool
}

// Parse decodes a JSON document into a Node tree.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Node{}, &ParseError{Field: "(document)", Reason: "malformed JSON: " + err.Error()}
	}
	return Node{v: v, present: true}, nil
}

// NodeOf wraps an already-decoded JSON value.
func NodeOf(v interface{}) Node {
	return Node{v: v, present: true}
}

// Exists reports whether the node was present in the document at all.
// A present null reports true; use IsNull to tell the two apart.
func (n Node) Exists() bool { return n.present }

// IsNull reports whether the node is a present JSON null.
func (n Node) IsNull() bool { return n.present && n.v == nil }

// Raw returns the underlying decoded value (map[string]interface{},
// []interface{}, json.Number, string, bool or nil).
func (n Node) Raw() interface{} { return n.v }

// Get returns the named member of an object node. Missing members and
// non-object nodes report an absent Node.
func (n Node) Get(key string) Node {
	obj, ok := n.v.(map[string]interface{})
	if !ok {
		return Node{}
	}
	v, ok := obj[key]
	if !ok {
		return Node{}
	}
	return Node{v: v, present: true}
}

// Keys returns the sorted member names of an object node.
func (n Node) Keys() []string {
	obj, ok := n.v.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Array returns the elements of an array node.
func (n Node) Array() ([]Node, bool) {
	arr, ok := n.v.([]interface{})
	if !ok {
		return nil, false
	}
	nodes := make([]Node, len(arr))
	for i, v := range arr {
		nodes[i] = Node{v: v, present: true}
	}
	return nodes, true
}

// Str returns the node as a string.
func (n Node) Str() (string, bool) {
	s, ok := n.v.(string)
	return s, ok
}

// Bool returns the node as a bool.
func (n Node) Bool() (bool, bool) {
	b, ok := n.v.(bool)
	return b, ok
}

// Float64 returns the node as a float64. Both native numbers and
// string-encoded numbers are accepted; some native-interop producers ship
// floats as strings.
func (n Node) Float64() (float64, bool) {
	switch v := n.v.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Int64 returns the node as an int64, accepting native and string-encoded
// numbers.
func (n Node) Int64() (int64, bool) {
	switch v := n.v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Uint64 returns the node as a uint64, accepting native and string-encoded
// numbers.
func (n Node) Uint64() (uint64, bool) {
	switch v := n.v.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return u, true
		}
	case string:
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u, true
		}
	}
	return 0, false
}

// Hex returns the node as a 64-bit address. Addresses arrive as
// "0x"-prefixed hex strings, but plain numbers are accepted too.
func (n Node) Hex() (uint64, bool) {
	if s, ok := n.v.(string); ok {
		if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
			u, err := strconv.ParseUint(s[2:], 16, 64)
			return u, err == nil
		}
	}
	return n.Uint64()
}

// Time returns the node as a timestamp. RFC 3339 strings with any
// sub-second precision are accepted.
func (n Node) Time() (time.Time, bool) {
	s, ok := n.v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// StringMap returns an object node as map[string]string. Non-string member
// values are skipped. A null node returns nil; an empty object returns an
// empty non-nil map, preserving the wire distinction.
func (n Node) StringMap() map[string]string {
	obj, ok := n.v.(map[string]interface{})
	if !ok {
		return nil
	}
	m := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return m
}

// DynamicMap returns an object node as map[string]interface{} with raw
// decoded values. A null node returns nil; an empty object returns an empty
// non-nil map.
func (n Node) DynamicMap() map[string]interface{} {
	obj, ok := n.v.(map[string]interface{})
	if !ok {
		return nil
	}
	m := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		m[k] = v
	}
	return m
}

// StringSlice returns an array node as []string, skipping non-strings.
func (n Node) StringSlice() []string {
	arr, ok := n.v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RequiredStr returns the named member as a string or a *ParseError naming
// the missing field.
func (n Node) RequiredStr(field string) (string, error) {
	m := n.Get(field)
	if !m.Exists() || m.IsNull() {
		return "", missingField(field)
	}
	s, ok := m.Str()
	if !ok {
		return "", wrongShape(field, "string")
	}
	return s, nil
}

// RequiredTime returns the named member as a timestamp or a *ParseError.
func (n Node) RequiredTime(field string) (time.Time, error) {
	m := n.Get(field)
	if !m.Exists() || m.IsNull() {
		return time.Time{}, missingField(field)
	}
	t, ok := m.Time()
	if !ok {
		return time.Time{}, wrongShape(field, "timestamp")
	}
	return t, nil
}
