package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind enumerates the JSON shapes a Value can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Value is a typed view over decoded provider JSON. Payload shapes differ
// per provider and per form, so nothing downstream assumes a schema; fields
// are pulled out with ordered dotted-path lookups instead.
//
// Numbers are kept as their original literals (json.Number) so that
// canonical serialization and id extraction never reformat them.
type Value struct {
	kind ValueKind
	str  string
	num  json.Number
	b    bool
	obj  map[string]Value
	arr  []Value
}

// ParseValue decodes raw JSON into a Value. Number literals are preserved.
func ParseValue(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Value{}, fmt.Errorf("parse payload: %w", err)
	}
	// Reject trailing garbage after the first JSON value.
	if dec.More() {
		return Value{}, fmt.Errorf("parse payload: trailing data")
	}
	return fromDecoded(v), nil
}

func fromDecoded(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Value{kind: KindNull}
	case string:
		return Value{kind: KindString, str: t}
	case json.Number:
		return Value{kind: KindNumber, num: t}
	case bool:
		return Value{kind: KindBool, b: t}
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, mv := range t {
			obj[k] = fromDecoded(mv)
		}
		return Value{kind: KindObject, obj: obj}
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, av := range t {
			arr = append(arr, fromDecoded(av))
		}
		return Value{kind: KindArray, arr: arr}
	default:
		// encoding/json never produces other types from a generic decode
		return Value{kind: KindNull}
	}
}

// Object builds an object Value from already-typed members.
func Object(members map[string]Value) Value {
	return Value{kind: KindObject, obj: members}
}

// String builds a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Kind returns the JSON shape of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is JSON null (or the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// Member returns the named member of an object value.
func (v Value) Member(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Index returns the i-th element of an array value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Text renders scalar values as strings: strings as-is, numbers as their
// original literal, bools as "true"/"false". Objects, arrays, and null
// render empty. Providers disagree on whether ids are JSON strings or
// numbers, so id extraction goes through here.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// GetPath traverses a dotted path ("lead.contact.email") through nested
// objects. A numeric segment indexes into an array. Missing segments return
// false.
func GetPath(v Value, path string) (Value, bool) {
	current := v
	for _, segment := range strings.Split(path, ".") {
		if idx, err := strconv.Atoi(segment); err == nil && current.kind == KindArray {
			next, ok := current.Index(idx)
			if !ok {
				return Value{}, false
			}
			current = next
			continue
		}
		next, ok := current.Member(segment)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// FirstString returns the first non-empty trimmed scalar found by trying
// each path in order. This is the normalizer's core primitive: different
// providers nest the same semantic field at different paths.
func FirstString(v Value, paths ...string) string {
	for _, path := range paths {
		found, ok := GetPath(v, path)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(found.Text()); text != "" {
			return text
		}
	}
	return ""
}
