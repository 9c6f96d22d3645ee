package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// ValueKind discriminates the variants of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged union over the JSON scalar and container types. It is
// the in-memory form of record metadata and message content; the persisted
// form is plain JSON. The zero Value is null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	obj  map[string]Value
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }
func IntValue(i int) Value        { return Value{kind: KindNumber, num: float64(i)} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NullValue() Value            { return Value{} }
func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: items}
}
func MapValue(m map[string]Value) Value {
	return Value{kind: KindMap, obj: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return int(v.num), true
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

func (v Value) AsMap() (map[string]Value, bool) {
	return v.obj, v.kind == KindMap
}

// StringOr returns the string variant or def for any other kind.
func (v Value) StringOr(def string) string {
	if v.kind == KindString {
		return v.str
	}
	return def
}

// Text renders the value for display. Strings render bare; containers
// render as compact JSON.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded-JSON value (or common Go scalars) into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return IntValue(t), nil
	case int64:
		return NumberValue(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return ListValue(items...), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return MapValue(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported metadata value type %T", raw)
}

// ToAny converts a Value back into the plain decoded-JSON representation.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.ToAny()
		}
		return out
	}
	return nil
}

// ValueEqual compares two values structurally.
func ValueEqual(a, b Value) bool {
	return reflect.DeepEqual(a.ToAny(), b.ToAny())
}

// Metadata is the string-keyed metadata map attached to records, messages,
// thoughts, and session entries.
type Metadata map[string]Value

// MetadataFromAny converts a decoded-JSON object into Metadata.
func MetadataFromAny(raw map[string]any) (Metadata, error) {
	md := make(Metadata, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, err
		}
		md[k] = v
	}
	return md, nil
}

// GetString returns the string at key, or "" when absent or non-string.
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	return m[key].StringOr("")
}

// GetInt returns the number at key truncated to int.
func (m Metadata) GetInt(key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	return m[key].AsInt()
}

// GetBool returns the bool at key.
func (m Metadata) GetBool(key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	return m[key].AsBool()
}

// Clone returns a shallow copy; Values are immutable by convention so a
// shallow copy is safe for independent mutation of the map itself.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
