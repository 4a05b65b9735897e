package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the payload value types.
// Only String, Int, Bool, List and Object implement it.
type Value interface {
	recordValue()
}

// String is a string payload value.
type String string

func (String) recordValue() {}

// Int is an integer payload value. Always int64, never a float.
type Int int64

func (Int) recordValue() {}

// Bool is a boolean payload value.
type Bool bool

func (Bool) recordValue() {}

// List is an ordered list of values.
type List []Value

func (List) recordValue() {}

// Object maps string keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) recordValue() {}

// F is a key/value pair for ergonomic Object construction.
type F struct {
	Key   string
	Value Value
}

// NewObject builds an Object from fields.
//
//	record.NewObject(record.F{"id", record.String("u-1")}, record.F{"tokens", record.Int(150)})
func NewObject(fields ...F) Object {
	obj := make(Object, len(fields))
	for _, f := range fields {
		obj[f.Key] = f.Value
	}
	return obj
}

// GetString returns the string stored under key.
func (o Object) GetString(key string) (string, bool) {
	v, ok := o[key].(String)
	return string(v), ok
}

// GetInt returns the integer stored under key.
func (o Object) GetInt(key string) (int64, bool) {
	v, ok := o[key].(Int)
	return int64(v), ok
}

// Clone returns a deep copy. A nil Object clones to nil.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// ToGo converts the Object into plain Go values (string, int64, bool,
// []any, map[string]any).
func (o Object) ToGo() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = toGo(v)
	}
	return out
}

func toGo(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = toGo(elem)
		}
		return out
	case Object:
		return val.ToGo()
	default:
		return nil
	}
}

// SortedKeys returns keys ordered by UTF-16 code units (RFC 8785).
// Go's native string order compares UTF-8 bytes, which differs for
// characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// FromGo converts a decoded Go value into a Value.
//
// Accepts the shapes produced by encoding/json (with UseNumber) and
// gopkg.in/yaml.v3: strings, any integer type, integral float64,
// json.Number, bool, []any, map[string]any and map[any]any with string keys.
// Nulls and non-integral numbers are rejected.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not allowed in records")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return nil, fmt.Errorf("floats are not allowed in records: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed in records: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			rv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any:
		return ObjectFromGo(val)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			m[ks] = elem
		}
		return ObjectFromGo(m)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// ObjectFromGo converts a map into an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, elem := range m {
		rv, err := FromGo(elem)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		obj[k] = rv
	}
	return obj, nil
}

// MarshalJSON encodes the Object canonically. A nil Object encodes as null.
func (o Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	return Marshal(o)
}

// UnmarshalJSON decodes a JSON object, keeping integers exact and
// rejecting floats and nulls. A JSON null decodes to a nil Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*o = nil
		return nil
	}
	obj, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// Unmarshal parses a JSON object into an Object.
func Unmarshal(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode record: expected a JSON object")
	}
	return ObjectFromGo(raw)
}
