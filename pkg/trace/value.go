package trace

import (
	"bytes"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// Value is a serialization-safe payload: Null, Bool, Int, Float, String, List
// or Map. No other implementation exists.
type Value interface {
	// Plain returns the value as nil, bool, int64, float64, string, []any or
	// map[string]any.
	Plain() any
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	List   []Value
	Map    map[string]Value
)

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}

func (Null) Plain() any     { return nil }
func (x Bool) Plain() any   { return bool(x) }
func (x Int) Plain() any    { return int64(x) }
func (x Float) Plain() any  { return float64(x) }
func (x String) Plain() any { return string(x) }

func (x List) Plain() any {
	out := make([]any, len(x))
	for i, v := range x {
		out[i] = plain(v)
	}
	return out
}

func (x Map) Plain() any {
	out := make(map[string]any, len(x))
	for k, v := range x {
		out[k] = plain(v)
	}
	return out
}

func plain(v Value) any {
	if v == nil {
		return nil
	}
	return v.Plain()
}

func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Text returns the string under key, or "" when absent or not a string.
func (x Map) Text(key string) string {
	if s, ok := x[key].(String); ok {
		return string(s)
	}
	return ""
}

// ParseJSON decodes a JSON document into a Value. Integers stay Int.
func ParseJSON(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Null{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, goerr.Wrap(err, "failed to decode trace value")
	}
	return Normalize(raw), nil
}

// Render returns a compact JSON rendering of v, used for display.
func Render(v Value) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(String); ok {
		return string(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "<unrenderable>"
	}
	return string(b)
}
