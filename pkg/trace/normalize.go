package trace

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const maxDepth = 32

// PlainData is implemented by rich types that know how to reduce themselves to
// maps, slices and scalars.
type PlainData interface {
	ToPlain() any
}

// Normalize reduces an arbitrary value to a Value. It never panics: a field
// that cannot be reduced becomes its string rendering, and if the whole value
// fails the result is the string rendering of the whole value.
func Normalize(v any) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(v)
		}
	}()

	n := &normalizer{seen: make(map[visit]struct{})}
	return n.value(v, 0)
}

// fallback renders v as text. Containers are never handed to fmt, which has
// no cycle detection and would overflow the stack on a self-referencing value.
func fallback(v any) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = String(fmt.Sprintf("<unrenderable %T>", v))
		}
	}()

	switch v.(type) {
	case error, fmt.Stringer:
		return text(fmt.Sprintf("%+v", v))
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer, reflect.Interface:
		return String(fmt.Sprintf("<%T>", v))
	}
	return text(fmt.Sprintf("%+v", v))
}

// text keeps valid UTF-8 as is. Anything else is base64 encoded, since JSON
// encoding would replace the invalid bytes.
func text(s string) Value {
	if utf8.ValidString(s) {
		return String(s)
	}
	return String(base64.StdEncoding.EncodeToString([]byte(s)))
}

// visit identifies a reference already on the current path. Slices sharing a
// backing array differ by length, so the length is part of the key.
type visit struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type normalizer struct {
	seen map[visit]struct{}
}

// enter marks a reference as being on the path; false means a cycle.
func (n *normalizer) enter(k visit) bool {
	if _, ok := n.seen[k]; ok {
		return false
	}
	n.seen[k] = struct{}{}
	return true
}

// safe isolates one field so a panic only degrades that field.
func (n *normalizer) safe(v any, depth int) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(v)
		}
	}()
	return n.value(v, depth)
}

func (n *normalizer) value(v any, depth int) Value {
	if v == nil {
		return Null{}
	}
	if depth > maxDepth {
		return String(fmt.Sprintf("<truncated %T>", v))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return Null{}
		}
	}

	switch x := v.(type) {
	case Null:
		return x
	case Bool:
		return x
	case Int:
		return x
	case Float:
		return float(float64(x))
	case String:
		return text(string(x))
	case bool:
		return Bool(x)
	case string:
		return text(x)
	case int:
		return Int(x)
	case int8:
		return Int(x)
	case int16:
		return Int(x)
	case int32:
		return Int(x)
	case int64:
		return Int(x)
	case uint:
		return unsigned(uint64(x))
	case uint8:
		return Int(x)
	case uint16:
		return Int(x)
	case uint32:
		return Int(x)
	case uint64:
		return unsigned(x)
	case float32:
		return float(float64(x))
	case float64:
		return float(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		if f, err := x.Float64(); err == nil {
			return float(f)
		}
		return String(x.String())
	case []byte:
		if utf8.Valid(x) {
			return String(x)
		}
		return String(base64.StdEncoding.EncodeToString(x))
	case json.RawMessage:
		return n.decoded(x, depth)
	case time.Time:
		return String(x.Format(time.RFC3339Nano))
	case time.Duration:
		return String(x.String())
	case error:
		return text(x.Error())
	case PlainData:
		return n.safe(x.ToPlain(), depth+1)
	case json.Marshaler:
		b, err := x.MarshalJSON()
		if err != nil {
			return fallback(v)
		}
		return n.decoded(b, depth)
	case fmt.Stringer:
		return text(x.String())
	}

	return n.reflect(rv, depth)
}

func (n *normalizer) decoded(b []byte, depth int) Value {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return text(string(b))
	}
	return n.safe(raw, depth+1)
}

func (n *normalizer) reflect(rv reflect.Value, depth int) Value {
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return unsigned(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return float(rv.Float())
	case reflect.String:
		return text(rv.String())

	case reflect.Pointer:
		k := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if !n.enter(k) {
			return String(fmt.Sprintf("<cycle %s>", rv.Type()))
		}
		defer delete(n.seen, k)
		return n.safe(rv.Elem().Interface(), depth+1)

	case reflect.Interface:
		return n.safe(rv.Elem().Interface(), depth+1)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			k := visit{ptr: rv.Pointer(), typ: rv.Type(), n: rv.Len()}
			if !n.enter(k) {
				return String(fmt.Sprintf("<cycle %s>", rv.Type()))
			}
			defer delete(n.seen, k)
		}
		out := make(List, rv.Len())
		for i := range rv.Len() {
			out[i] = n.safe(rv.Index(i).Interface(), depth+1)
		}
		return out

	case reflect.Map:
		k := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if !n.enter(k) {
			return String(fmt.Sprintf("<cycle %s>", rv.Type()))
		}
		defer delete(n.seen, k)

		out := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := string(text(fmt.Sprint(iter.Key().Interface())).(String))
			out[key] = n.safe(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		return n.structValue(rv, depth)
	}

	return fallback(rv.Interface())
}

func (n *normalizer) structValue(rv reflect.Value, depth int) Value {
	t := rv.Type()
	out := make(Map, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, opts, _ := strings.Cut(tag, ",")
			if tagName == "-" && opts == "" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = n.safe(rv.Field(i).Interface(), depth+1)
	}

	if len(out) == 0 && t.NumField() > 0 {
		return fallback(rv.Interface())
	}
	return out
}

func unsigned(u uint64) Value {
	if u > math.MaxInt64 {
		return String(strconv.FormatUint(u, 10))
	}
	return Int(int64(u))
}

func float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Float(f)
}
