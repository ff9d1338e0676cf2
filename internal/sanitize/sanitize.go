// Package sanitize reduces arbitrary values to a bounded, log-safe tree.
//
// The output is made of map[string]any, []any, strings, numbers, bools and
// nil. Nesting deeper than MaxDepth is replaced by a marker, binary payloads
// become a length marker, long strings are cut, strings under keys that carry
// encoded blobs collapse to a length marker, and reference cycles are marked.
// Sanitizing an already sanitized value returns it unchanged.
package sanitize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxDepth is the deepest nesting level kept verbatim.
	MaxDepth = 5
	// MaxString is the longest string, in runes, kept verbatim.
	MaxString = 200

	DepthMarker    = "<<max-depth>>"
	CircularMarker = "<<circular>>"
	truncSuffix    = "...[truncated]"
)

// Snapshotter lets a type choose its own loggable form. The result is
// sanitized like any other value.
type Snapshotter interface {
	Snapshot() any
}

// Value returns the sanitized form of v.
func Value(v any) any {
	w := walker{path: map[uintptr]bool{}}
	return w.walk(reflect.ValueOf(v), "", 0)
}

// JSON returns the sanitized form of v encoded as JSON. Encoding failures
// yield an empty object.
func JSON(v any) string {
	b, err := json.Marshal(Value(v))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// String cuts s to MaxString runes, suffix included.
func String(s string) string {
	if utf8.RuneCountInString(s) <= MaxString {
		return s
	}
	r := []rune(s)
	return string(r[:MaxString-utf8.RuneCountInString(truncSuffix)]) + truncSuffix
}

type walker struct {
	// ancestors of the value being visited, keyed by address
	path map[uintptr]bool
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	snapType  = reflect.TypeOf((*Snapshotter)(nil)).Elem()
)

func (w *walker) walk(v reflect.Value, key string, depth int) any {
	if depth > MaxDepth {
		return DepthMarker
	}
	if !v.IsValid() {
		return nil
	}

	if v.Type().Implements(snapType) && !isNilish(v) {
		if addr, ok := w.enter(v); ok {
			defer w.leave(addr)
			return w.walk(reflect.ValueOf(v.Interface().(Snapshotter).Snapshot()), key, depth)
		}
		return CircularMarker
	}
	if v.Type().Implements(errorType) && !isNilish(v) {
		return map[string]any{
			"type":    fmt.Sprintf("%T", v.Interface()),
			"message": String(v.Interface().(error).Error()),
		}
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), key, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		addr, ok := w.enter(v)
		if !ok {
			return CircularMarker
		}
		defer w.leave(addr)
		return w.walk(v.Elem(), key, depth)

	case reflect.String:
		return w.str(key, v.String())

	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()

	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("[Buffer length=%d]", v.Len())
		}
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				return nil
			}
			if v.Len() > 0 {
				addr, ok := w.enter(v)
				if !ok {
					return CircularMarker
				}
				defer w.leave(addr)
			}
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = w.walk(v.Index(i), key, depth+1)
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr, ok := w.enter(v)
		if !ok {
			return CircularMarker
		}
		defer w.leave(addr)
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			out[k] = w.walk(iter.Value(), k, depth+1)
		}
		return out

	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
		}
		return w.structure(v, depth)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("<<%s>>", v.Kind())
	}
	return fmt.Sprint(v.Interface())
}

func (w *walker) structure(v reflect.Value, depth int) any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = w.walk(v.Field(i), name, depth+1)
	}
	return out
}

func (w *walker) str(key, s string) string {
	n := utf8.RuneCountInString(s)
	if n <= MaxString {
		return s
	}
	lk := strings.ToLower(key)
	if strings.Contains(lk, "b64") || strings.Contains(lk, "base64") || strings.Contains(lk, "result") {
		return fmt.Sprintf("<<%s truncated, length=%d>>", lk, len(s))
	}
	return String(s)
}

func (w *walker) enter(v reflect.Value) (uintptr, bool) {
	var addr uintptr
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		addr = v.Pointer()
	default:
		return 0, true
	}
	if w.path[addr] {
		return addr, false
	}
	w.path[addr] = true
	return addr, true
}

func (w *walker) leave(addr uintptr) {
	if addr != 0 {
		delete(w.path, addr)
	}
}

func isNilish(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
