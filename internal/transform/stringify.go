package transform

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// SafeStringify encodes v as JSON. Values encoding/json refuses (reference
// cycles, NaN and infinities) do not fail the encode: a cyclic reference is
// replaced with the placeholder "[Circular ~<path>]", where path names the
// ancestor being referenced, and non-finite floats become null.
func SafeStringify(v any) (string, error) {
	b, err := json.Marshal(v)
	if err == nil {
		return string(b), nil
	}
	var unsupported *json.UnsupportedValueError
	if !errors.As(err, &unsupported) {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	w := &walker{}
	tree := w.walk(reflect.ValueOf(v), "~")
	b, err = json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encoding decycled state: %w", err)
	}
	return string(b), nil
}

// walker converts a value into a tree of maps, slices and scalars while
// tracking the chain of reference-typed ancestors.
type walker struct {
	stack []uintptr
	paths []string
}

func (w *walker) enter(ptr uintptr, path string) (placeholder string, cyclic bool) {
	for i, p := range w.stack {
		if p == ptr {
			return "[Circular " + w.paths[i] + "]", true
		}
	}
	w.stack = append(w.stack, ptr)
	w.paths = append(w.paths, path)
	return "", false
}

func (w *walker) leave() {
	w.stack = w.stack[:len(w.stack)-1]
	w.paths = w.paths[:len(w.paths)-1]
}

func (w *walker) walk(v reflect.Value, path string) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}

	if raw, ok := marshalled(v); ok {
		return raw
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), path)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if placeholder, cyclic := w.enter(v.Pointer(), path); cyclic {
			return placeholder
		}
		defer w.leave()
		return w.walk(v.Elem(), path)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if placeholder, cyclic := w.enter(v.Pointer(), path); cyclic {
			return placeholder
		}
		defer w.leave()
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := mapKey(iter.Key())
			out[key] = w.walk(iter.Value(), path+"."+key)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		if placeholder, cyclic := w.enter(v.Pointer(), path); cyclic {
			return placeholder
		}
		defer w.leave()
		return w.walkList(v, path)

	case reflect.Array:
		return w.walkList(v, path)

	case reflect.Struct:
		return w.walkStruct(v, path)

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f

	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil

	default:
		return v.Interface()
	}
}

func (w *walker) walkList(v reflect.Value, path string) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = w.walk(v.Index(i), path+"."+strconv.Itoa(i))
	}
	return out
}

func (w *walker) walkStruct(v reflect.Value, path string) map[string]any {
	out := make(map[string]any)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() && !f.Anonymous {
			continue
		}
		name, omitempty, skip := parseTag(f)
		if skip {
			continue
		}
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				for k, val := range w.walkStruct(inner, path) {
					if _, exists := out[k]; !exists {
						out[k] = val
					}
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if omitempty && isEmpty(fv) {
			continue
		}
		out[name] = w.walk(fv, path+"."+name)
	}
	return out
}

// marshalled returns the encoding of values that define their own JSON form.
func marshalled(v reflect.Value) (any, bool) {
	if v.Kind() == reflect.Interface || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, false
	}
	if v.Type().Implements(marshalerType) {
		b, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return nil, true
		}
		return json.RawMessage(b), true
	}
	if v.Kind() != reflect.Pointer && v.Type().Implements(textMarshalerType) {
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, true
		}
		return string(b), true
	}
	return nil, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}

func parseTag(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return parts[0], omitempty, false
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
