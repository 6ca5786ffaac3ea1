package util

import (
	"maps"
	"reflect"
	"slices"
)

type visitKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// Visit walks the object graph rooted at root depth first, calling fn for every
// reachable value. Pointers, maps and slices are visited at most once, so
// cyclic graphs terminate. Returning false from fn skips the value's children.
// Only exported struct fields are followed.
func Visit(root any, fn func(v any) bool) {
	seen := make(map[visitKey]struct{})

	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		if !v.IsValid() {
			return
		}

		switch v.Kind() {
		case reflect.Interface:
			if !v.IsNil() {
				walk(v.Elem())
			}
			return
		case reflect.Pointer, reflect.Map, reflect.Slice:
			if v.IsNil() {
				return
			}
			key := visitKey{typ: v.Type(), ptr: v.Pointer()}
			if v.Kind() == reflect.Slice {
				key.len = v.Len()
			}
			if _, ok := seen[key]; ok {
				return
			}
			seen[key] = struct{}{}
		}

		if v.CanInterface() && !fn(v.Interface()) {
			return
		}

		switch v.Kind() {
		case reflect.Pointer:
			walk(v.Elem())
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() {
				walk(iter.Value())
			}
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i))
			}
		case reflect.Struct:
			t := v.Type()
			for i := 0; i < v.NumField(); i++ {
				if t.Field(i).IsExported() {
					walk(v.Field(i))
				}
			}
		}
	}

	walk(reflect.ValueOf(root))
}

// Collect returns every value reachable from root for which match returns true.
func Collect(root any, match func(v any) bool) []any {
	var found []any
	Visit(root, func(v any) bool {
		if match(v) {
			found = append(found, v)
		}
		return true
	})
	return found
}

type rewrite struct {
	v       any
	changed bool
}

// Replace returns root with values inside generic JSON-like containers
// (map[string]any and []any) substituted. fn returns the replacement and true
// to substitute a value; substituted values are not descended into. The input
// is never modified: a container is cloned only when something below it
// changed, and unchanged subtrees are shared with the result. A container
// reached twice maps to the same result. Cycles terminate but keep pointing
// at the original containers.
func Replace(root any, fn func(v any) (any, bool)) any {
	done := make(map[visitKey]rewrite)

	var walk func(v any) (any, bool)
	walk = func(v any) (any, bool) {
		if r, ok := fn(v); ok {
			return r, true
		}
		switch t := v.(type) {
		case map[string]any:
			if len(t) == 0 {
				return v, false
			}
			key := visitKey{typ: reflect.TypeOf(t), ptr: reflect.ValueOf(t).Pointer()}
			if r, ok := done[key]; ok {
				return r.v, r.changed
			}
			done[key] = rewrite{v: v}

			var out map[string]any
			for k, e := range t {
				r, changed := walk(e)
				if !changed {
					continue
				}
				if out == nil {
					out = maps.Clone(t)
				}
				out[k] = r
			}
			if out == nil {
				return v, false
			}
			done[key] = rewrite{v: out, changed: true}
			return out, true
		case []any:
			if len(t) == 0 {
				return v, false
			}
			key := visitKey{typ: reflect.TypeOf(t), ptr: reflect.ValueOf(t).Pointer(), len: len(t)}
			if r, ok := done[key]; ok {
				return r.v, r.changed
			}
			done[key] = rewrite{v: v}

			var out []any
			for i, e := range t {
				r, changed := walk(e)
				if !changed {
					continue
				}
				if out == nil {
					out = slices.Clone(t)
				}
				out[i] = r
			}
			if out == nil {
				return v, false
			}
			done[key] = rewrite{v: out, changed: true}
			return out, true
		}
		return v, false
	}

	res, _ := walk(root)
	return res
}
