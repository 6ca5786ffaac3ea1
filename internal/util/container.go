package util

import (
	"reflect"
)

// RemoveDuplicateValues drops repeated values in place, keeping the first
// occurrence. Values whose dynamic type is not comparable are always kept.
func RemoveDuplicateValues(slice []any) []any {
	seen := make(map[any]struct{})
	j := 0
	for _, v := range slice {
		if IsComparable(v) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
		}
		slice[j] = v
		j++
	}
	return slice[:j]
}

// RemoveFunc removes every element for which fn returns true, in place.
func RemoveFunc[T any](slice []T, fn func(T) bool) []T {
	j := 0
	for _, v := range slice {
		if fn(v) {
			continue
		}
		slice[j] = v
		j++
	}
	return slice[:j]
}

// IsComparable reports whether v can be used with == without panicking.
func IsComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable() && !containsIncomparable(reflect.ValueOf(v))
}

// SameValue compares two interface values with == when both are comparable.
func SameValue(a, b any) bool {
	if !IsComparable(a) || !IsComparable(b) {
		return false
	}
	return a == b
}

func containsIncomparable(v reflect.Value) bool {
	// interface fields of a comparable struct may still hold incomparable values
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		e := v.Elem()
		return !e.Type().Comparable() || containsIncomparable(e)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if containsIncomparable(v.Field(i)) {
				return true
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if containsIncomparable(v.Index(i)) {
				return true
			}
		}
	}
	return false
}
