package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Comparison operators supported in conditions. The set is closed:
// anything else is rejected when the automation is saved.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpIn                 = "in"
	OpNotIn              = "not_in"
)

var supportedOperators = map[string]bool{
	OpEquals:             true,
	OpNotEquals:          true,
	OpContains:           true,
	OpNotContains:        true,
	OpGreaterThan:        true,
	OpLessThan:           true,
	OpGreaterThanOrEqual: true,
	OpLessThanOrEqual:    true,
	OpIn:                 true,
	OpNotIn:              true,
}

// IsSupportedOperator reports whether op belongs to the closed operator set.
func IsSupportedOperator(op string) bool {
	return supportedOperators[op]
}

// ApplyOperator applies a comparison operator to a resolved field value.
// found=false means the field was absent from the payload; an absent field
// fails every operator except not_equals and not_contains, which it
// trivially satisfies. The function never panics: values that cannot be
// compared (e.g. non-numeric actuals under greater_than) evaluate to false.
func ApplyOperator(op string, actual interface{}, found bool, expected interface{}) bool {
	if !found {
		return op == OpNotEquals || op == OpNotContains
	}

	switch op {
	case OpEquals:
		return valuesEqual(actual, expected)
	case OpNotEquals:
		return !valuesEqual(actual, expected)
	case OpContains:
		return containsValue(actual, expected)
	case OpNotContains:
		return !containsValue(actual, expected)
	case OpGreaterThan:
		a, b, ok := numericPair(actual, expected)
		return ok && a > b
	case OpLessThan:
		a, b, ok := numericPair(actual, expected)
		return ok && a < b
	case OpGreaterThanOrEqual:
		a, b, ok := numericPair(actual, expected)
		return ok && a >= b
	case OpLessThanOrEqual:
		a, b, ok := numericPair(actual, expected)
		return ok && a <= b
	case OpIn:
		return listHas(expected, actual)
	case OpNotIn:
		return !listHas(expected, actual)
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides coerce to numbers,
// otherwise falls back to string comparison of the rendered values.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// containsValue checks list membership when actual is a list, substring
// containment when actual is a string.
func containsValue(actual, expected interface{}) bool {
	if items, ok := asList(actual); ok {
		for _, item := range items {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	}
	if s, ok := actual.(string); ok {
		return strings.Contains(s, fmt.Sprintf("%v", expected))
	}
	return false
}

// listHas checks whether needle is an element of the list haystack.
func listHas(haystack, needle interface{}) bool {
	items, ok := asList(haystack)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(item, needle) {
			return true
		}
	}
	return false
}

// asList normalizes slices of any element type. JSON decoding yields
// []interface{}, but values built in-process are often typed slices.
func asList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func numericPair(a, b interface{}) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

// toFloat coerces numbers and string-encoded numbers.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
