package dsl

import (
	"fmt"
	"math"
	"strconv"
)

// ScalarString renders a leaf value the way predicate and identity
// comparisons see it. JSON numbers arrive as float64; integral floats render
// without a fraction so 42 and 42.0 compare equal across sources.
func ScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Present reports whether a selected value counts for exists/identity checks.
// Explicit nulls and empty strings are absent; everything else is present.
func Present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}
