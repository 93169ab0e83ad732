package permit

import (
	"encoding/json"
	"math"
)

// Value is any scalar, list or nested map reachable from an EvalContext.
// Integers are normalised to int64 and floats to float64 on the way in.
type Value = any

type absentValue struct{}

// absent marks a path that does not resolve. It never compares equal to
// anything, including itself.
var absent Value = absentValue{}

func isAbsent(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(absentValue)
	return ok
}

func normalize(v Value) Value {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []int64:
		out := make([]Value, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case []int:
		out := make([]Value, len(x))
		for i := range x {
			out[i] = int64(x[i])
		}
		return out
	case []string:
		out := make([]Value, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case []Value:
		out := make([]Value, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	}
	return v
}

// truthy coerces a leaf value to a boolean: numbers and strings are true
// unless zero/empty, lists and maps unless empty, absent is false.
func truthy(v Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []Value:
		return len(x) > 0
	case map[string]Value:
		return len(x) > 0
	case nil, absentValue:
		return false
	}
	return false
}

// numeric splits a value into its integer or float form.
func numeric(v Value) (i int64, f float64, isInt, ok bool) {
	switch x := normalize(v).(type) {
	case int64:
		return x, float64(x), true, true
	case float64:
		return 0, x, false, true
	}
	return 0, 0, false, false
}

// compareValues orders two present values of the same family. ok is false
// when the values cannot be ordered against each other.
func compareValues(a, b Value) (cmp int, ok bool) {
	if isAbsent(a) || isAbsent(b) {
		return 0, false
	}
	ai, af, aInt, aNum := numeric(a)
	bi, bf, bInt, bNum := numeric(b)
	if aNum && bNum {
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func equalValues(a, b Value) bool {
	if isAbsent(a) || isAbsent(b) {
		return false
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

func listOf(v Value) ([]Value, bool) {
	switch x := normalize(v).(type) {
	case []Value:
		return x, true
	}
	return nil, false
}
