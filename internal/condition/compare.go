package condition

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Normalize converts Go numeric types to float64 for consistent deep-equal
// comparison. JSON unmarshaling produces float64 for numbers; this normalizes
// int, int64, json.Number and friends so reflect.DeepEqual works across
// boundaries. Maps and slices are normalized recursively.
func Normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two values are equal under the engine's comparison
// semantics: nil equals only nil, numbers compare by value regardless of Go
// type, objects compare structurally ignoring key order, and lists compare
// element-wise in order.
func Equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	// Numeric comparison first so int 5 equals float64 5.
	if an, aok := AsNumber(a); aok {
		if bn, bok := AsNumber(b); bok {
			return an == bn
		}
		return false
	}

	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// AsNumber converts a value to float64 when it carries a numeric type.
// Strings are never coerced.
func AsNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// timeFormats are accepted date-fact layouts, most specific first.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// AsTime parses a value as a timestamp. Accepts time.Time directly and
// strings in RFC 3339 or date-only form.
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range timeFormats {
			if ts, err := time.Parse(layout, val); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// AsList returns a value's elements when it is a list. The fast path covers
// []any from JSON decoding; reflection handles other slice and array kinds.
func AsList(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IsEmptyValue reports whether v is null, an empty string, or an empty list.
func IsEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if items, ok := AsList(v); ok {
		return len(items) == 0
	}
	return false
}

// Compare orders two values when they admit an ordering: numbers by
// value, timestamps chronologically, strings lexicographically. Returns
// -1/0/1 and whether the pair was comparable at all. Mixed kinds are never
// comparable; there is no cross-type coercion.
func Compare(a, b any) (int, bool) {
	if an, ok := AsNumber(a); ok {
		bn, ok := AsNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}

	if at, ok := AsTime(a); ok {
		bt, ok := AsTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}
