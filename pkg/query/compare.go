package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	return fmt.Sprintf("%v", v), true
}

func toList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		l := make([]any, 0, len(t))
		for _, s := range t {
			l = append(l, s)
		}
		return l, true
	case []int:
		l := make([]any, 0, len(t))
		for _, i := range t {
			l = append(l, i)
		}
		return l, true
	case []float64:
		l := make([]any, 0, len(t))
		for _, f := range t {
			l = append(l, f)
		}
		return l, true
	}
	return nil, false
}

// values returns the individual values of a possibly multi-valued attribute
func values(v any) []any {
	if l, ok := toList(v); ok {
		return l
	}
	return []any{v}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

func toEpochSeconds(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.Unix()), true
		}
	}

	return 0, false
}

// compareValues orders two raw values. Date-time strings are coerced to epoch seconds
// when compared against numbers. The second return value is false when the values
// cannot be ordered.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	an, aIsNum := toNumber(a)
	bn, bIsNum := toNumber(b)

	if !aIsNum {
		an, aIsNum = toEpochSecondsIf(a, bIsNum)
	}
	if !bIsNum {
		bn, bIsNum = toEpochSecondsIf(b, aIsNum)
	}

	if aIsNum && bIsNum {
		return compareFloats(an, bn), true
	}

	if ae, ok := toEpochSeconds(a); ok {
		if be, ok := toEpochSeconds(b); ok {
			return compareFloats(ae, be), true
		}
	}

	as, aok := toText(a)
	bs, bok := toText(b)
	if !aok || !bok {
		return 0, false
	}

	return strings.Compare(as, bs), true
}

func toEpochSecondsIf(v any, otherIsNumber bool) (float64, bool) {
	if !otherIsNumber {
		return 0, false
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return toEpochSeconds(v)
}

func compareFloats(a, b float64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
