package scoring

import (
	"strings"
	"time"

	"github.com/usherd/usher/pkg/params"
)

// Matches evaluates one condition against the user's value for the same key.
// It returns whether the condition matched and the weight it contributes to
// the maximum possible score. An absent user value carries no weight. Operand
// type mismatches on ordering operators count the weight but never match, so
// a single bad pair cannot fail a whole dispatch.
func Matches(userValue any, cond params.Condition) (bool, float64) {
	if userValue == nil {
		return false, 0.0
	}

	weight := cond.Height
	u := normalize(userValue)
	v := normalize(cond.Value)

	switch cond.Operator {
	case params.OpEQ:
		return equal(u, v), weight
	case params.OpNE:
		return !equal(u, v), weight
	case params.OpGT, params.OpGTE, params.OpLT, params.OpLTE:
		c, ok := compare(u, v)
		if !ok {
			return false, weight
		}
		switch cond.Operator {
		case params.OpGT:
			return c > 0, weight
		case params.OpLT:
			return c < 0, weight
		case params.OpGTE:
			return c >= 0, weight
		default:
			return c <= 0, weight
		}
	case params.OpIContains:
		us, uok := u.(string)
		vs, vok := v.(string)
		if !uok || !vok {
			return false, weight
		}
		return strings.Contains(strings.ToLower(us), strings.ToLower(vs)), weight
	default:
		return false, weight
	}
}

// normalize turns ISO-8601-looking strings into timestamps so datetime
// comparisons work no matter which side arrived as a string. Strings that
// merely contain a "T" stay strings.
func normalize(v any) any {
	if s, ok := v.(string); ok && strings.Contains(s, "T") {
		if t, err := params.ParseDateTime(s); err == nil {
			return t
		}
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// equal compares across numeric kinds; everything else requires the same kind.
func equal(u, v any) bool {
	if uf, ok := asFloat(u); ok {
		vf, ok := asFloat(v)
		return ok && uf == vf
	}

	switch uv := u.(type) {
	case string:
		vs, ok := v.(string)
		return ok && uv == vs
	case bool:
		vb, ok := v.(bool)
		return ok && uv == vb
	case time.Time:
		vt, ok := v.(time.Time)
		return ok && uv.Equal(vt)
	default:
		return false
	}
}

// compare returns -1/0/1 when the operands are order-comparable: two
// numerics, two strings or two timestamps.
func compare(u, v any) (int, bool) {
	if uf, ok := asFloat(u); ok {
		vf, ok := asFloat(v)
		if !ok {
			return 0, false
		}
		switch {
		case uf < vf:
			return -1, true
		case uf > vf:
			return 1, true
		default:
			return 0, true
		}
	}

	if us, ok := u.(string); ok {
		vs, ok := v.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(us, vs), true
	}

	if ut, ok := u.(time.Time); ok {
		vt, ok := v.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case ut.Before(vt):
			return -1, true
		case ut.After(vt):
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}
