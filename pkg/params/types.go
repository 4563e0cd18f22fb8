package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type names a value type in the key registry. Unknown names fall back to
// TypeString so a stale registry never blocks a request.
type Type string

const (
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDateTime Type = "datetime"
)

// ParseType maps a registry type name to a Type. Unrecognized names are
// treated as string.
func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeInteger:
		return TypeInteger
	case TypeFloat:
		return TypeFloat
	case TypeBoolean:
		return TypeBoolean
	case TypeDateTime:
		return TypeDateTime
	default:
		return TypeString
	}
}

// ValidType reports whether s names a registrable type. The read path is
// lenient, the write path rejects typos here.
func ValidType(s string) bool {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDateTime:
		return true
	}
	return false
}

// CastError is returned when a raw value cannot be coerced to its declared
// type. The request boundary surfaces it as a ValidationError.
type CastError struct {
	Value any
	Type  Type
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %v (%T) to %s", e.Value, e.Value, e.Type)
}

// Cast coerces value to the given type. Past this boundary a value is one of
// string, int64, float64, bool or time.Time.
func Cast(value any, t Type) (any, error) {
	switch t {
	case TypeInteger:
		return castInt(value)
	case TypeFloat:
		return castFloat(value)
	case TypeBoolean:
		return castBool(value), nil
	case TypeDateTime:
		return castDateTime(value)
	default:
		// unknown types are stored as strings
		return toString(value), nil
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func castInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return floatToInt(float64(n), v)
	case float64:
		return floatToInt(n, v)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, &CastError{Value: v, Type: TypeInteger}
		}
		return i, nil
	default:
		return 0, &CastError{Value: v, Type: TypeInteger}
	}
}

func floatToInt(f float64, orig any) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, &CastError{Value: orig, Type: TypeInteger}
	}
	return int64(f), nil
}

func castFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, &CastError{Value: v, Type: TypeFloat}
		}
		return f, nil
	default:
		return 0, &CastError{Value: v, Type: TypeFloat}
	}
}

// castBool never fails. Strings use the truthy set {"1","true","yes","on"}
// after trimming and lowercasing, everything else follows standard truthiness.
func castBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	case int:
		return b != 0
	case int32:
		return b != 0
	case int64:
		return b != 0
	case float32:
		return b != 0
	case float64:
		return b != 0
	case nil:
		return false
	default:
		return true
	}
}

func castDateTime(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		t, err := ParseDateTime(d)
		if err != nil {
			return time.Time{}, &CastError{Value: v, Type: TypeDateTime}
		}
		return t, nil
	default:
		return time.Time{}, &CastError{Value: v, Type: TypeDateTime}
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseDateTime parses an ISO-8601 timestamp. A trailing Z means UTC, naive
// timestamps are taken as UTC, and a bare date maps to midnight UTC.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}
