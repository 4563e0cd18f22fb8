package params

import (
	"errors"
	"fmt"
	"strings"
)

// Operator compares a user value against a condition value.
type Operator string

const (
	OpEQ        Operator = "EQ"
	OpNE        Operator = "NE"
	OpGT        Operator = "GT"
	OpGTE       Operator = "GTE"
	OpLT        Operator = "LT"
	OpLTE       Operator = "LTE"
	OpIContains Operator = "ICONTAINS"
)

// ErrUnknownOperator is returned by ParseOperator for operators outside the
// supported set.
var ErrUnknownOperator = errors.New("unknown operator")

// ParseOperator uppercases and validates an operator name.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE, OpIContains:
		return op, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownOperator, s)
}

// Condition is a per-key requirement on a request: compare the user's value
// for the key against Value using Operator, weighted by Height.
type Condition struct {
	Value    any      `json:"value" bson:"value"`
	Operator Operator `json:"operator" bson:"operator"`
	Height   float64  `json:"height" bson:"height"`
}

// Registry is a snapshot of the key->type mapping. Keys without a registered
// type cast as strings.
type Registry map[string]Type

func (r Registry) TypeOf(key string) Type {
	if t, ok := r[key]; ok {
		return t
	}
	return TypeString
}

// ValidationError reports malformed request input. The HTTP surface maps it
// to a 400 and the dispatch queue treats it as non-retryable.
type ValidationError struct {
	msg string
}

func NewValidationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CastConditions validates and casts a raw request params document into typed
// conditions. Every value must be an object {value, operator, height}; the
// value is cast per the registry, the operator defaults to EQ, and the height
// defaults to 1.0.
func CastConditions(raw map[string]any, reg Registry) (map[string]Condition, error) {
	conds := make(map[string]Condition, len(raw))

	for key, rv := range raw {
		obj, ok := rv.(map[string]any)
		if !ok {
			return nil, NewValidationErrorf("condition %q must be an object with value, operator and height", key)
		}

		rawValue, ok := obj["value"]
		if !ok {
			return nil, NewValidationErrorf("condition %q is missing a value", key)
		}
		value, err := Cast(rawValue, reg.TypeOf(key))
		if err != nil {
			return nil, NewValidationErrorf("condition %q: %v", key, err)
		}

		op := OpEQ
		if rawOp, ok := obj["operator"]; ok && rawOp != nil {
			s, ok := rawOp.(string)
			if !ok {
				return nil, NewValidationErrorf("condition %q: operator must be a string", key)
			}
			op, err = ParseOperator(s)
			if err != nil {
				return nil, NewValidationErrorf("condition %q: %v", key, err)
			}
		}

		height := 1.0
		if rawHeight, ok := obj["height"]; ok && rawHeight != nil {
			height, err = castFloat(rawHeight)
			if err != nil {
				return nil, NewValidationErrorf("condition %q: height must be numeric", key)
			}
			if height <= 0 {
				return nil, NewValidationErrorf("condition %q: height must be positive", key)
			}
		}

		conds[key] = Condition{Value: value, Operator: op, Height: height}
	}

	return conds, nil
}

// CastUserParams casts a user's profile params per the registry.
func CastUserParams(raw map[string]any, reg Registry) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		cast, err := Cast(value, reg.TypeOf(key))
		if err != nil {
			return nil, NewValidationErrorf("param %q: %v", key, err)
		}
		out[key] = cast
	}
	return out, nil
}
