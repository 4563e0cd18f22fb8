package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tcs := []struct {
		in       string
		expected Type
	}{
		{"string", TypeString},
		{"integer", TypeInteger},
		{"float", TypeFloat},
		{"boolean", TypeBoolean},
		{"datetime", TypeDateTime},
		{" DateTime ", TypeDateTime},
		{"geo", TypeString},
		{"", TypeString},
	}

	for _, tc := range tcs {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseType(tc.in))
		})
	}
}

func TestCast(t *testing.T) {
	tcs := []struct {
		name      string
		value     any
		typeOf    Type
		expected  any
		expectErr bool
	}{
		{name: "string passthrough", value: "hello", typeOf: TypeString, expected: "hello"},
		{name: "int to string", value: 42, typeOf: TypeString, expected: "42"},
		{name: "unknown type falls back to string", value: 42, typeOf: Type("geo"), expected: "42"},

		{name: "integer from string", value: "42", typeOf: TypeInteger, expected: int64(42)},
		{name: "integer from padded string", value: " 7 ", typeOf: TypeInteger, expected: int64(7)},
		{name: "integer from whole float", value: 42.0, typeOf: TypeInteger, expected: int64(42)},
		{name: "integer from int32", value: int32(5), typeOf: TypeInteger, expected: int64(5)},
		{name: "integer rejects fractional float", value: 4.5, typeOf: TypeInteger, expectErr: true},
		{name: "integer rejects fractional string", value: "4.5", typeOf: TypeInteger, expectErr: true},
		{name: "integer rejects non-numeric", value: "abc", typeOf: TypeInteger, expectErr: true},
		{name: "integer rejects nil", value: nil, typeOf: TypeInteger, expectErr: true},

		{name: "float from string", value: "3.14", typeOf: TypeFloat, expected: 3.14},
		{name: "float from int", value: 3, typeOf: TypeFloat, expected: 3.0},
		{name: "float rejects non-numeric", value: "abc", typeOf: TypeFloat, expectErr: true},

		{name: "boolean passthrough", value: true, typeOf: TypeBoolean, expected: true},
		{name: "boolean truthy string", value: "true", typeOf: TypeBoolean, expected: true},
		{name: "boolean truthy padded", value: " YES ", typeOf: TypeBoolean, expected: true},
		{name: "boolean truthy on", value: "on", typeOf: TypeBoolean, expected: true},
		{name: "boolean truthy one", value: "1", typeOf: TypeBoolean, expected: true},
		{name: "boolean falsy string", value: "no", typeOf: TypeBoolean, expected: false},
		{name: "boolean falsy arbitrary", value: "whatever", typeOf: TypeBoolean, expected: false},
		{name: "boolean from zero", value: 0, typeOf: TypeBoolean, expected: false},
		{name: "boolean from nonzero", value: 2.5, typeOf: TypeBoolean, expected: true},
		{name: "boolean from nil", value: nil, typeOf: TypeBoolean, expected: false},

		{
			name:     "datetime from string",
			value:    "2024-01-02T03:04:05Z",
			typeOf:   TypeDateTime,
			expected: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name:     "datetime from offset string",
			value:    "2024-01-02T03:04:05+00:00",
			typeOf:   TypeDateTime,
			expected: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name:     "datetime from naive string",
			value:    "2024-01-02T03:04:05",
			typeOf:   TypeDateTime,
			expected: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name:     "datetime from date only",
			value:    "2024-01-02",
			typeOf:   TypeDateTime,
			expected: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{name: "datetime rejects garbage", value: "not a date", typeOf: TypeDateTime, expectErr: true},
		{name: "datetime rejects numbers", value: 42, typeOf: TypeDateTime, expectErr: true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := Cast(tc.value, tc.typeOf)
			if tc.expectErr {
				require.Error(t, err)
				var castErr *CastError
				require.ErrorAs(t, err, &castErr)
				return
			}
			require.NoError(t, err)

			if expected, ok := tc.expected.(time.Time); ok {
				require.IsType(t, time.Time{}, actual)
				assert.True(t, expected.Equal(actual.(time.Time)), "expected %v, got %v", expected, actual)
				return
			}
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestCastDateTimePassthrough(t *testing.T) {
	now := time.Now().UTC()
	actual, err := Cast(now, TypeDateTime)
	require.NoError(t, err)
	assert.Equal(t, now, actual)
}
