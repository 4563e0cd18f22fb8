package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usherd/usher/pkg/params"
)

func TestScoreUser(t *testing.T) {
	conds := map[string]params.Condition{
		"city": {Value: "tokyo", Operator: params.OpEQ, Height: 2},
		"age":  {Value: int64(18), Operator: params.OpGTE, Height: 1},
	}

	tcs := []struct {
		name       string
		userParams map[string]any
		total      float64
		max        float64
	}{
		{
			name:       "numeric match decays with distance",
			userParams: map[string]any{"city": "tokyo", "age": int64(30)},
			// age contributes 1-|30-18|/30 = 0.6
			total: 2.6,
			max:   3,
		},
		{
			name:       "exact numeric match keeps full weight",
			userParams: map[string]any{"city": "tokyo", "age": int64(18)},
			total:      3,
			max:        3,
		},
		{
			name:       "failed condition still raises max",
			userParams: map[string]any{"city": "osaka", "age": int64(30)},
			total:      0.6,
			max:        3,
		},
		{
			name:       "absent value does not raise max",
			userParams: map[string]any{"city": "tokyo"},
			total:      2,
			max:        2,
		},
		{
			name:       "no values at all",
			userParams: map[string]any{},
			total:      0,
			max:        0,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			s := ScoreUser(tc.userParams, conds)
			require.InDelta(t, tc.total, s.Total, 1e-9)
			require.InDelta(t, tc.max, s.Max, 1e-9)
		})
	}
}

func TestScoreUserZeroValuedNumbers(t *testing.T) {
	// both operands zero: the decay divisor vanishes and the base stays 1
	conds := map[string]params.Condition{
		"offset": {Value: int64(0), Operator: params.OpGTE, Height: 1},
	}
	s := ScoreUser(map[string]any{"offset": int64(0)}, conds)
	require.InDelta(t, 1.0, s.Total, 1e-9)
	require.InDelta(t, 1.0, s.Max, 1e-9)
}

func TestScoreFraction(t *testing.T) {
	require.InDelta(t, 0.7, Score{Total: 7, Max: 10}.Fraction(), 1e-9)
	require.InDelta(t, 1.0, Score{}.Fraction(), 1e-9)
}

func TestScoreSuitable(t *testing.T) {
	// boundary is inclusive
	require.True(t, Score{Total: 7, Max: 10}.Suitable(0.7))
	require.False(t, Score{Total: 6.9, Max: 10}.Suitable(0.7))

	// a request without weighted conditions accepts everyone
	require.True(t, Score{}.Suitable(0.7))
}
