package scoring

import (
	"math"

	"github.com/usherd/usher/pkg/params"
)

// DefaultMinScoreFraction is the score fraction a candidate must clear to
// count as a primary match.
const DefaultMinScoreFraction = 0.7

// Score aggregates the per-condition matches of one user against one request.
type Score struct {
	Total float64
	Max   float64
}

// ScoreUser matches every request condition against the user's params. A
// matched condition contributes base*height where base starts at 1.0 and, for
// numeric pairs, decays with the relative distance between the two values.
// Max accumulates the weight returned by the matcher, so conditions the user
// has no value for do not raise the bar.
func ScoreUser(userParams map[string]any, conds map[string]params.Condition) Score {
	var s Score

	for key, cond := range conds {
		userValue := userParams[key]
		matched, weight := Matches(userValue, cond)
		s.Max += weight
		if !matched {
			continue
		}

		base := 1.0
		if uf, ok := asFloat(userValue); ok {
			if vf, ok := asFloat(cond.Value); ok {
				if maxAbs := math.Max(math.Abs(uf), math.Abs(vf)); maxAbs != 0 {
					base = math.Max(base*(1-math.Abs(uf-vf)/maxAbs), 0)
				}
			}
		}

		s.Total += base * weight
	}

	return s
}

// Fraction is Total/Max, or 1.0 when nothing carried weight.
func (s Score) Fraction() float64 {
	if s.Max > 0 {
		return s.Total / s.Max
	}
	return 1.0
}

// Suitable reports whether the score clears minFraction. A request without
// weighted conditions accepts every candidate.
func (s Score) Suitable(minFraction float64) bool {
	if s.Max == 0 {
		return true
	}
	return s.Total/s.Max >= minFraction
}
