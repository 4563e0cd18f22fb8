package scoring

import (
	"fmt"

	"github.com/usherd/usher/pkg/params"
)

// Policy names accepted in configuration.
const (
	PolicyMixture         = "mixture"
	PolicyHeightThreshold = "height-threshold"
)

// Profile is the slice of a user the selection policies need: id, typed
// params and the optional daily quota (nil means unlimited).
type Profile struct {
	ID     string
	Params map[string]any
	Quota  *int
}

// Policy picks the winning user for one request. counts maps user id to the
// number of requests accepted today. considered reports how many users were
// still in the running after quota filtering. ok is false when no user
// qualifies.
type Policy interface {
	Select(users []Profile, conds map[string]params.Condition, counts map[string]int) (winner string, considered int, ok bool)
}

// NewPolicy returns the policy for a configured name. An empty name selects
// the mixture policy.
func NewPolicy(name string, minScoreFraction float64) (Policy, error) {
	switch name {
	case "", PolicyMixture:
		return MixturePolicy{MinScoreFraction: minScoreFraction}, nil
	case PolicyHeightThreshold:
		return HeightThresholdPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch policy %q", name)
	}
}

// MixturePolicy scores every quota-available user, partitions them into
// primaries and fallbacks around MinScoreFraction, and picks the candidate
// with the lowest blended load factor.
type MixturePolicy struct {
	MinScoreFraction float64
}

func (p MixturePolicy) Select(users []Profile, conds map[string]params.Condition, counts map[string]int) (string, int, bool) {
	minFraction := p.MinScoreFraction
	if minFraction <= 0 {
		minFraction = DefaultMinScoreFraction
	}

	var candidates []Candidate
	for _, u := range users {
		daily := counts[u.ID]
		if u.Quota != nil && daily >= *u.Quota {
			continue
		}

		score := ScoreUser(u.Params, conds)
		candidates = append(candidates, NewCandidate(u.ID, score, daily, u.Quota, !score.Suitable(minFraction)))
	}

	if len(candidates) == 0 {
		return "", 0, false
	}

	SortCandidates(candidates)
	return candidates[0].UserID, len(candidates), true
}

// heightThresholdPercent is the band below the best height inside which
// candidates stay eligible.
const heightThresholdPercent = 0.05

// HeightThresholdPolicy is the legacy selection rule: per user, sum the
// heights of conditions whose value equals the user's param verbatim; keep
// users within 5% of the best height; pick the least loaded.
type HeightThresholdPolicy struct{}

func (HeightThresholdPolicy) Select(users []Profile, conds map[string]params.Condition, counts map[string]int) (string, int, bool) {
	type entry struct {
		id     string
		height float64
		daily  int
	}

	var entries []entry
	for _, u := range users {
		daily := counts[u.ID]
		if u.Quota != nil && daily >= *u.Quota {
			continue
		}

		height := 0.0
		for key, cond := range conds {
			if equal(u.Params[key], cond.Value) {
				height += cond.Height
			}
		}
		entries = append(entries, entry{id: u.ID, height: height, daily: daily})
	}

	if len(entries) == 0 {
		return "", 0, false
	}

	best := entries[0]
	for _, e := range entries[1:] {
		if e.height > best.height {
			best = e
		}
	}

	var winner entry
	found := false
	for _, e := range entries {
		if best.height-e.height > best.height*heightThresholdPercent {
			continue
		}
		if !found || e.daily < winner.daily || (e.daily == winner.daily && e.id < winner.id) {
			winner = e
			found = true
		}
	}

	return winner.id, len(entries), found
}
