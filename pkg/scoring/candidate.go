package scoring

import "sort"

// Candidate is a quota-available user considered for one dispatch. Fallback
// candidates rank behind every primary regardless of load.
type Candidate struct {
	UserID   string
	Score    Score
	Daily    int
	Quota    *int
	Fallback bool

	loadFactor float64
}

// NewCandidate computes the candidate's load factor once at construction.
func NewCandidate(userID string, score Score, daily int, quota *int, fallback bool) Candidate {
	c := Candidate{
		UserID:   userID,
		Score:    score,
		Daily:    daily,
		Quota:    quota,
		Fallback: fallback,
	}
	if fallback {
		c.loadFactor = FallbackLoadFactor(daily, quota)
	} else {
		c.loadFactor = LoadFactor(daily, quota, score)
	}
	return c
}

func (c Candidate) LoadFactor() float64 { return c.loadFactor }

// Less orders candidates best-first: primaries before fallbacks, then lower
// load factor. Equal load factors break to the smallest user id so repeated
// runs pick the same winner.
func (c Candidate) Less(other Candidate) bool {
	if c.Fallback != other.Fallback {
		return !c.Fallback
	}
	if c.loadFactor != other.loadFactor {
		return c.loadFactor < other.loadFactor
	}
	return c.UserID < other.UserID
}

// SortCandidates orders the slice best-first.
func SortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Less(candidates[j])
	})
}
