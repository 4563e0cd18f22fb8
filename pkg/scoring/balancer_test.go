package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func quota(n int) *int { return &n }

func TestLoadFactor(t *testing.T) {
	// quota'd user: load is daily/quota, affinity is 1-total/max
	lf := LoadFactor(5, quota(10), Score{Total: 8, Max: 10})
	require.InDelta(t, 0.7*0.5+0.3*0.2, lf, 1e-9)

	// no quota: load is daily/(daily+1)
	lf = LoadFactor(3, nil, Score{Total: 1, Max: 1})
	require.InDelta(t, 0.7*0.75, lf, 1e-9)

	// zero quota behaves like no quota
	lf = LoadFactor(3, quota(0), Score{Total: 1, Max: 1})
	require.InDelta(t, 0.7*0.75, lf, 1e-9)

	// without weighted conditions the affinity term vanishes
	lf = LoadFactor(0, quota(10), Score{})
	require.InDelta(t, 0.0, lf, 1e-9)
}

func TestFallbackLoadFactor(t *testing.T) {
	require.InDelta(t, 0.5, FallbackLoadFactor(5, quota(10)), 1e-9)
	require.InDelta(t, 0.75, FallbackLoadFactor(3, nil), 1e-9)
	require.InDelta(t, 0.0, FallbackLoadFactor(0, nil), 1e-9)
}

func TestSortCandidates(t *testing.T) {
	perfect := Score{Total: 1, Max: 1}

	loadedPrimary := NewCandidate("alice", perfect, 9, quota(10), false)
	idlePrimary := NewCandidate("bob", perfect, 0, quota(10), false)
	idleFallback := NewCandidate("carol", Score{}, 0, quota(10), true)

	candidates := []Candidate{idleFallback, loadedPrimary, idlePrimary}
	SortCandidates(candidates)

	// primaries outrank fallbacks even when the fallback is idle
	require.Equal(t, "bob", candidates[0].UserID)
	require.Equal(t, "alice", candidates[1].UserID)
	require.Equal(t, "carol", candidates[2].UserID)
}

func TestSortCandidatesTieBreaksOnID(t *testing.T) {
	perfect := Score{Total: 1, Max: 1}

	candidates := []Candidate{
		NewCandidate("zoe", perfect, 2, quota(10), false),
		NewCandidate("amy", perfect, 2, quota(10), false),
	}
	SortCandidates(candidates)

	require.Equal(t, "amy", candidates[0].UserID)
}
