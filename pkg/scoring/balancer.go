package scoring

// LoadFactor blends daily load with score affinity into a single ranking
// scalar. Smaller is better. Users without a quota still degrade with load
// via daily/(daily+1).
func LoadFactor(daily int, quota *int, score Score) float64 {
	load := loadOnly(daily, quota)
	scoreFactor := 1.0
	if score.Max > 0 {
		scoreFactor = score.Total / score.Max
	}
	return 0.7*load + 0.3*(1-scoreFactor)
}

// FallbackLoadFactor ranks by load alone. Used for candidates kept only
// because nothing cleared the score threshold.
func FallbackLoadFactor(daily int, quota *int) float64 {
	return loadOnly(daily, quota)
}

func loadOnly(daily int, quota *int) float64 {
	if quota == nil || *quota == 0 {
		return float64(daily) / float64(daily+1)
	}
	return float64(daily) / float64(*quota)
}
