package domain

// FactorStatus grades a single compatibility factor.
type FactorStatus string

const (
	FactorExcellent   FactorStatus = "excellent"
	FactorGood        FactorStatus = "good"
	FactorFair        FactorStatus = "fair"
	FactorPoor        FactorStatus = "poor"
	FactorUnavailable FactorStatus = "unavailable"
)

// CompatibleThreshold is the score at which a pair is flagged compatible.
const CompatibleThreshold = 60

// StatusForScore grades a 0-100 factor score.
func StatusForScore(score int) FactorStatus {
	switch {
	case score >= 80:
		return FactorExcellent
	case score >= 60:
		return FactorGood
	case score >= 40:
		return FactorFair
	default:
		return FactorPoor
	}
}

// Factor names.
const (
	FactorLocation      = "location"
	FactorDates         = "dates"
	FactorValue         = "value"
	FactorAccommodation = "accommodation"
	FactorGuests        = "guests"
)

// FactorScore is one weighted component of an analysis.
type FactorScore struct {
	Score  int
	Weight int
	Status FactorStatus
	Detail string
}

// CompatibilityAnalysis is the scored comparison of two swaps. It is computed
// on demand and never stored as authoritative state.
type CompatibilityAnalysis struct {
	SourceSwapID    string
	TargetSwapID    string
	OverallScore    int
	Factors         map[string]FactorScore
	Compatible      bool
	Recommendations []string
}

// EligibleSwap is one of the caller's swaps that may be proposed.
type EligibleSwap struct {
	Swap     *Swap
	Analysis CompatibilityAnalysis
}
