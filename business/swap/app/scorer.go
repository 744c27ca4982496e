// Package app contains application services and port definitions for the swap context.
package app

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/swapengine/business/swap/domain"
)

// Weights holds the factor weights. They need not sum to 100.
type Weights struct {
	Location      int
	Dates         int
	Value         int
	Accommodation int
	Guests        int
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Location:      25,
		Dates:         20,
		Value:         25,
		Accommodation: 15,
		Guests:        15,
	}
}

// accommodationFamilies groups types that are reasonable substitutes.
var accommodationFamilies = map[string]string{
	"apartment": "flat",
	"condo":     "flat",
	"studio":    "flat",
	"loft":      "flat",
	"house":     "house",
	"villa":     "house",
	"cabin":     "house",
	"cottage":   "house",
	"hotel":     "hotel",
	"resort":    "hotel",
	"hostel":    "hotel",
	"inn":       "hotel",
}

// Scorer computes compatibility between two bookings.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Analyze scores source against target. A nil booking scores every factor 0
// with status unavailable.
func (s *Scorer) Analyze(sourceSwapID, targetSwapID string, source, target *domain.Booking) domain.CompatibilityAnalysis {
	factors := map[string]domain.FactorScore{
		domain.FactorLocation:      s.factor(s.weights.Location, source, target, scoreLocation),
		domain.FactorDates:         s.factor(s.weights.Dates, source, target, scoreDates),
		domain.FactorValue:         s.factor(s.weights.Value, source, target, scoreValue),
		domain.FactorAccommodation: s.factor(s.weights.Accommodation, source, target, scoreAccommodation),
		domain.FactorGuests:        s.factor(s.weights.Guests, source, target, scoreGuests),
	}

	var weighted, total int
	for _, f := range factors {
		weighted += f.Score * f.Weight
		total += f.Weight
	}

	overall := 0
	if total > 0 {
		overall = int(math.Round(float64(weighted) / float64(total)))
	}
	overall = clamp(overall)

	return domain.CompatibilityAnalysis{
		SourceSwapID:    sourceSwapID,
		TargetSwapID:    targetSwapID,
		OverallScore:    overall,
		Factors:         factors,
		Compatible:      overall >= domain.CompatibleThreshold,
		Recommendations: recommendations(factors),
	}
}

type factorFunc func(source, target *domain.Booking) (score int, detail string, ok bool)

func (s *Scorer) factor(weight int, source, target *domain.Booking, fn factorFunc) domain.FactorScore {
	if source == nil || target == nil {
		return domain.FactorScore{Weight: weight, Status: domain.FactorUnavailable, Detail: "booking details unavailable"}
	}

	score, detail, ok := fn(source, target)
	if !ok {
		return domain.FactorScore{Weight: weight, Status: domain.FactorUnavailable, Detail: detail}
	}

	score = clamp(score)
	return domain.FactorScore{
		Score:  score,
		Weight: weight,
		Status: domain.StatusForScore(score),
		Detail: detail,
	}
}

func scoreLocation(source, target *domain.Booking) (int, string, bool) {
	a, b := source.Location, target.Location

	if a.HasCoordinates() && b.HasCoordinates() {
		km := haversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
		detail := fmt.Sprintf("%.0f km apart", km)
		switch {
		case km <= 10:
			return 100, detail, true
		case km <= 50:
			return 85, detail, true
		case km <= 200:
			return 65, detail, true
		case km <= 1000:
			return 40, detail, true
		default:
			return 20, detail, true
		}
	}

	if a.City == "" && a.Country == "" || b.City == "" && b.Country == "" {
		return 0, "location unknown", false
	}
	switch {
	case a.City != "" && strings.EqualFold(a.City, b.City) && strings.EqualFold(a.Country, b.Country):
		return 90, "same city", true
	case a.Country != "" && strings.EqualFold(a.Country, b.Country):
		return 60, "same country", true
	default:
		return 20, "different countries", true
	}
}

func scoreDates(source, target *domain.Booking) (int, string, bool) {
	if source.CheckIn.IsZero() || target.CheckIn.IsZero() || source.CheckOut.IsZero() || target.CheckOut.IsZero() {
		return 0, "dates unknown", false
	}

	start := maxTime(source.CheckIn, target.CheckIn)
	end := minTime(source.CheckOut, target.CheckOut)

	if end.After(start) {
		overlap := end.Sub(start).Hours() / 24
		longest := math.Max(float64(source.Nights()), float64(target.Nights()))
		if longest <= 0 {
			return 100, "same dates", true
		}
		pct := overlap / longest * 100
		return 60 + int(math.Round(pct*0.4)), fmt.Sprintf("%.0f nights overlap", overlap), true
	}

	gap := start.Sub(end).Hours() / 24
	detail := fmt.Sprintf("%.0f days apart", gap)
	switch {
	case gap <= 3:
		return 50, detail, true
	case gap <= 7:
		return 40, detail, true
	case gap <= 30:
		return 25, detail, true
	default:
		return 10, detail, true
	}
}

func scoreValue(source, target *domain.Booking) (int, string, bool) {
	a, b := source.Value, target.Value
	if a.Currency().IsZero() || b.Currency().IsZero() || !a.IsPositive() || !b.IsPositive() {
		return 0, "value unknown", false
	}
	if a.Currency() != b.Currency() {
		return 0, "values in different currencies", false
	}

	lo, hi := a.Amount(), b.Amount()
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	ratio := lo.Div(hi).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return int(ratio), fmt.Sprintf("%s vs %s", a, b), true
}

func scoreAccommodation(source, target *domain.Booking) (int, string, bool) {
	a := strings.ToLower(strings.TrimSpace(source.AccommodationType))
	b := strings.ToLower(strings.TrimSpace(target.AccommodationType))
	if a == "" || b == "" {
		return 0, "accommodation type unknown", false
	}

	switch {
	case a == b:
		return 100, a, true
	case accommodationFamilies[a] != "" && accommodationFamilies[a] == accommodationFamilies[b]:
		return 70, a + " / " + b, true
	default:
		return 30, a + " / " + b, true
	}
}

func scoreGuests(source, target *domain.Booking) (int, string, bool) {
	if source.Guests <= 0 || target.Guests <= 0 {
		return 0, "guest count unknown", false
	}

	diff := source.Guests - target.Guests
	if diff < 0 {
		diff = -diff
	}
	detail := fmt.Sprintf("%d vs %d guests", source.Guests, target.Guests)
	switch diff {
	case 0:
		return 100, detail, true
	case 1:
		return 80, detail, true
	case 2:
		return 60, detail, true
	case 3:
		return 40, detail, true
	default:
		return 20, detail, true
	}
}

var advice = map[string]string{
	domain.FactorLocation:      "Destinations are far apart; confirm the other party is flexible on location",
	domain.FactorDates:         "Travel dates barely overlap; consider proposing a swap with closer dates",
	domain.FactorValue:         "Booking values differ significantly; consider adding a cash component",
	domain.FactorAccommodation: "Accommodation types differ; describe your property in the message",
	domain.FactorGuests:        "Guest capacity differs; check the booking can host the other party",
}

var factorOrder = []string{
	domain.FactorLocation,
	domain.FactorDates,
	domain.FactorValue,
	domain.FactorAccommodation,
	domain.FactorGuests,
}

func recommendations(factors map[string]domain.FactorScore) []string {
	var out []string
	unavailable := false
	for _, name := range factorOrder {
		switch factors[name].Status {
		case domain.FactorPoor:
			out = append(out, advice[name])
		case domain.FactorUnavailable:
			unavailable = true
		}
	}
	if unavailable {
		out = append(out, "Some booking details are missing; the score may understate compatibility")
	}
	return out
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func clamp(score int) int {
	return max(0, min(100, score))
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
