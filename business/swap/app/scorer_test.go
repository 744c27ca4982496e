package app_test

import (
	"testing"
	"time"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
)

func coords(lat, lon float64) (*float64, *float64) {
	return &lat, &lon
}

func parisBooking() *domain.Booking {
	lat, lon := coords(48.8566, 2.3522)
	return &domain.Booking{
		ID:                "b-paris",
		Location:          domain.Location{City: "Paris", Country: "FR", Latitude: lat, Longitude: lon},
		CheckIn:           time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:          time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC),
		Value:             *usd("1000.00"),
		AccommodationType: "apartment",
		Guests:            2,
	}
}

func TestScorer_IdenticalBookings(t *testing.T) {
	s := app.NewScorer(app.DefaultWeights())
	b := parisBooking()

	got := s.Analyze("s-1", "s-2", b, b)

	if got.OverallScore != 100 {
		t.Errorf("score = %d, want 100", got.OverallScore)
	}
	if !got.Compatible {
		t.Error("identical bookings not compatible")
	}
	if len(got.Recommendations) != 0 {
		t.Errorf("recommendations = %v, want none", got.Recommendations)
	}
	for name, f := range got.Factors {
		if f.Status != domain.FactorExcellent {
			t.Errorf("factor %s status = %s, want excellent", name, f.Status)
		}
	}
}

func TestScorer_MissingBooking(t *testing.T) {
	s := app.NewScorer(app.DefaultWeights())

	got := s.Analyze("s-1", "s-2", parisBooking(), nil)

	if got.OverallScore != 0 {
		t.Errorf("score = %d, want 0", got.OverallScore)
	}
	if got.Compatible {
		t.Error("missing booking reported compatible")
	}
	for name, f := range got.Factors {
		if f.Status != domain.FactorUnavailable {
			t.Errorf("factor %s status = %s, want unavailable", name, f.Status)
		}
	}
	if len(got.Recommendations) == 0 {
		t.Error("expected a recommendation about missing details")
	}
}

func TestScorer_Factors(t *testing.T) {
	lonLat, lonLon := coords(51.5074, -0.1278)

	tests := []struct {
		name   string
		modify func(b *domain.Booking)
		factor string
		want   int
		status domain.FactorStatus
	}{
		{
			name:   "london is a few hundred km away",
			modify: func(b *domain.Booking) { b.Location = domain.Location{City: "London", Country: "GB", Latitude: lonLat, Longitude: lonLon} },
			factor: domain.FactorLocation,
			want:   40,
			status: domain.FactorFair,
		},
		{
			name:   "same city without coordinates",
			modify: func(b *domain.Booking) { b.Location = domain.Location{City: "paris", Country: "fr"} },
			factor: domain.FactorLocation,
			want:   90,
			status: domain.FactorExcellent,
		},
		{
			name:   "half the value",
			modify: func(b *domain.Booking) { b.Value = *usd("500.00") },
			factor: domain.FactorValue,
			want:   50,
			status: domain.FactorFair,
		},
		{
			name:   "value in another currency",
			modify: func(b *domain.Booking) { b.Value = *eur("1000.00") },
			factor: domain.FactorValue,
			want:   0,
			status: domain.FactorUnavailable,
		},
		{
			name:   "same accommodation family",
			modify: func(b *domain.Booking) { b.AccommodationType = "condo" },
			factor: domain.FactorAccommodation,
			want:   70,
			status: domain.FactorGood,
		},
		{
			name:   "one more guest",
			modify: func(b *domain.Booking) { b.Guests = 3 },
			factor: domain.FactorGuests,
			want:   80,
			status: domain.FactorExcellent,
		},
		{
			name: "dates two days apart",
			modify: func(b *domain.Booking) {
				b.CheckIn = time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
				b.CheckOut = time.Date(2026, 7, 12, 0, 0, 0, 0, time.UTC)
			},
			factor: domain.FactorDates,
			want:   50,
			status: domain.FactorFair,
		},
		{
			name: "dates fully overlapping",
			modify: func(b *domain.Booking) {
				b.CheckIn = time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
				b.CheckOut = time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC)
			},
			factor: domain.FactorDates,
			// 3 of 7 nights overlap.
			want:   77,
			status: domain.FactorGood,
		},
	}

	s := app.NewScorer(app.DefaultWeights())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := parisBooking()
			tt.modify(target)

			got := s.Analyze("s-1", "s-2", parisBooking(), target)
			f := got.Factors[tt.factor]

			if f.Score != tt.want {
				t.Errorf("%s score = %d, want %d", tt.factor, f.Score, tt.want)
			}
			if f.Status != tt.status {
				t.Errorf("%s status = %s, want %s", tt.factor, f.Status, tt.status)
			}
			if got.OverallScore < 0 || got.OverallScore > 100 {
				t.Errorf("overall = %d, out of range", got.OverallScore)
			}
		})
	}
}

func TestScorer_WeightsNeedNotSumTo100(t *testing.T) {
	s := app.NewScorer(app.Weights{Location: 1, Dates: 1, Value: 1, Accommodation: 1, Guests: 1})
	b := parisBooking()
	other := parisBooking()
	other.Guests = 6

	got := s.Analyze("s-1", "s-2", b, other)

	// Guests score 20, every other factor 100.
	if got.OverallScore != 84 {
		t.Errorf("score = %d, want 84", got.OverallScore)
	}
	if len(got.Recommendations) != 1 {
		t.Errorf("recommendations = %v, want one for guests", got.Recommendations)
	}
}
