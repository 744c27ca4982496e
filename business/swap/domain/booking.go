// Package domain contains the core domain types for the swap context.
package domain

import (
	"time"

	"github.com/fd1az/swapengine/internal/money"
)

// Location is where a booked stay takes place. Coordinates are optional.
type Location struct {
	City      string
	Country   string
	Latitude  *float64
	Longitude *float64
}

// HasCoordinates reports whether both coordinates are known.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Booking is the reservation behind a swap, as reported by the booking
// lifecycle service.
type Booking struct {
	ID                string
	OwnerID           string
	Location          Location
	CheckIn           time.Time
	CheckOut          time.Time
	Value             money.Money
	AccommodationType string
	Guests            int
	// Locked is set while another flow holds the booking.
	Locked bool
}

// EventDate is the start of the stay.
func (b *Booking) EventDate() time.Time {
	return b.CheckIn
}

// Nights returns the stay length in whole nights.
func (b *Booking) Nights() int {
	if b.CheckOut.Before(b.CheckIn) {
		return 0
	}
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}
