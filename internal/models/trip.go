package models

import "time"

type Trip struct {
	ID        int64     `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Location  string    `json:"location" yaml:"location"`
	Price     float64   `json:"price" yaml:"price"`
	Capacity  int64     `json:"capacity" yaml:"capacity"`
	StartDate time.Time `json:"start_date" yaml:"start_date"`
	EndDate   time.Time `json:"end_date" yaml:"end_date"`
	ImageURL  string    `json:"image_url,omitempty" yaml:"image_url"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TripOccupancy is a trip together with its confirmed seat usage.
type TripOccupancy struct {
	Trip           Trip  `json:"trip"`
	BookedSeats    int64 `json:"booked_seats"`
	RemainingSeats int64 `json:"remaining_seats"`
}

func NewTripOccupancy(trip Trip, booked int64) TripOccupancy {
	remaining := trip.Capacity - booked
	if remaining < 0 {
		remaining = 0
	}
	return TripOccupancy{Trip: trip, BookedSeats: booked, RemainingSeats: remaining}
}
