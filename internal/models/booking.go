package models

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is one of the known lifecycle statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CountsAgainstCapacity reports whether a booking in this status occupies
// seats. Pending bookings are provisional and do not reserve seats.
func (s BookingStatus) CountsAgainstCapacity() bool {
	return s == StatusConfirmed
}

type Booking struct {
	ID           int64         `json:"id"`
	Ref          string        `json:"ref"`
	TripID       int64         `json:"trip_id"`
	CustomerName string        `json:"customer_name"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone"`
	NumPersons   int64         `json:"num_persons"`
	Status       BookingStatus `json:"status"`
	AmountPaid   float64       `json:"amount_paid"`
	ReadAt       *time.Time    `json:"read_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int64         `json:"version"`
}
