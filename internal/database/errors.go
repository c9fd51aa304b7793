package database

import (
	"errors"
	"fmt"
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrJobNotFound     = errors.New("job not found")

	// ErrVersionConflict означает, что заявка была изменена параллельно
	ErrVersionConflict = errors.New("booking was modified concurrently")

	ErrInvalidPersons = errors.New("number of persons must be at least 1")

	// ErrCapacityBelowConfirmed запрещает уменьшать вместимость ниже
	// уже подтверждённых мест
	ErrCapacityBelowConfirmed = errors.New("capacity below confirmed seats")
)

// CapacityError is the user-facing rejection for an oversubscribing
// reservation. Remaining carries the seat count left on the trip.
type CapacityError struct {
	TripID    int64
	Requested int64
	Remaining int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot book %d person(s) on trip %d: only %d seat(s) remaining",
		e.Requested, e.TripID, e.Remaining)
}
