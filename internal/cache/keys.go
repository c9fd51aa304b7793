package cache

import (
	"fmt"
	"strings"
	"time"

	"tripline/internal/models"
)

// Cache keys are namespaced by entity and identifier. A mutation must
// invalidate the single-entity key plus every collection key embedding
// the entity; the helpers below bundle those sets.
const (
	KeyAllTrips       = "trips:all"
	KeyAllBookings    = "bookings:all"
	KeyDashboard      = "analytics:dashboard"
	KeyMostBooked     = "analytics:mostbooked"
	KeyTotalTrips     = "analytics:totaltrips"
	locationKeyPrefix = "trips:location:"
)

func TripKey(id int64) string {
	return fmt.Sprintf("trip:%d", id)
}

func TripLocationKey(location string) string {
	return locationKeyPrefix + strings.ToLower(strings.TrimSpace(location))
}

func BookingKey(id int64) string {
	return fmt.Sprintf("booking:%d", id)
}

func OngoingTripsKey(day time.Time) string {
	return "analytics:ongoing:" + models.DateKey(day)
}

// TripKeys is the invalidation set for a trip mutation.
func TripKeys(id int64, location string) []string {
	return []string{TripKey(id), KeyAllTrips, TripLocationKey(location)}
}

// BookingKeys is the invalidation set for a booking mutation. Booking
// mutations change trip occupancy, so the trip keys are included.
func BookingKeys(bookingID, tripID int64, location string) []string {
	return append([]string{BookingKey(bookingID), KeyAllBookings}, TripKeys(tripID, location)...)
}

// DashboardKeys is the invalidation set for an analytics mutation.
func DashboardKeys(day time.Time) []string {
	return []string{KeyDashboard, KeyMostBooked, KeyTotalTrips, OngoingTripsKey(day)}
}
