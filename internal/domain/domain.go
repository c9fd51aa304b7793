package domain

import (
	"context"
	"time"

	"tripline/internal/models"
)

// Ledger is the transactional source of truth for trips, bookings and
// analytics buckets.
type Ledger interface {
	CreateTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	ListTrips(ctx context.Context) ([]models.Trip, error)
	ListTripsByLocation(ctx context.Context, location string) ([]models.Trip, error)
	UpdateTrip(ctx context.Context, trip *models.Trip) error
	DeleteTrip(ctx context.Context, id int64) error
	CountTrips(ctx context.Context) (int64, error)
	CountOngoingTrips(ctx context.Context, day time.Time) (int64, error)

	ReserveBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, id, fromVersion int64, status models.BookingStatus) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context) ([]models.Booking, error)
	ListBookingsForTrip(ctx context.Context, tripID int64) ([]models.Booking, error)
	DeleteBooking(ctx context.Context, id int64) (*models.Booking, error)
	MarkBookingRead(ctx context.Context, id int64) error
	ConfirmedSeats(ctx context.Context, tripID int64) (int64, error)
	ConfirmedSeatsBulk(ctx context.Context) (map[int64]int64, error)
	ConfirmedRevenue(ctx context.Context, tripID int64) (float64, error)
	MostBookedTrip(ctx context.Context) (*models.Trip, error)

	UpsertAnalytics(ctx context.Context, dateKey string, bookingDelta int64, revenueDelta float64) error
	UpsertTripAnalytics(ctx context.Context, dateKey string, tripDelta int64) error
	GetAnalytics(ctx context.Context, dateKey string) (*models.AnalyticsBucket, error)
	LatestAnalytics(ctx context.Context) (*models.AnalyticsBucket, error)
	TotalAnalytics(ctx context.Context) (*models.AnalyticsBucket, error)
}

// Cache is the read-through/write-through orchestrator fronting ledger
// reads. Implementations never fail a read: a broken cache degrades to
// computing directly.
type Cache interface {
	GetOrSet(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func(ctx context.Context) (interface{}, error)) error
	WriteThrough(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	InvalidateAll(ctx context.Context, keys ...string)
}

// JobQueue accepts background jobs with at-least-once delivery.
type JobQueue interface {
	EnqueueAnalyticsIncrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error
	EnqueueAnalyticsDecrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error
	EnqueueSheetsExport(ctx context.Context, dateKey string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
