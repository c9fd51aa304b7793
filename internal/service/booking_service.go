package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"tripline/internal/cache"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/metrics"
	"tripline/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BookingService struct {
	repo     domain.Ledger
	cache    domain.Cache
	jobs     domain.JobQueue
	eventBus domain.EventPublisher
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewBookingService(repo domain.Ledger, c domain.Cache, jobs domain.JobQueue, eventBus domain.EventPublisher, cacheTTL time.Duration, logger *zerolog.Logger) *BookingService {
	if cacheTTL <= 0 {
		cacheTTL = models.BookingCacheTTL * time.Second
	}
	return &BookingService{
		repo:     repo,
		cache:    c,
		jobs:     jobs,
		eventBus: eventBus,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// CreateBookingInput carries a reservation request. Status defaults to
// pending; only privileged callers may create confirmed bookings
// directly (enforced at the API boundary).
type CreateBookingInput struct {
	TripID       int64
	CustomerName string
	Email        string
	Phone        string
	NumPersons   int64
	Status       models.BookingStatus
}

func (in *CreateBookingInput) validate() error {
	if in.NumPersons < 1 {
		return database.ErrInvalidPersons
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return invalidInput("customer name is required")
	}
	if strings.TrimSpace(in.Phone) == "" {
		return invalidInput("phone is required")
	}
	if in.Status == "" {
		in.Status = models.StatusPending
	}
	if !in.Status.Valid() {
		return invalidInput("invalid booking status")
	}
	return nil
}

// ReserveAndCreateBooking admits or rejects a reservation. The seat
// check and the insert run in one ledger transaction; on admission the
// caches fronting the trip and booking collections are invalidated and,
// for confirmed bookings, an analytics increment is queued. The booking
// row is durable before this returns; only analytics ride the queue.
func (s *BookingService) ReserveAndCreateBooking(ctx context.Context, input CreateBookingInput) (*models.Booking, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	trip, err := s.repo.GetTrip(ctx, input.TripID)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		Ref:          uuid.NewString(),
		TripID:       trip.ID,
		CustomerName: strings.TrimSpace(input.CustomerName),
		Email:        strings.TrimSpace(input.Email),
		Phone:        strings.TrimSpace(input.Phone),
		NumPersons:   input.NumPersons,
		Status:       input.Status,
		AmountPaid:   trip.Price * float64(input.NumPersons),
	}

	if err := s.repo.ReserveBooking(ctx, booking); err != nil {
		var capErr *database.CapacityError
		if errors.As(err, &capErr) {
			metrics.IncReservation("rejected")
		} else {
			metrics.IncReservation("error")
		}
		return nil, err
	}
	metrics.IncReservation("admitted")

	s.cache.InvalidateAll(ctx, cache.BookingKeys(booking.ID, trip.ID, trip.Location)...)
	s.publishEvent(events.EventBookingCreated, booking)

	if booking.Status.CountsAgainstCapacity() {
		s.enqueueAnalytics(ctx, booking, +1)
	}

	return booking, nil
}

// ChangeBookingStatus drives lifecycle transitions. Crossing into the
// confirmed status re-validates capacity; crossing out of it releases
// seats and queues an analytics decrement.
func (s *BookingService) ChangeBookingStatus(ctx context.Context, id, version int64, status models.BookingStatus) (*models.Booking, error) {
	if !status.Valid() {
		return nil, invalidInput("invalid booking status")
	}

	before, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	booking, err := s.repo.UpdateBookingStatus(ctx, id, version, status)
	if err != nil {
		return nil, err
	}

	s.invalidateBooking(ctx, booking)

	wasCounted := before.Status.CountsAgainstCapacity()
	nowCounted := booking.Status.CountsAgainstCapacity()
	switch {
	case nowCounted && !wasCounted:
		s.publishEvent(events.EventBookingConfirmed, booking)
		s.enqueueAnalytics(ctx, booking, +1)
	case wasCounted && !nowCounted:
		s.publishEvent(events.EventBookingCancelled, booking)
		s.enqueueAnalytics(ctx, booking, -1)
	}

	return booking, nil
}

// DeleteBooking removes the row. Deleting a confirmed booking releases
// its seats immediately and queues an analytics decrement. The ledger
// returns the deleted row, so the decrement decision always reflects
// the status that actually left the ledger.
func (s *BookingService) DeleteBooking(ctx context.Context, id int64) error {
	booking, err := s.repo.DeleteBooking(ctx, id)
	if err != nil {
		return err
	}

	s.invalidateBooking(ctx, booking)
	s.publishEvent(events.EventBookingDeleted, booking)

	if booking.Status.CountsAgainstCapacity() {
		s.enqueueAnalytics(ctx, booking, -1)
	}

	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.cache.GetOrSet(ctx, cache.BookingKey(id), s.cacheTTL, &booking, func(ctx context.Context) (interface{}, error) {
		return s.repo.GetBooking(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *BookingService) ListBookings(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.cache.GetOrSet(ctx, cache.KeyAllBookings, s.cacheTTL, &bookings, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListBookings(ctx)
	})
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *BookingService) MarkBookingRead(ctx context.Context, id int64) (*models.Booking, error) {
	if err := s.repo.MarkBookingRead(ctx, id); err != nil {
		return nil, err
	}
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateBooking(ctx, booking)
	return booking, nil
}

// RemainingSeats computes capacity minus confirmed seats for a trip.
func (s *BookingService) RemainingSeats(ctx context.Context, tripID int64) (int64, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return 0, err
	}
	booked, err := s.repo.ConfirmedSeats(ctx, tripID)
	if err != nil {
		return 0, err
	}
	remaining := trip.Capacity - booked
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *BookingService) invalidateBooking(ctx context.Context, booking *models.Booking) {
	location := ""
	if trip, err := s.repo.GetTrip(ctx, booking.TripID); err == nil {
		location = trip.Location
	}
	s.cache.InvalidateAll(ctx, cache.BookingKeys(booking.ID, booking.TripID, location)...)
}

// enqueueAnalytics must not be skipped on a confirmed-seat mutation:
// the queue delivers at least once, so a failed enqueue is the only way
// the rollups can permanently diverge from the ledger.
func (s *BookingService) enqueueAnalytics(ctx context.Context, booking *models.Booking, sign int) {
	delta := models.AnalyticsDelta{
		Date:     models.DateKey(booking.CreatedAt),
		Bookings: 1,
		Revenue:  booking.AmountPaid,
	}

	var err error
	if sign >= 0 {
		err = s.jobs.EnqueueAnalyticsIncrement(ctx, booking.ID, delta)
	} else {
		err = s.jobs.EnqueueAnalyticsDecrement(ctx, booking.ID, delta)
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("analytics enqueue error")
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    booking.ID,
		Ref:          booking.Ref,
		TripID:       booking.TripID,
		CustomerName: booking.CustomerName,
		NumPersons:   booking.NumPersons,
		Status:       booking.Status,
		AmountPaid:   booking.AmountPaid,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
