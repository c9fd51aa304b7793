package service

import (
	"context"
	"strings"
	"time"

	"tripline/internal/cache"
	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/models"

	"github.com/rs/zerolog"
)

type TripService struct {
	repo     domain.Ledger
	cache    domain.Cache
	eventBus domain.EventPublisher
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewTripService(repo domain.Ledger, c domain.Cache, eventBus domain.EventPublisher, cacheTTL time.Duration, logger *zerolog.Logger) *TripService {
	if cacheTTL <= 0 {
		cacheTTL = models.TripCacheTTL * time.Second
	}
	return &TripService{
		repo:     repo,
		cache:    c,
		eventBus: eventBus,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetTrip returns one trip with its confirmed occupancy, through the cache.
func (s *TripService) GetTrip(ctx context.Context, id int64) (*models.TripOccupancy, error) {
	var occ models.TripOccupancy
	err := s.cache.GetOrSet(ctx, cache.TripKey(id), s.cacheTTL, &occ, func(ctx context.Context) (interface{}, error) {
		trip, err := s.repo.GetTrip(ctx, id)
		if err != nil {
			return nil, err
		}
		booked, err := s.repo.ConfirmedSeats(ctx, id)
		if err != nil {
			return nil, err
		}
		return models.NewTripOccupancy(*trip, booked), nil
	})
	if err != nil {
		return nil, err
	}
	return &occ, nil
}

func (s *TripService) ListTrips(ctx context.Context) ([]models.TripOccupancy, error) {
	return s.listTrips(ctx, cache.KeyAllTrips, func(ctx context.Context) ([]models.Trip, error) {
		return s.repo.ListTrips(ctx)
	})
}

func (s *TripService) ListTripsByLocation(ctx context.Context, location string) ([]models.TripOccupancy, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, invalidInput("location is required")
	}
	return s.listTrips(ctx, cache.TripLocationKey(location), func(ctx context.Context) ([]models.Trip, error) {
		return s.repo.ListTripsByLocation(ctx, location)
	})
}

func (s *TripService) listTrips(ctx context.Context, key string, fetch func(ctx context.Context) ([]models.Trip, error)) ([]models.TripOccupancy, error) {
	var occupancies []models.TripOccupancy
	err := s.cache.GetOrSet(ctx, key, s.cacheTTL, &occupancies, func(ctx context.Context) (interface{}, error) {
		trips, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		seats, err := s.repo.ConfirmedSeatsBulk(ctx)
		if err != nil {
			return nil, err
		}

		result := make([]models.TripOccupancy, 0, len(trips))
		for _, trip := range trips {
			result = append(result, models.NewTripOccupancy(trip, seats[trip.ID]))
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return occupancies, nil
}

// CreateTrip persists a trip, counts it in the bucket for its creation
// date and refreshes the cache write-through so the next read is warm.
func (s *TripService) CreateTrip(ctx context.Context, trip *models.Trip) error {
	if err := validateTrip(trip); err != nil {
		return err
	}

	if err := s.repo.CreateTrip(ctx, trip); err != nil {
		return err
	}

	if err := s.repo.UpsertTripAnalytics(ctx, models.DateKey(trip.CreatedAt), 1); err != nil {
		s.logger.Error().Err(err).Int64("trip_id", trip.ID).Msg("trip analytics update error")
	}

	s.cache.InvalidateAll(ctx, cache.KeyAllTrips, cache.TripLocationKey(trip.Location), cache.KeyTotalTrips, cache.KeyDashboard)
	s.cache.WriteThrough(ctx, cache.TripKey(trip.ID), models.NewTripOccupancy(*trip, 0), s.cacheTTL)

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventTripCreated, trip)
	}

	return nil
}

func (s *TripService) UpdateTrip(ctx context.Context, trip *models.Trip) error {
	if err := validateTrip(trip); err != nil {
		return err
	}

	if err := s.repo.UpdateTrip(ctx, trip); err != nil {
		return err
	}

	s.cache.InvalidateAll(ctx, cache.TripKeys(trip.ID, trip.Location)...)
	return nil
}

func (s *TripService) DeleteTrip(ctx context.Context, id int64) error {
	trip, err := s.repo.GetTrip(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteTrip(ctx, id); err != nil {
		return err
	}

	if err := s.repo.UpsertTripAnalytics(ctx, models.DateKey(trip.CreatedAt), -1); err != nil {
		s.logger.Error().Err(err).Int64("trip_id", id).Msg("trip analytics update error")
	}

	s.cache.InvalidateAll(ctx, cache.TripKeys(id, trip.Location)...)
	s.cache.InvalidateAll(ctx, cache.KeyTotalTrips, cache.KeyDashboard)

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventTripDeleted, trip)
	}

	return nil
}

func validateTrip(trip *models.Trip) error {
	if strings.TrimSpace(trip.Title) == "" {
		return invalidInput("trip title is required")
	}
	if strings.TrimSpace(trip.Location) == "" {
		return invalidInput("trip location is required")
	}
	if trip.Capacity < 1 {
		return invalidInput("trip capacity must be positive")
	}
	if trip.Price < 0 {
		return invalidInput("trip price must not be negative")
	}
	if trip.EndDate.Before(trip.StartDate) {
		return invalidInput("trip end date before start date")
	}
	return nil
}
