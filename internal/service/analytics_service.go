package service

import (
	"context"
	"time"

	"tripline/internal/cache"
	"tripline/internal/domain"
	"tripline/internal/models"

	"github.com/rs/zerolog"
)

// AnalyticsService serves the dashboard rollups. The read queries are
// aggregate scans, so they sit behind a short cache TTL.
type AnalyticsService struct {
	repo     domain.Ledger
	cache    domain.Cache
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewAnalyticsService(repo domain.Ledger, c domain.Cache, cacheTTL time.Duration, logger *zerolog.Logger) *AnalyticsService {
	if cacheTTL <= 0 {
		cacheTTL = models.DashboardCacheTTL * time.Second
	}
	return &AnalyticsService{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (s *AnalyticsService) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	var dashboard models.Dashboard
	err := s.cache.GetOrSet(ctx, cache.KeyDashboard, s.cacheTTL, &dashboard, func(ctx context.Context) (interface{}, error) {
		totals, err := s.repo.TotalAnalytics(ctx)
		if err != nil {
			return nil, err
		}

		totalTrips, err := s.repo.CountTrips(ctx)
		if err != nil {
			return nil, err
		}

		mostBooked, err := s.repo.MostBookedTrip(ctx)
		if err != nil {
			return nil, err
		}

		ongoing, err := s.repo.CountOngoingTrips(ctx, time.Now())
		if err != nil {
			return nil, err
		}

		return models.Dashboard{
			TotalBookings:     totals.TotalBookings,
			TotalRevenue:      totals.TotalRevenue,
			TotalTrips:        totalTrips,
			MostBookedTrip:    mostBooked,
			OngoingTripsToday: ongoing,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &dashboard, nil
}

func (s *AnalyticsService) TotalTrips(ctx context.Context) (int64, error) {
	var count int64
	err := s.cache.GetOrSet(ctx, cache.KeyTotalTrips, s.cacheTTL, &count, func(ctx context.Context) (interface{}, error) {
		return s.repo.CountTrips(ctx)
	})
	return count, err
}

func (s *AnalyticsService) MostBookedTrip(ctx context.Context) (*models.Trip, error) {
	var trip *models.Trip
	err := s.cache.GetOrSet(ctx, cache.KeyMostBooked, s.cacheTTL, &trip, func(ctx context.Context) (interface{}, error) {
		return s.repo.MostBookedTrip(ctx)
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

func (s *AnalyticsService) OngoingTripsToday(ctx context.Context) (int64, error) {
	now := time.Now()
	var count int64
	err := s.cache.GetOrSet(ctx, cache.OngoingTripsKey(now), s.cacheTTL, &count, func(ctx context.Context) (interface{}, error) {
		return s.repo.CountOngoingTrips(ctx, now)
	})
	return count, err
}

// Bucket returns the raw rollup for one date, bypassing the cache.
func (s *AnalyticsService) Bucket(ctx context.Context, dateKey string) (*models.AnalyticsBucket, error) {
	return s.repo.GetAnalytics(ctx, dateKey)
}

// LatestBucket returns the most recent rollup, bypassing the cache.
func (s *AnalyticsService) LatestBucket(ctx context.Context) (*models.AnalyticsBucket, error) {
	return s.repo.LatestAnalytics(ctx)
}
