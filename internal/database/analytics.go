package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tripline/internal/models"
)

// UpsertAnalytics atomically adjusts the bucket for a date, creating it
// on first use. Deltas may be negative; a single statement keeps the
// adjustment atomic under any interleaving of workers.
func (db *DB) UpsertAnalytics(ctx context.Context, dateKey string, bookingDelta int64, revenueDelta float64) error {
	query := `INSERT INTO analytics (date, total_bookings, total_revenue, total_trips)
              VALUES (?, ?, ?, 0)
              ON CONFLICT(date) DO UPDATE SET
                  total_bookings = total_bookings + excluded.total_bookings,
                  total_revenue = total_revenue + excluded.total_revenue`
	if _, err := db.ExecContext(ctx, query, dateKey, bookingDelta, revenueDelta); err != nil {
		return fmt.Errorf("failed to upsert analytics: %w", err)
	}
	return nil
}

// UpsertTripAnalytics adjusts the trip counter for a date.
func (db *DB) UpsertTripAnalytics(ctx context.Context, dateKey string, tripDelta int64) error {
	query := `INSERT INTO analytics (date, total_bookings, total_revenue, total_trips)
              VALUES (?, 0, 0, ?)
              ON CONFLICT(date) DO UPDATE SET
                  total_trips = total_trips + excluded.total_trips`
	if _, err := db.ExecContext(ctx, query, dateKey, tripDelta); err != nil {
		return fmt.Errorf("failed to upsert trip analytics: %w", err)
	}
	return nil
}

func (db *DB) GetAnalytics(ctx context.Context, dateKey string) (*models.AnalyticsBucket, error) {
	query := `SELECT date, total_bookings, total_revenue, total_trips FROM analytics WHERE date = ?`
	var bucket models.AnalyticsBucket
	err := db.QueryRowContext(ctx, query, dateKey).Scan(
		&bucket.Date, &bucket.TotalBookings, &bucket.TotalRevenue, &bucket.TotalTrips,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AnalyticsBucket{Date: dateKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	return &bucket, nil
}

// LatestAnalytics returns the most recent bucket, or an empty one when
// no events have been recorded yet.
func (db *DB) LatestAnalytics(ctx context.Context) (*models.AnalyticsBucket, error) {
	query := `SELECT date, total_bookings, total_revenue, total_trips FROM analytics ORDER BY date DESC LIMIT 1`
	var bucket models.AnalyticsBucket
	err := db.QueryRowContext(ctx, query).Scan(
		&bucket.Date, &bucket.TotalBookings, &bucket.TotalRevenue, &bucket.TotalTrips,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AnalyticsBucket{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analytics: %w", err)
	}
	return &bucket, nil
}

// TotalAnalytics sums bucket counters across all dates.
func (db *DB) TotalAnalytics(ctx context.Context) (*models.AnalyticsBucket, error) {
	query := `SELECT COALESCE(SUM(total_bookings), 0), COALESCE(SUM(total_revenue), 0), COALESCE(SUM(total_trips), 0)
              FROM analytics`
	var bucket models.AnalyticsBucket
	err := db.QueryRowContext(ctx, query).Scan(&bucket.TotalBookings, &bucket.TotalRevenue, &bucket.TotalTrips)
	if err != nil {
		return nil, fmt.Errorf("failed to sum analytics: %w", err)
	}
	return &bucket, nil
}
