package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tripline/internal/models"
)

func (db *DB) CreateTrip(ctx context.Context, trip *models.Trip) error {
	query := `INSERT INTO trips (title, location, price, capacity, start_date, end_date, image_url, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		trip.Title,
		trip.Location,
		trip.Price,
		trip.Capacity,
		trip.StartDate,
		trip.EndDate,
		trip.ImageURL,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	trip.ID = id
	trip.CreatedAt = now
	trip.UpdatedAt = now

	return nil
}

func (db *DB) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	query := `SELECT id, title, location, price, capacity, start_date, end_date,
	                 COALESCE(image_url, ''), created_at, updated_at
              FROM trips WHERE id = ?`
	var trip models.Trip
	err := db.QueryRowContext(ctx, query, id).Scan(
		&trip.ID, &trip.Title, &trip.Location, &trip.Price, &trip.Capacity,
		&trip.StartDate, &trip.EndDate, &trip.ImageURL, &trip.CreatedAt, &trip.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}

func (db *DB) ListTrips(ctx context.Context) ([]models.Trip, error) {
	query := `SELECT id, title, location, price, capacity, start_date, end_date,
	                 COALESCE(image_url, ''), created_at, updated_at
              FROM trips ORDER BY start_date, id`
	return db.queryTrips(ctx, query)
}

func (db *DB) ListTripsByLocation(ctx context.Context, location string) ([]models.Trip, error) {
	query := `SELECT id, title, location, price, capacity, start_date, end_date,
	                 COALESCE(image_url, ''), created_at, updated_at
              FROM trips WHERE LOWER(location) = ? ORDER BY start_date, id`
	return db.queryTrips(ctx, query, strings.ToLower(location))
}

func (db *DB) queryTrips(ctx context.Context, query string, args ...interface{}) ([]models.Trip, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		var trip models.Trip
		err := rows.Scan(
			&trip.ID, &trip.Title, &trip.Location, &trip.Price, &trip.Capacity,
			&trip.StartDate, &trip.EndDate, &trip.ImageURL, &trip.CreatedAt, &trip.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// UpdateTrip rewrites trip fields. Capacity may never be set below the
// current confirmed-seat count; the check runs in the same transaction
// as the write so a concurrent reservation cannot slip underneath it.
func (db *DB) UpdateTrip(ctx context.Context, trip *models.Trip) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var confirmed int64
	queryConfirmed := `SELECT COALESCE(SUM(num_persons), 0) FROM bookings WHERE trip_id = ? AND status = ?`
	if err := tx.QueryRowContext(ctx, queryConfirmed, trip.ID, models.StatusConfirmed).Scan(&confirmed); err != nil {
		return fmt.Errorf("failed to sum confirmed seats: %w", err)
	}
	if trip.Capacity < confirmed {
		return ErrCapacityBelowConfirmed
	}

	query := `UPDATE trips SET title = ?, location = ?, price = ?, capacity = ?,
	                 start_date = ?, end_date = ?, image_url = ?, updated_at = ?
              WHERE id = ?`
	now := time.Now()
	result, err := tx.ExecContext(ctx, query,
		trip.Title, trip.Location, trip.Price, trip.Capacity,
		trip.StartDate, trip.EndDate, trip.ImageURL, now, trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTripNotFound
	}
	trip.UpdatedAt = now

	return tx.Commit()
}

func (db *DB) DeleteTrip(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTripNotFound
	}
	return nil
}

// SeedTrips loads the catalog on first start. A non-empty trips table
// means the catalog is already managed through the API, so the seed is
// skipped.
func (db *DB) SeedTrips(ctx context.Context, trips []models.Trip) error {
	count, err := db.CountTrips(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i := range trips {
		if err := db.CreateTrip(ctx, &trips[i]); err != nil {
			return fmt.Errorf("failed to seed trip %q: %w", trips[i].Title, err)
		}
	}
	db.logger.Info().Int("trips", len(trips)).Msg("trip catalog seeded")
	return nil
}

func (db *DB) CountTrips(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

// CountOngoingTrips returns the number of trips whose date range covers
// the given day.
func (db *DB) CountOngoingTrips(ctx context.Context, day time.Time) (int64, error) {
	dayKey := day.UTC().Format(models.DateKeyLayout)
	query := `SELECT COUNT(*) FROM trips WHERE date(start_date) <= date(?) AND date(end_date) >= date(?)`
	var count int64
	err := db.QueryRowContext(ctx, query, dayKey, dayKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ongoing trips: %w", err)
	}
	return count, nil
}
