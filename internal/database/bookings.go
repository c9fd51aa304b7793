package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tripline/internal/models"
)

// ReserveBooking inserts a booking and enforces the capacity invariant
// in one transaction: the confirmed-seat sum is read and the row written
// under the same write lock, so two concurrent reservations on the same
// trip cannot both pass the check.
func (db *DB) ReserveBooking(ctx context.Context, booking *models.Booking) error {
	if booking.NumPersons < 1 {
		return ErrInvalidPersons
	}
	if !booking.Status.Valid() {
		return fmt.Errorf("invalid booking status: %s", booking.Status)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var capacity int64
	err = tx.QueryRowContext(ctx, `SELECT capacity FROM trips WHERE id = ?`, booking.TripID).Scan(&capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load trip capacity in tx: %w", err)
	}

	// Only confirmed seats count; pending bookings do not hold seats.
	if booking.Status.CountsAgainstCapacity() {
		remaining, err := remainingSeatsTx(ctx, tx, booking.TripID, capacity, 0)
		if err != nil {
			return err
		}
		if booking.NumPersons > remaining {
			return &CapacityError{TripID: booking.TripID, Requested: booking.NumPersons, Remaining: remaining}
		}
	}

	query := `INSERT INTO bookings (
				ref, trip_id, customer_name, email, phone, num_persons,
				status, amount_paid, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := tx.ExecContext(ctx, query,
		booking.Ref,
		booking.TripID,
		booking.CustomerName,
		booking.Email,
		booking.Phone,
		booking.NumPersons,
		booking.Status,
		booking.AmountPaid,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return tx.Commit()
}

// UpdateBookingStatus transitions a booking with an optimistic version
// check. Entering the confirmed status re-validates capacity at the
// moment of confirmation, in the same transaction as the write.
func (db *DB) UpdateBookingStatus(ctx context.Context, id, fromVersion int64, status models.BookingStatus) (*models.Booking, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid booking status: %s", status)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var tripID, numPersons int64
	var current models.BookingStatus
	query := `SELECT trip_id, num_persons, status FROM bookings WHERE id = ?`
	err = tx.QueryRowContext(ctx, query, id).Scan(&tripID, &numPersons, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking in tx: %w", err)
	}

	if status.CountsAgainstCapacity() && !current.CountsAgainstCapacity() {
		var capacity int64
		err = tx.QueryRowContext(ctx, `SELECT capacity FROM trips WHERE id = ?`, tripID).Scan(&capacity)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load trip capacity in tx: %w", err)
		}

		remaining, err := remainingSeatsTx(ctx, tx, tripID, capacity, id)
		if err != nil {
			return nil, err
		}
		if numPersons > remaining {
			return nil, &CapacityError{TripID: tripID, Requested: numPersons, Remaining: remaining}
		}
	}

	update := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, update, status, time.Now(), id, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrVersionConflict
	}

	booking, err := getBookingTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return booking, nil
}

// remainingSeatsTx computes capacity minus confirmed seats inside tx,
// optionally excluding one booking id (for self-transitions).
func remainingSeatsTx(ctx context.Context, tx *sql.Tx, tripID, capacity, excludeID int64) (int64, error) {
	var confirmed int64
	query := `SELECT COALESCE(SUM(num_persons), 0) FROM bookings WHERE trip_id = ? AND status = ? AND id != ?`
	if err := tx.QueryRowContext(ctx, query, tripID, models.StatusConfirmed, excludeID).Scan(&confirmed); err != nil {
		return 0, fmt.Errorf("failed to sum confirmed seats in tx: %w", err)
	}
	remaining := capacity - confirmed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := scanBooking(db.QueryRowContext(ctx, selectBooking+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

const selectBooking = `SELECT id, ref, trip_id, customer_name, COALESCE(email, ''), phone,
       num_persons, status, amount_paid, read_at, created_at, updated_at, version
       FROM bookings`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var booking models.Booking
	var readAt sql.NullTime
	err := row.Scan(
		&booking.ID, &booking.Ref, &booking.TripID, &booking.CustomerName, &booking.Email,
		&booking.Phone, &booking.NumPersons, &booking.Status, &booking.AmountPaid,
		&readAt, &booking.CreatedAt, &booking.UpdatedAt, &booking.Version,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		booking.ReadAt = &readAt.Time
	}
	return &booking, nil
}

func getBookingTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Booking, error) {
	booking, err := scanBooking(tx.QueryRowContext(ctx, selectBooking+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking in tx: %w", err)
	}
	return booking, nil
}

func (db *DB) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return db.queryBookings(ctx, selectBooking+` ORDER BY created_at DESC, id DESC`)
}

func (db *DB) ListBookingsForTrip(ctx context.Context, tripID int64) ([]models.Booking, error) {
	return db.queryBookings(ctx, selectBooking+` WHERE trip_id = ? ORDER BY created_at DESC, id DESC`, tripID)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *booking)
	}
	return bookings, rows.Err()
}

// DeleteBooking removes the row and returns it as it was at the moment
// of deletion. The read and the delete share one transaction, so the
// caller decides on seat release and analytics from the row that was
// actually removed rather than an earlier snapshot.
func (db *DB) DeleteBooking(ctx context.Context, id int64) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	booking, err := getBookingTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete booking in tx: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking delete: %w", err)
	}
	return booking, nil
}

func (db *DB) MarkBookingRead(ctx context.Context, id int64) error {
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET read_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark booking read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// ConfirmedSeats returns the confirmed seat sum for one trip.
func (db *DB) ConfirmedSeats(ctx context.Context, tripID int64) (int64, error) {
	var seats int64
	query := `SELECT COALESCE(SUM(num_persons), 0) FROM bookings WHERE trip_id = ? AND status = ?`
	err := db.QueryRowContext(ctx, query, tripID, models.StatusConfirmed).Scan(&seats)
	if err != nil {
		return 0, fmt.Errorf("failed to sum confirmed seats: %w", err)
	}
	return seats, nil
}

// ConfirmedSeatsBulk returns confirmed seat sums keyed by trip id.
// Trips with no confirmed bookings are absent from the map.
func (db *DB) ConfirmedSeatsBulk(ctx context.Context) (map[int64]int64, error) {
	query := `SELECT trip_id, SUM(num_persons) FROM bookings WHERE status = ? GROUP BY trip_id`
	rows, err := db.QueryContext(ctx, query, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed seats bulk: %w", err)
	}
	defer rows.Close()

	seats := make(map[int64]int64)
	for rows.Next() {
		var tripID, sum int64
		if err := rows.Scan(&tripID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan confirmed seats: %w", err)
		}
		seats[tripID] = sum
	}
	return seats, rows.Err()
}

// ConfirmedRevenue returns the confirmed revenue sum for one trip.
func (db *DB) ConfirmedRevenue(ctx context.Context, tripID int64) (float64, error) {
	var revenue float64
	query := `SELECT COALESCE(SUM(amount_paid), 0) FROM bookings WHERE trip_id = ? AND status = ?`
	err := db.QueryRowContext(ctx, query, tripID, models.StatusConfirmed).Scan(&revenue)
	if err != nil {
		return 0, fmt.Errorf("failed to sum confirmed revenue: %w", err)
	}
	return revenue, nil
}

// MostBookedTrip returns the trip with the largest confirmed seat count,
// or nil when there are no confirmed bookings.
func (db *DB) MostBookedTrip(ctx context.Context) (*models.Trip, error) {
	query := `SELECT t.id, t.title, t.location, t.price, t.capacity, t.start_date, t.end_date,
	                 COALESCE(t.image_url, ''), t.created_at, t.updated_at
              FROM trips t
              JOIN bookings b ON b.trip_id = t.id AND b.status = ?
              GROUP BY t.id
              ORDER BY SUM(b.num_persons) DESC, t.id
              LIMIT 1`
	var trip models.Trip
	err := db.QueryRowContext(ctx, query, models.StatusConfirmed).Scan(
		&trip.ID, &trip.Title, &trip.Location, &trip.Price, &trip.Capacity,
		&trip.StartDate, &trip.EndDate, &trip.ImageURL, &trip.CreatedAt, &trip.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get most booked trip: %w", err)
	}
	return &trip, nil
}
