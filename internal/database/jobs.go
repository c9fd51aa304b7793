package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tripline/internal/models"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO job_queue (job_key, job_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		job.Key,
		job.Type,
		job.BookingID,
		job.Payload,
		job.Status,
		job.RetryCount,
		job.LastError,
		now,
		job.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now

	return nil
}

const selectJob = `SELECT id, job_key, job_type, COALESCE(booking_id, 0), COALESCE(payload, ''), status,
       retry_count, COALESCE(last_error, ''), created_at, processed_at, next_retry_at
       FROM job_queue`

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var processedAt, nextRetryAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.Key, &job.Type, &job.BookingID, &job.Payload, &job.Status,
		&job.RetryCount, &job.LastError, &job.CreatedAt, &processedAt, &nextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		job.ProcessedAt = &processedAt.Time
	}
	if nextRetryAt.Valid {
		job.NextRetryAt = &nextRetryAt.Time
	}
	return &job, nil
}

// jobClaimLease bounds how long a claimed job stays invisible to the
// poller. A consumer that dies mid-job leaves the row in processing;
// once the lease runs out the job is handed out again.
const jobClaimLease = time.Minute

// ClaimJob atomically takes ownership of one delivery. Of several
// consumers racing over the same job exactly one sees true; the rest
// skip. The claim doubles as the dedup check: completed and failed rows
// can never be claimed again.
func (db *DB) ClaimJob(ctx context.Context, id int64) (bool, error) {
	now := time.Now()
	lease := now.Add(jobClaimLease)
	query := `UPDATE job_queue SET status = ?, next_retry_at = ?
              WHERE id = ? AND status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)`
	result, err := db.ExecContext(ctx, query,
		models.JobStatusProcessing, lease,
		id, models.JobStatusPending, models.JobStatusRetry, models.JobStatusProcessing, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return rows == 1, nil
}

// PendingJobs returns jobs ready for delivery, oldest first. Processing
// rows whose claim lease expired count as ready again.
func (db *DB) PendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	query := selectJob + ` WHERE status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.JobStatusPending, models.JobStatusRetry, models.JobStatusProcessing, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch status {
	case models.JobStatusRetry:
		query = `UPDATE job_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case models.JobStatusCompleted, models.JobStatusFailed:
		query = `UPDATE job_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, &now, id}
	default:
		query = `UPDATE job_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (db *DB) FailedJobs(ctx context.Context) ([]models.Job, error) {
	query := selectJob + ` WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, models.JobStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
