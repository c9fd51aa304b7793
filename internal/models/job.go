package models

import "time"

// Job statuses in the durable queue. The row doubles as the dedup
// ledger: a consumer claims a delivery by moving the row to processing,
// and a redelivery that loses the claim is skipped.
const (
	JobStatusPending    = "pending"
	JobStatusRetry      = "retry"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

type Job struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	Type        string     `json:"type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
