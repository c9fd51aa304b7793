package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripline/internal/cache"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/metrics"
	"tripline/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	JobAnalyticsIncrement = "analytics_increment"
	JobAnalyticsDecrement = "analytics_decrement"
	JobSheetsExport       = "sheets_export"
)

// SheetsPusher pushes one day's rollup to the reporting spreadsheet.
type SheetsPusher interface {
	PushDailyRollup(ctx context.Context, bucket *models.AnalyticsBucket) error
}

// sheetsExportPayload is persisted in Job.Payload as JSON.
type sheetsExportPayload struct {
	Date string `json:"date"`
}

// Dispatcher is the at-least-once job pipeline. A job is durable in the
// job_queue table before it is scheduled; redis and the local channel
// only accelerate delivery, the DB poller is the backstop. A consumer
// claims the job row atomically before applying, so duplicate
// deliveries — including ones racing across processes — are no-ops.
type Dispatcher struct {
	db            *database.DB
	cache         domain.Cache
	sheets        SheetsPusher
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.Job
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewDispatcher builds a dispatcher with sane defaults. redisClient and
// sheets may be nil; the queue then runs on the DB and local channel.
func NewDispatcher(db *database.DB, c domain.Cache, sheets SheetsPusher, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *Dispatcher {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &Dispatcher{
		db:            db,
		cache:         c,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.Job, models.DispatcherQueueSize),
		redisQueueKey: "jobs:queue",
		deadLetterKey: "jobs:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

func (d *Dispatcher) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.pollInterval = interval
	}
}

func (d *Dispatcher) SetBatchSize(size int) {
	if size > 0 {
		d.batchSize = size
	}
}

func (d *Dispatcher) EnqueueAnalyticsIncrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error {
	return d.enqueue(ctx, JobAnalyticsIncrement, bookingID, delta)
}

func (d *Dispatcher) EnqueueAnalyticsDecrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error {
	return d.enqueue(ctx, JobAnalyticsDecrement, bookingID, delta)
}

func (d *Dispatcher) EnqueueSheetsExport(ctx context.Context, dateKey string) error {
	return d.enqueue(ctx, JobSheetsExport, 0, sheetsExportPayload{Date: dateKey})
}

// enqueue persists the job, then schedules it via redis or the local queue.
func (d *Dispatcher) enqueue(ctx context.Context, jobType string, bookingID int64, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	job := models.Job{
		Key:       uuid.NewString(),
		Type:      jobType,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.JobStatusPending,
	}

	if err := d.db.CreateJob(ctx, &job); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}

	// Try redis first so a second process can pick the job up.
	if d.redis != nil {
		if err := d.pushRedis(ctx, job); err != nil {
			d.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("redis push failed, fallback to local queue")
		} else {
			return nil
		}
	}

	select {
	case d.queue <- job:
	default:
		d.logger.Warn().Int64("job_id", job.ID).Msg("local queue full, job left to polling")
	}

	return nil
}

// Start launches the consume loop; stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("dispatcher started")
	defer d.logger.Info().Msg("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if job, ok := d.tryLocalQueue(); ok {
			d.processJob(ctx, &job)
			continue
		}

		if job, ok := d.tryRedis(ctx); ok {
			d.processJob(ctx, &job)
			continue
		}

		jobs, err := d.db.PendingJobs(ctx, d.batchSize)
		if err != nil {
			d.logger.Error().Err(err).Msg("fetch pending jobs")
			time.Sleep(d.pollInterval)
			continue
		}
		if len(jobs) == 0 {
			time.Sleep(d.pollInterval)
			continue
		}

		for i := range jobs {
			d.processJob(ctx, &jobs[i])
		}
	}
}

func (d *Dispatcher) tryLocalQueue() (models.Job, bool) {
	select {
	case job := <-d.queue:
		return job, true
	default:
		return models.Job{}, false
	}
}

func (d *Dispatcher) tryRedis(ctx context.Context) (models.Job, bool) {
	if d.redis == nil {
		return models.Job{}, false
	}
	res, err := d.redis.BRPop(ctx, time.Second, d.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.Job{}, false
		}
		d.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.Job{}, false
	}
	if len(res) != 2 {
		return models.Job{}, false
	}
	var job models.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		d.logger.Error().Err(err).Msg("decode redis job")
		return models.Job{}, false
	}
	return job, true
}

// processJob applies one delivery. Deliveries may repeat and several
// consumers may share the ledger, so the job row is claimed atomically
// first; losing the claim means another consumer owns the delivery or
// the job is already done, and the payload must not be applied again.
func (d *Dispatcher) processJob(ctx context.Context, job *models.Job) {
	claimed, err := d.db.ClaimJob(ctx, job.ID)
	if err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("claim job")
		return
	}
	if !claimed {
		metrics.IncJob("duplicate")
		return
	}

	fresh, err := d.db.GetJob(ctx, job.ID)
	if err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("reload job")
		return
	}

	if err := d.handleJob(ctx, fresh); err != nil {
		var term *terminalError
		if errors.As(err, &term) {
			d.failJob(ctx, fresh, term.err)
			return
		}
		d.retryOrFail(ctx, fresh, err)
		return
	}

	if err := d.db.UpdateJobStatus(ctx, fresh.ID, models.JobStatusCompleted, "", nil); err != nil {
		d.logger.Error().Err(err).Int64("job_id", fresh.ID).Msg("mark job completed")
	}
	metrics.IncJob("completed")
	d.invalidateRollups(ctx, fresh)
}

// terminalError marks a failure that can never succeed on retry.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func terminal(err error) error { return &terminalError{err: err} }

func (d *Dispatcher) handleJob(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case JobAnalyticsIncrement, JobAnalyticsDecrement:
		var delta models.AnalyticsDelta
		if err := json.Unmarshal([]byte(job.Payload), &delta); err != nil {
			return terminal(fmt.Errorf("decode analytics payload: %w", err))
		}
		if delta.Date == "" {
			return terminal(errors.New("analytics payload date missing"))
		}
		bookings, revenue := delta.Bookings, delta.Revenue
		if job.Type == JobAnalyticsDecrement {
			bookings, revenue = -bookings, -revenue
		}
		return d.db.UpsertAnalytics(ctx, delta.Date, bookings, revenue)
	case JobSheetsExport:
		if d.sheets == nil {
			return terminal(errors.New("sheets pusher is not configured"))
		}
		var payload sheetsExportPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return terminal(fmt.Errorf("decode export payload: %w", err))
		}
		bucket, err := d.db.GetAnalytics(ctx, payload.Date)
		if err != nil {
			return err
		}
		return d.sheets.PushDailyRollup(ctx, bucket)
	default:
		return terminal(fmt.Errorf("unknown job type: %s", job.Type))
	}
}

// invalidateRollups drops the dashboard caches after a rollup change so
// the next read recomputes from the updated buckets.
func (d *Dispatcher) invalidateRollups(ctx context.Context, job *models.Job) {
	if d.cache == nil {
		return
	}
	day := time.Now()
	var delta models.AnalyticsDelta
	if err := json.Unmarshal([]byte(job.Payload), &delta); err == nil && delta.Date != "" {
		if parsed, err := time.Parse(models.DateKeyLayout, delta.Date); err == nil {
			day = parsed
		}
	}
	d.cache.InvalidateAll(ctx, cache.DashboardKeys(day)...)
}

func (d *Dispatcher) retryOrFail(ctx context.Context, job *models.Job, cause error) {
	attempt := job.RetryCount + 1
	if attempt >= d.retryPolicy.MaxRetries {
		d.failJob(ctx, job, cause)
		return
	}

	nextDelay := d.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := d.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRetry, cause.Error(), &nextTime); err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark job retry")
	}
	metrics.IncJob("retried")
}

func (d *Dispatcher) failJob(ctx context.Context, job *models.Job, cause error) {
	if err := d.db.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, cause.Error(), nil); err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark job failed")
	}
	metrics.IncJob("failed")
	d.pushDeadLetter(ctx, job)
}

func (d *Dispatcher) pushRedis(ctx context.Context, job models.Job) error {
	if d.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.redis.LPush(ctx, d.redisQueueKey, data).Err()
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, job *models.Job) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("encode deadletter job")
		return
	}
	if err := d.redis.LPush(ctx, d.deadLetterKey, data).Err(); err != nil {
		d.logger.Error().Err(err).Int64("job_id", job.ID).Msg("deadletter push")
	}
}
