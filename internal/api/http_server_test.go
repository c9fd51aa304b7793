package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tripline/internal/cache"
	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/models"
	"tripline/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	frontendKey = "frontend-key"
	staffKey    = "staff-key"
)

type testEnv struct {
	server *HTTPServer
	db     *database.DB
	jobs   *fakeJobQueue
}

type fakeJobQueue struct {
	increments int
	decrements int
	exports    []string
}

func (f *fakeJobQueue) EnqueueAnalyticsIncrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error {
	f.increments++
	return nil
}

func (f *fakeJobQueue) EnqueueAnalyticsDecrement(ctx context.Context, bookingID int64, delta models.AnalyticsDelta) error {
	f.decrements++
	return nil
}

func (f *fakeJobQueue) EnqueueSheetsExport(ctx context.Context, dateKey string) error {
	f.exports = append(f.exports, dateKey)
	return nil
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(cache.NewMemoryStore(), &logger)
	jobs := &fakeJobQueue{}

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: frontendKey, Name: "frontend", Privileged: false},
				{Key: staffKey, Name: "staff", Privileged: true},
			},
		},
	}

	bookings := service.NewBookingService(db, c, jobs, nil, time.Minute, &logger)
	trips := service.NewTripService(db, c, nil, time.Minute, &logger)
	analytics := service.NewAnalyticsService(db, c, time.Minute, &logger)

	server := NewHTTPServer(cfg, bookings, trips, analytics, nil, jobs, &logger)
	return &testEnv{server: server, db: db, jobs: jobs}
}

func (e *testEnv) request(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createTrip(t *testing.T, capacity int64, price float64) *models.Trip {
	t.Helper()
	trip := &models.Trip{
		Title:     "API Trip",
		Location:  "Altai",
		Price:     price,
		Capacity:  capacity,
		StartDate: time.Now().AddDate(0, 0, 7),
		EndDate:   time.Now().AddDate(0, 0, 10),
	}
	require.NoError(t, e.db.CreateTrip(context.Background(), trip))
	return trip
}

func TestAuthRequired(t *testing.T) {
	env := newTestServer(t)

	rec := env.request(t, http.MethodGet, "/api/v1/trips", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/trips", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/trips", frontendKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzSkipsAuth(t *testing.T) {
	env := newTestServer(t)
	rec := env.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBooking(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 10, 500)

	rec := env.request(t, http.MethodPost, "/api/v1/bookings", frontendKey, map[string]interface{}{
		"trip_id":       trip.ID,
		"customer_name": "Ivan",
		"phone":         "+7900",
		"num_persons":   2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, float64(1000), booking.AmountPaid)
	assert.NotEmpty(t, booking.Ref)
}

func TestCreateBookingStatusRequiresPrivilege(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 10, 500)

	body := map[string]interface{}{
		"trip_id":       trip.ID,
		"customer_name": "Ivan",
		"phone":         "+7900",
		"num_persons":   1,
		"status":        "confirmed",
	}

	rec := env.request(t, http.MethodPost, "/api/v1/bookings", frontendKey, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/bookings", staffKey, body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, env.jobs.increments)
}

func TestCreateBookingCapacityConflict(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 2, 500)

	body := func(persons int) map[string]interface{} {
		return map[string]interface{}{
			"trip_id":       trip.ID,
			"customer_name": "Ivan",
			"phone":         "+7900",
			"num_persons":   persons,
			"status":        "confirmed",
		}
	}

	rec := env.request(t, http.MethodPost, "/api/v1/bookings", staffKey, body(2))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/bookings", staffKey, body(1))
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["remaining_seats"])
	assert.Equal(t, float64(1), resp["requested"])
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 5, 100)

	rec := env.request(t, http.MethodPost, "/api/v1/bookings", frontendKey, map[string]interface{}{
		"trip_id":       trip.ID,
		"customer_name": "Ivan",
		"phone":         "+7900",
		"num_persons":   0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/bookings", frontendKey, map[string]interface{}{
		"trip_id":       int64(999),
		"customer_name": "Ivan",
		"phone":         "+7900",
		"num_persons":   1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 5, 100)

	rec := env.request(t, http.MethodPost, "/api/v1/bookings", frontendKey, map[string]interface{}{
		"trip_id":       trip.ID,
		"customer_name": "Ivan",
		"phone":         "+7900",
		"num_persons":   2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))

	// Listing bookings is staff-only.
	rec = env.request(t, http.MethodGet, "/api/v1/bookings", frontendKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.request(t, http.MethodGet, "/api/v1/bookings", staffKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Confirm with the current version.
	path := fmt.Sprintf("/api/v1/bookings/%d", booking.ID)
	rec = env.request(t, http.MethodPatch, path, staffKey, map[string]interface{}{
		"status": "confirmed", "version": booking.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.jobs.increments)

	// A second update with the stale version conflicts.
	rec = env.request(t, http.MethodPatch, path, staffKey, map[string]interface{}{
		"status": "cancelled", "version": booking.Version,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Mark as read.
	rec = env.request(t, http.MethodPost, path+"/read", staffKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var read models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &read))
	assert.NotNil(t, read.ReadAt)

	// Delete releases the confirmed seats and queues a decrement.
	rec = env.request(t, http.MethodDelete, path, staffKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.jobs.decrements)

	rec = env.request(t, http.MethodGet, path, staffKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTripEndpoints(t *testing.T) {
	env := newTestServer(t)
	trip := env.createTrip(t, 8, 250)

	rec := env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/trips/%d", trip.ID), frontendKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var occ models.TripOccupancy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &occ))
	assert.Equal(t, int64(8), occ.RemainingSeats)

	rec = env.request(t, http.MethodGet, "/api/v1/trips/location/altai", frontendKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/trips/abc", frontendKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Catalog mutations are staff-only.
	newTrip := map[string]interface{}{
		"title": "New", "location": "Karelia", "price": 100, "capacity": 5,
		"start_date": time.Now().Format(time.RFC3339),
		"end_date":   time.Now().AddDate(0, 0, 1).Format(time.RFC3339),
	}
	rec = env.request(t, http.MethodPost, "/api/v1/trips", frontendKey, newTrip)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.request(t, http.MethodPost, "/api/v1/trips", staffKey, newTrip)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDashboardPrivileged(t *testing.T) {
	env := newTestServer(t)

	rec := env.request(t, http.MethodGet, "/api/v1/dashboard", frontendKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/dashboard", staffKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dashboard models.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	assert.Zero(t, dashboard.TotalBookings)
}

func TestAnalyticsBucketEndpoint(t *testing.T) {
	env := newTestServer(t)
	require.NoError(t, env.db.UpsertAnalytics(context.Background(), "2026-08-01", 2, 500))
	require.NoError(t, env.db.UpsertAnalytics(context.Background(), "2026-08-02", 1, 100))

	rec := env.request(t, http.MethodGet, "/api/v1/analytics?date=2026-08-01", frontendKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/analytics?date=2026-08-01", staffKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bucket models.AnalyticsBucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bucket))
	assert.Equal(t, int64(2), bucket.TotalBookings)

	// Without a date the latest bucket is served.
	rec = env.request(t, http.MethodGet, "/api/v1/analytics", staffKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bucket))
	assert.Equal(t, "2026-08-02", bucket.Date)

	rec = env.request(t, http.MethodGet, "/api/v1/analytics?date=bad", staffKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportSheetsQueuesJob(t *testing.T) {
	env := newTestServer(t)

	rec := env.request(t, http.MethodPost, "/api/v1/exports/sheets?date=2026-08-05", staffKey, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.jobs.exports, 1)
	assert.Equal(t, "2026-08-05", env.jobs.exports[0])

	rec = env.request(t, http.MethodPost, "/api/v1/exports/sheets?date=garbage", staffKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: frontendKey, Name: "frontend"}},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2},
	}
	c := cache.New(cache.NewMemoryStore(), &logger)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "rl.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server := NewHTTPServer(cfg,
		service.NewBookingService(db, c, &fakeJobQueue{}, nil, time.Minute, &logger),
		service.NewTripService(db, c, nil, time.Minute, &logger),
		service.NewAnalyticsService(db, c, time.Minute, &logger),
		nil, &fakeJobQueue{}, &logger)
	env := &testEnv{server: server, db: db}

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := env.request(t, http.MethodGet, "/api/v1/trips", frontendKey, nil)
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}
