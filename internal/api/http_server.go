package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/service"

	"github.com/rs/zerolog"
)

// BookingExporter writes the booking report to disk and returns the
// generated file path.
type BookingExporter interface {
	ExportBookings(ctx context.Context) (string, error)
}

type HTTPServer struct {
	cfg       config.APIConfig
	bookings  *service.BookingService
	trips     *service.TripService
	analytics *service.AnalyticsService
	exporter  BookingExporter
	jobs      domain.JobQueue
	auth      *HTTPAuth
	logger    *zerolog.Logger
	srv       *http.Server
}

func NewHTTPServer(
	cfg config.APIConfig,
	bookings *service.BookingService,
	trips *service.TripService,
	analytics *service.AnalyticsService,
	exporter BookingExporter,
	jobs domain.JobQueue,
	logger *zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		cfg:       cfg,
		bookings:  bookings,
		trips:     trips,
		analytics: analytics,
		exporter:  exporter,
		jobs:      jobs,
		auth:      NewHTTPAuth(cfg),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/bookings", s.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", s.handleBookingByID)
	mux.HandleFunc("/api/v1/trips", s.handleTrips)
	mux.HandleFunc("/api/v1/trips/", s.handleTripByID)
	mux.HandleFunc("/api/v1/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/v1/analytics", s.handleAnalyticsBucket)
	mux.HandleFunc("/api/v1/exports/bookings", s.handleExportBookings)
	mux.HandleFunc("/api/v1/exports/sheets", s.handleExportSheets)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      s.auth.Wrap(s.loggingMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the wrapped mux for tests.
func (s *HTTPServer) Handler() http.Handler { return s.srv.Handler }

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- bookings ---

type createBookingRequest struct {
	TripID       int64  `json:"trip_id"`
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	NumPersons   int64  `json:"num_persons"`
	Status       string `json:"status"`
}

type updateBookingRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodGet:
		if !s.requirePrivileged(w, r) {
			return
		}
		bookings, err := s.bookings.ListBookings(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookings)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	status := models.BookingStatus(strings.TrimSpace(req.Status))
	// Only privileged clients may skip the pending stage.
	if status != "" && status != models.StatusPending && !ClientFrom(r.Context()).Privileged {
		writeError(w, http.StatusForbidden, "only privileged clients may set booking status")
		return
	}

	booking, err := s.bookings.ReserveAndCreateBooking(r.Context(), service.CreateBookingInput{
		TripID:       req.TripID,
		CustomerName: req.CustomerName,
		Email:        req.Email,
		Phone:        req.Phone,
		NumPersons:   req.NumPersons,
		Status:       status,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

// handleBookingByID dispatches /api/v1/bookings/{id} and
// /api/v1/bookings/{id}/read.
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	if !s.requirePrivileged(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if len(parts) == 2 && parts[1] == "read" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		booking, err := s.bookings.MarkBookingRead(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
		return
	}

	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		booking, err := s.bookings.GetBooking(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	case http.MethodPatch:
		var req updateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		booking, err := s.bookings.ChangeBookingStatus(r.Context(), id, req.Version, models.BookingStatus(req.Status))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	case http.MethodDelete:
		if err := s.bookings.DeleteBooking(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- trips ---

func (s *HTTPServer) handleTrips(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		trips, err := s.trips.ListTrips(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, trips)
	case http.MethodPost:
		if !s.requirePrivileged(w, r) {
			return
		}
		var trip models.Trip
		if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := s.trips.CreateTrip(r.Context(), &trip); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, trip)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTripByID dispatches /api/v1/trips/{id} and
// /api/v1/trips/location/{loc}.
func (s *HTTPServer) handleTripByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/trips/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if parts[0] == "location" {
		if r.Method != http.MethodGet || len(parts) != 2 {
			writeError(w, http.StatusBadRequest, "invalid location request")
			return
		}
		trips, err := s.trips.ListTripsByLocation(r.Context(), parts[1])
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, trips)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || len(parts) != 1 {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		occ, err := s.trips.GetTrip(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, occ)
	case http.MethodPut:
		if !s.requirePrivileged(w, r) {
			return
		}
		var trip models.Trip
		if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		trip.ID = id
		if err := s.trips.UpdateTrip(r.Context(), &trip); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, trip)
	case http.MethodDelete:
		if !s.requirePrivileged(w, r) {
			return
		}
		if err := s.trips.DeleteTrip(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- analytics ---

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requirePrivileged(w, r) {
		return
	}

	dashboard, err := s.analytics.Dashboard(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// handleAnalyticsBucket serves one raw rollup bucket. Without a date
// parameter it returns the most recent bucket.
func (s *HTTPServer) handleAnalyticsBucket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requirePrivileged(w, r) {
		return
	}

	dateKey := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateKey == "" {
		bucket, err := s.analytics.LatestBucket(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bucket)
		return
	}

	if _, err := time.Parse(models.DateKeyLayout, dateKey); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	bucket, err := s.analytics.Bucket(r.Context(), dateKey)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bucket)
}

// --- exports ---

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requirePrivileged(w, r) {
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	path, err := s.exporter.ExportBookings(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *HTTPServer) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requirePrivileged(w, r) {
		return
	}

	dateKey := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateKey == "" {
		dateKey = models.DateKey(time.Now())
	}
	if _, err := time.Parse(models.DateKeyLayout, dateKey); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	if err := s.jobs.EnqueueSheetsExport(r.Context(), dateKey); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "date": dateKey})
}

// --- helpers ---

func (s *HTTPServer) requirePrivileged(w http.ResponseWriter, r *http.Request) bool {
	if ClientFrom(r.Context()).Privileged {
		return true
	}
	writeError(w, http.StatusForbidden, "privileged api key required")
	return false
}

// writeDomainError maps service and ledger errors to HTTP statuses. A
// capacity rejection carries the remaining seat count in the body.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var capErr *database.CapacityError
	var valErr *service.ValidationError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":           capErr.Error(),
			"trip_id":         capErr.TripID,
			"requested":       capErr.Requested,
			"remaining_seats": capErr.Remaining,
		})
	case errors.Is(err, database.ErrTripNotFound), errors.Is(err, database.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrInvalidPersons), errors.Is(err, database.ErrCapacityBelowConfirmed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
