package service

import (
	"context"
	"testing"
	"time"

	"tripline/internal/database"
	"tripline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripServiceOccupancy(t *testing.T) {
	db, c, logger := newTestEnv(t)
	svc := NewTripService(db, c, nil, time.Minute, logger)
	bookings := NewBookingService(db, c, &fakeJobQueue{}, nil, time.Minute, logger)
	trip := newServiceTrip(t, db, 10, 100)

	_, err := bookings.ReserveAndCreateBooking(context.Background(), CreateBookingInput{
		TripID: trip.ID, CustomerName: "Ivan", Phone: "+1", NumPersons: 4, Status: models.StatusConfirmed,
	})
	require.NoError(t, err)

	occ, err := svc.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), occ.BookedSeats)
	assert.Equal(t, int64(6), occ.RemainingSeats)
}

func TestTripServiceListByLocation(t *testing.T) {
	db, c, logger := newTestEnv(t)
	svc := NewTripService(db, c, nil, time.Minute, logger)

	altai := &models.Trip{Title: "A", Location: "Altai", Capacity: 5, Price: 10,
		StartDate: time.Now(), EndDate: time.Now().AddDate(0, 0, 1)}
	require.NoError(t, svc.CreateTrip(context.Background(), altai))
	karelia := &models.Trip{Title: "B", Location: "Karelia", Capacity: 5, Price: 10,
		StartDate: time.Now(), EndDate: time.Now().AddDate(0, 0, 1)}
	require.NoError(t, svc.CreateTrip(context.Background(), karelia))

	trips, err := svc.ListTripsByLocation(context.Background(), "altai")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "A", trips[0].Trip.Title)

	_, err = svc.ListTripsByLocation(context.Background(), "  ")
	assert.Error(t, err)

	all, err := svc.ListTrips(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTripServiceValidation(t *testing.T) {
	db, c, logger := newTestEnv(t)
	svc := NewTripService(db, c, nil, time.Minute, logger)
	ctx := context.Background()

	base := models.Trip{Title: "T", Location: "L", Capacity: 5, Price: 10,
		StartDate: time.Now(), EndDate: time.Now().AddDate(0, 0, 1)}

	var valErr *ValidationError

	noTitle := base
	noTitle.Title = " "
	assert.ErrorAs(t, svc.CreateTrip(ctx, &noTitle), &valErr)

	zeroCap := base
	zeroCap.Capacity = 0
	assert.ErrorAs(t, svc.CreateTrip(ctx, &zeroCap), &valErr)

	negPrice := base
	negPrice.Price = -1
	assert.ErrorAs(t, svc.CreateTrip(ctx, &negPrice), &valErr)

	backwards := base
	backwards.EndDate = backwards.StartDate.AddDate(0, 0, -1)
	assert.ErrorAs(t, svc.CreateTrip(ctx, &backwards), &valErr)
}

func TestTripServiceCreateUpdatesTripAnalytics(t *testing.T) {
	db, c, logger := newTestEnv(t)
	svc := NewTripService(db, c, nil, time.Minute, logger)
	ctx := context.Background()

	trip := models.Trip{Title: "T", Location: "L", Capacity: 5, Price: 10,
		StartDate: time.Now(), EndDate: time.Now().AddDate(0, 0, 1)}
	require.NoError(t, svc.CreateTrip(ctx, &trip))

	bucket, err := db.GetAnalytics(ctx, models.DateKey(trip.CreatedAt))
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.TotalTrips)

	require.NoError(t, svc.DeleteTrip(ctx, trip.ID))
	bucket, err = db.GetAnalytics(ctx, models.DateKey(trip.CreatedAt))
	require.NoError(t, err)
	assert.Equal(t, int64(0), bucket.TotalTrips)
}

func TestTripServiceUpdateRejectsCapacityBelowConfirmed(t *testing.T) {
	db, c, logger := newTestEnv(t)
	svc := NewTripService(db, c, nil, time.Minute, logger)
	bookings := NewBookingService(db, c, &fakeJobQueue{}, nil, time.Minute, logger)
	trip := newServiceTrip(t, db, 10, 100)

	_, err := bookings.ReserveAndCreateBooking(context.Background(), CreateBookingInput{
		TripID: trip.ID, CustomerName: "Ivan", Phone: "+1", NumPersons: 6, Status: models.StatusConfirmed,
	})
	require.NoError(t, err)

	trip.Capacity = 4
	err = svc.UpdateTrip(context.Background(), trip)
	assert.ErrorIs(t, err, database.ErrCapacityBelowConfirmed)
}

func TestAnalyticsServiceDashboard(t *testing.T) {
	db, c, logger := newTestEnv(t)
	trips := NewTripService(db, c, nil, time.Minute, logger)
	bookings := NewBookingService(db, c, &fakeJobQueue{}, nil, time.Minute, logger)
	analytics := NewAnalyticsService(db, c, time.Minute, logger)
	ctx := context.Background()

	trip := models.Trip{Title: "T", Location: "L", Capacity: 10, Price: 100,
		StartDate: time.Now().AddDate(0, 0, -1), EndDate: time.Now().AddDate(0, 0, 1)}
	require.NoError(t, trips.CreateTrip(ctx, &trip))

	booking, err := bookings.ReserveAndCreateBooking(ctx, CreateBookingInput{
		TripID: trip.ID, CustomerName: "Ivan", Phone: "+1", NumPersons: 2, Status: models.StatusConfirmed,
	})
	require.NoError(t, err)

	// The worker normally applies the delta; do it directly here.
	require.NoError(t, db.UpsertAnalytics(ctx, models.DateKey(booking.CreatedAt), 1, booking.AmountPaid))

	dashboard, err := analytics.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dashboard.TotalBookings)
	assert.Equal(t, float64(200), dashboard.TotalRevenue)
	assert.Equal(t, int64(1), dashboard.TotalTrips)
	require.NotNil(t, dashboard.MostBookedTrip)
	assert.Equal(t, trip.ID, dashboard.MostBookedTrip.ID)
	assert.Equal(t, int64(1), dashboard.OngoingTripsToday)
}
