package models

import "time"

// DateKeyLayout is the calendar-day key used for analytics buckets.
const DateKeyLayout = "2006-01-02"

// AnalyticsBucket holds per-day running counters derived from confirmed
// bookings. Created on first event for a date, thereafter adjusted.
type AnalyticsBucket struct {
	Date          string  `json:"date"`
	TotalBookings int64   `json:"total_bookings"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalTrips    int64   `json:"total_trips"`
}

// AnalyticsDelta is the payload of an analytics queue job. Amounts are
// always positive; the job type decides the sign.
type AnalyticsDelta struct {
	Date     string  `json:"date"`
	Bookings int64   `json:"bookings"`
	Revenue  float64 `json:"revenue"`
}

func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}

// Dashboard is the aggregate snapshot served to staff.
type Dashboard struct {
	TotalBookings     int64   `json:"total_bookings"`
	TotalRevenue      float64 `json:"total_revenue"`
	TotalTrips        int64   `json:"total_trips"`
	MostBookedTrip    *Trip   `json:"most_booked_trip,omitempty"`
	OngoingTripsToday int64   `json:"ongoing_trips_today"`
}
