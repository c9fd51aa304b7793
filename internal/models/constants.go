package models

const (
	// DispatcherQueueSize размер локальной очереди диспетчера
	DispatcherQueueSize = 1000

	// TripCacheTTL время жизни кэша поездок (секунды)
	TripCacheTTL = 60

	// BookingCacheTTL время жизни кэша бронирований (секунды)
	BookingCacheTTL = 60

	// DashboardCacheTTL время жизни кэша дашборда (секунды)
	DashboardCacheTTL = 30

	// RateLimitRequests запросов в окне по умолчанию
	RateLimitRequests = 20

	// RateLimitWindow окно ограничения частоты (секунды)
	RateLimitWindow = 60
)
