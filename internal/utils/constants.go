package utils

import "time"

// Application Constants
const (
	AppName    = "RidePool"
	AppVersion = "1.0.0"

	// Default values
	DefaultTimeZone = "UTC"

	// Matching defaults, overridable via MatchingConfig environment knobs.
	DefaultGroupSeatCap    = 4
	DefaultOverlapGapSlack = 150.0 // meters
	MinSeatCount           = 1
	MaxSeatCount           = 4
	MaxPickupRadius        = 2000.0 // meters
	MaxDestinationRadius   = 2000.0 // meters

	// Earth radius for haversine distances
	EarthRadiusM = 6371000.0

	// Cache
	TripCacheTTL      = 5 * time.Minute
	EventDedupTTL     = 24 * time.Hour
	SuggestionMaxRank = 5

	// Response statuses
	StatusSuccess = "success"
	StatusError   = "error"

	// Collection names
	CollectionTrips      = "trips"
	CollectionTripGroups = "trip_groups"
	CollectionMessages   = "messages"
	CollectionUsers      = "users"
)

// Error codes
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodePrecondition = "PRECONDITION_FAILED"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodePayment      = "PAYMENT_ERROR"
)
