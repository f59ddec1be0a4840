package interfaces

import (
	"context"

	"ridepool/internal/models"
)

// TripRepository is the typed store adapter for trip documents. All edge
// mutations are keyed by the neighbor's trip ref, never by whole-element
// structural equality, so cached fields that drifted (radii, distances) can
// never cause a silent no-op removal.
type TripRepository interface {
	// Basic document operations
	Get(ctx context.Context, ref models.TripRef) (*models.Trip, error)
	Create(ctx context.Context, trip *models.Trip) error
	Update(ctx context.Context, ref models.TripRef, fields map[string]interface{}) error
	Delete(ctx context.Context, ref models.TripRef) error

	// Matched edge operations
	AddMatchedTrip(ctx context.Context, ref models.TripRef, edge models.MatchedTrip) error
	UpdateMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error
	RemoveMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error)

	// Potential edge operations
	AddPotentialTrip(ctx context.Context, ref models.TripRef, edge models.PotentialTrip) error
	UpdatePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error
	RemovePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error)

	// Status and reservation
	SetStatus(ctx context.Context, ref models.TripRef, status models.TripStatus) error
	SetReservation(ctx context.Context, ref models.TripRef, reserved bool, by *models.TripRef) error
	ClearGroupAssignment(ctx context.Context, ref models.TripRef) error

	// Read-side caching, outside transactions only
	GetCached(ctx context.Context, ref models.TripRef) (*models.Trip, error)
	InvalidateCache(ctx context.Context, ref models.TripRef)
}
