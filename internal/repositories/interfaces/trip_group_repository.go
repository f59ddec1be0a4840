package interfaces

import (
	"context"

	"ridepool/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripGroupRepository is the typed store adapter for trip group documents.
// Member and potential-member mutations are keyed by trip ref.
type TripGroupRepository interface {
	Create(ctx context.Context, group *models.TripGroup) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.TripGroup, error)
	Update(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error
	Delete(ctx context.Context, id primitive.ObjectID) error

	AddMember(ctx context.Context, id primitive.ObjectID, member models.TripGroupMember) error
	UpdateMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error
	RemoveMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error)

	AddPotentialMember(ctx context.Context, id primitive.ObjectID, member models.PotentialTripMember) error
	UpdatePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error
	RemovePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error)

	IncrementSeatCount(ctx context.Context, id primitive.ObjectID, delta int) error
	SetRecentMessage(ctx context.Context, id primitive.ObjectID, msg *models.RecentMessage) error
}
