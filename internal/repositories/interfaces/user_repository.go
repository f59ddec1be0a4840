package interfaces

import (
	"context"

	"ridepool/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)

	// IncrementTicketCount adjusts the ticket counter by delta, which may be
	// negative. This is the only payment-adjacent operation the core performs.
	IncrementTicketCount(ctx context.Context, id primitive.ObjectID, delta int) error

	// GetDeviceTokens resolves push tokens for a set of users.
	GetDeviceTokens(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID][]string, error)
}
