package interfaces

import (
	"context"

	"ridepool/internal/models"
)

type MessageRepository interface {
	// Insert stores a chat message under its trip group.
	Insert(ctx context.Context, msg *models.Message) error
}
