package mongodb

import (
	"context"

	"ridepool/internal/repositories/interfaces"
	"ridepool/pkg/database"

	"go.mongodb.org/mongo-driver/mongo"
)

type transactionManager struct {
	db *database.MongoDB
}

func NewTransactionManager(db *database.MongoDB) interfaces.TransactionManager {
	return &transactionManager{db: db}
}

// WithTransaction adapts the session callback shape to a plain context
// function. mongo.SessionContext satisfies context.Context, so repositories
// called with it route their reads and writes through the transaction
// automatically.
func (t *transactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := t.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}
