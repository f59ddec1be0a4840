package services

import (
	"context"
	"fmt"

	"ridepool/internal/config"
	"ridepool/internal/repositories/interfaces"
	"ridepool/pkg/logger"
	"ridepool/pkg/payment"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TicketService sells ride tickets. Spending a ticket happens inside the
// paid-trip flow; refunds happen inside group dissolution; this service only
// covers the top-up purchase where real money moves.
type TicketService interface {
	PurchaseTickets(ctx context.Context, userID primitive.ObjectID, quantity int, paymentMethodID string) (*TicketPurchase, error)
}

type TicketPurchase struct {
	TransactionID string `json:"transaction_id"`
	Quantity      int    `json:"quantity"`
	AmountCents   int64  `json:"amount_cents"`
}

type ticketService struct {
	users    interfaces.UserRepository
	provider payment.PaymentProvider
	cfg      *config.PaymentConfig
	log      *logger.Logger
}

func NewTicketService(
	users interfaces.UserRepository,
	provider payment.PaymentProvider,
	cfg *config.PaymentConfig,
	log *logger.Logger,
) TicketService {
	return &ticketService{
		users:    users,
		provider: provider,
		cfg:      cfg,
		log:      log,
	}
}

func (s *ticketService) PurchaseTickets(ctx context.Context, userID primitive.ObjectID, quantity int, paymentMethodID string) (*TicketPurchase, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	amount := int64(quantity) * s.cfg.TicketPriceCents
	resp, err := s.provider.ProcessPayment(ctx, &payment.PaymentRequest{
		PaymentMethodID: paymentMethodID,
		AmountCents:     amount,
		Currency:        s.cfg.Currency,
		Description:     fmt.Sprintf("%d ride ticket(s)", quantity),
		CustomerID:      user.ID.Hex(),
		Metadata: map[string]string{
			"user_id":  user.ID.Hex(),
			"quantity": fmt.Sprintf("%d", quantity),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process payment: %w", err)
	}

	if err := s.users.IncrementTicketCount(ctx, userID, quantity); err != nil {
		// The charge went through but the counter did not move; refund so
		// the user is never charged for tickets they cannot see.
		if _, refundErr := s.provider.RefundPayment(ctx, &payment.RefundRequest{
			TransactionID: resp.TransactionID,
			AmountCents:   amount,
			Reason:        "ticket grant failed",
		}); refundErr != nil {
			s.log.WithError(refundErr).WithField("user_id", userID.Hex()).Error("refund after failed ticket grant also failed")
		}
		return nil, fmt.Errorf("failed to grant tickets: %w", err)
	}

	s.log.WithField("user_id", userID.Hex()).WithField("quantity", quantity).Info("tickets purchased")
	return &TicketPurchase{
		TransactionID: resp.TransactionID,
		Quantity:      quantity,
		AmountCents:   amount,
	}, nil
}
