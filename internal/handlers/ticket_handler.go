package handlers

import (
	"net/http"

	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/services"
	"ridepool/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TicketHandler struct {
	tickets services.TicketService
	users   interfaces.UserRepository
}

func NewTicketHandler(tickets services.TicketService, users interfaces.UserRepository) *TicketHandler {
	return &TicketHandler{
		tickets: tickets,
		users:   users,
	}
}

type purchaseTicketsRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	Quantity        int    `json:"quantity" binding:"required,min=1"`
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

// PurchaseTickets charges the user and credits their ticket balance.
func (h *TicketHandler) PurchaseTickets(c *gin.Context) {
	var request purchaseTicketsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid request: "+err.Error())
		return
	}
	userID, err := primitive.ObjectIDFromHex(request.UserID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid user ID")
		return
	}

	purchase, err := h.tickets.PurchaseTickets(c.Request.Context(), userID, request.Quantity, request.PaymentMethodID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusPaymentRequired, utils.ErrCodePayment, "Failed to purchase tickets: "+err.Error())
		return
	}
	utils.SuccessResponse(c, "Tickets purchased successfully", purchase)
}

// GetTicketBalance returns the user's current ticket count.
func (h *TicketHandler) GetTicketBalance(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("user_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid user ID")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, utils.ErrCodeNotFound, "User not found")
		return
	}
	utils.SuccessResponse(c, "Ticket balance retrieved", gin.H{
		"user_id":      user.ID.Hex(),
		"ticket_count": user.TicketCount,
	})
}
