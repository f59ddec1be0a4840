package routes

import (
	"ridepool/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupTriggerRoutes wires the trip change trigger endpoint. Callers are
// trusted backend components (the store's change feed relay), not end users.
func SetupTriggerRoutes(r *gin.RouterGroup, triggerHandler *handlers.TriggerHandler) {
	triggers := r.Group("/triggers")
	{
		triggers.POST("/trip-change", triggerHandler.HandleTripChange)
	}
}

// SetupTripRoutes wires the read-side trip endpoints.
func SetupTripRoutes(r *gin.RouterGroup, tripHandler *handlers.TripHandler) {
	trips := r.Group("/trips")
	{
		trips.GET("/:user_id/:trip_id", tripHandler.GetTrip)
		trips.GET("/:user_id/:trip_id/group", tripHandler.GetTripGroup)
	}
}

// SetupTicketRoutes wires ticket purchase and balance endpoints.
func SetupTicketRoutes(r *gin.RouterGroup, ticketHandler *handlers.TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.POST("/purchase", ticketHandler.PurchaseTickets)
		tickets.GET("/:user_id", ticketHandler.GetTicketBalance)
	}
}
