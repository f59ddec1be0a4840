package handlers

import (
	"net/http"

	"ridepool/internal/models"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripHandler struct {
	trips  interfaces.TripRepository
	groups interfaces.TripGroupRepository
}

func NewTripHandler(trips interfaces.TripRepository, groups interfaces.TripGroupRepository) *TripHandler {
	return &TripHandler{
		trips:  trips,
		groups: groups,
	}
}

// GetTrip returns one trip document, served from the read cache when warm.
func (h *TripHandler) GetTrip(c *gin.Context) {
	ref, ok := tripRefFromParams(c)
	if !ok {
		return
	}
	trip, err := h.trips.GetCached(c.Request.Context(), ref)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, utils.ErrCodeNotFound, "Trip not found")
		return
	}
	utils.SuccessResponse(c, "Trip retrieved", trip)
}

// GetTripGroup returns the trip's group with its suggestions and members.
func (h *TripHandler) GetTripGroup(c *gin.Context) {
	ref, ok := tripRefFromParams(c)
	if !ok {
		return
	}
	trip, err := h.trips.GetCached(c.Request.Context(), ref)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, utils.ErrCodeNotFound, "Trip not found")
		return
	}
	if trip.TripGroupRef == nil {
		utils.ErrorResponse(c, http.StatusNotFound, utils.ErrCodeNotFound, "Trip has no group")
		return
	}
	group, err := h.groups.Get(c.Request.Context(), *trip.TripGroupRef)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, utils.ErrCodeNotFound, "Trip group not found")
		return
	}
	utils.SuccessResponse(c, "Trip group retrieved", group)
}

func tripRefFromParams(c *gin.Context) (models.TripRef, bool) {
	userID, err := primitive.ObjectIDFromHex(c.Param("user_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid user ID")
		return models.TripRef{}, false
	}
	tripID, err := primitive.ObjectIDFromHex(c.Param("trip_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid trip ID")
		return models.TripRef{}, false
	}
	return models.TripRef{UserID: userID, TripID: tripID}, true
}
