package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ridepool/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func triggerRouter(h *TriggerHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/triggers/trip-change", h.HandleTripChange)
	return r
}

func TestHandleTripChangeRejectsInvalidPayload(t *testing.T) {
	router := triggerRouter(&TriggerHandler{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/triggers/trip-change", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTripChangeRequiresIdentity(t *testing.T) {
	router := triggerRouter(&TriggerHandler{})

	body, err := json.Marshal(models.TripChangeEvent{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/triggers/trip-change", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTripChangeIgnoresIrrelevantChange(t *testing.T) {
	router := triggerRouter(&TriggerHandler{})

	trip := &models.Trip{
		Status:       models.TripStatusMatched,
		PickupLatLng: models.LatLng{Lat: 40, Lng: -74},
	}
	event := models.TripChangeEvent{
		UserID: primitive.NewObjectID(),
		TripID: primitive.NewObjectID(),
		Before: trip,
		After:  trip,
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/triggers/trip-change", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No relevant change")
}
