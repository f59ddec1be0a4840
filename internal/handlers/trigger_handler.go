package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/services"
	"ridepool/internal/utils"
	"ridepool/pkg/cache"
	"ridepool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TriggerHandler receives trip change events (edited, canceled, paid) as
// before/after document snapshots and runs the full matching pipeline for
// each inside a single transaction. Post-commit intents, push fan-out and
// suggestion regeneration, are dispatched asynchronously once the
// transaction has committed.
type TriggerHandler struct {
	txn           interfaces.TransactionManager
	trips         interfaces.TripRepository
	matching      services.MatchingService
	groups        services.GroupService
	notifications services.NotificationService
	suggestions   services.SuggestionService
	cache         *cache.RedisCache
	log           *logger.Logger
}

func NewTriggerHandler(
	txn interfaces.TransactionManager,
	trips interfaces.TripRepository,
	matching services.MatchingService,
	groups services.GroupService,
	notifications services.NotificationService,
	suggestions services.SuggestionService,
	redisCache *cache.RedisCache,
	log *logger.Logger,
) *TriggerHandler {
	return &TriggerHandler{
		txn:           txn,
		trips:         trips,
		matching:      matching,
		groups:        groups,
		notifications: notifications,
		suggestions:   suggestions,
		cache:         redisCache,
		log:           log,
	}
}

// HandleTripChange processes one trip change event.
func (h *TriggerHandler) HandleTripChange(c *gin.Context) {
	var event models.TripChangeEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid event payload: "+err.Error())
		return
	}
	if event.UserID.IsZero() || event.TripID.IsZero() {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrCodeValidation, "user_id and trip_id are required")
		return
	}

	kind, ok := event.Kind()
	if !ok {
		utils.SuccessResponse(c, "No relevant change detected", nil)
		return
	}

	// Duplicate deliveries are dropped on the event id when the caller
	// provides one.
	if eventID := c.GetHeader("X-Event-ID"); eventID != "" && h.cache != nil {
		fresh, err := h.cache.SetNX(c.Request.Context(), "event:"+eventID, string(kind), utils.EventDedupTTL)
		if err != nil {
			h.log.WithError(err).Warn("event dedup check failed, processing anyway")
		} else if !fresh {
			utils.SuccessResponse(c, "Duplicate event ignored", nil)
			return
		}
	}

	ref := models.TripRef{UserID: event.UserID, TripID: event.TripID}
	log := h.log.WithTripRef(ref).WithField("kind", string(kind))

	var result *services.EventResult
	err := h.txn.WithTransaction(c.Request.Context(), func(ctx context.Context) error {
		// The transaction body can re-run on a write conflict; intents from
		// an aborted attempt must never leak out.
		result = nil

		trip, err := h.trips.Get(ctx, ref)
		if err != nil {
			if errors.Is(err, utils.ErrTripNotFound) {
				return utils.NewPreconditionError(string(kind), "primary trip document is missing")
			}
			return err
		}

		switch kind {
		case models.TripChangeEdited:
			result, err = h.matching.HandleTripEdited(ctx, event.Before, trip)
		case models.TripChangePaid:
			result, err = h.groups.HandleTripPaid(ctx, trip)
		case models.TripChangeCanceled:
			result, err = h.groups.HandleTripCanceled(ctx, trip)
		}
		return err
	})
	h.trips.InvalidateCache(c.Request.Context(), ref)

	if err != nil {
		observability.TripEventsTotal.WithLabelValues(string(kind), "error").Inc()
		var precondition *utils.PreconditionError
		if errors.As(err, &precondition) {
			log.WithError(err).Error("trip change event failed precondition")
			utils.ErrorResponse(c, http.StatusUnprocessableEntity, utils.ErrCodePrecondition, err.Error())
			return
		}
		log.WithError(err).Error("trip change event failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to process trip change")
		return
	}

	observability.TripEventsTotal.WithLabelValues(string(kind), "success").Inc()
	log.Info("trip change event processed")

	if result != nil && (len(result.Events) > 0 || len(result.SuggestionJobs) > 0) {
		go h.dispatchPostCommit(*result)
	}
	utils.SuccessResponse(c, "Trip change processed", nil)
}

func (h *TriggerHandler) dispatchPostCommit(result services.EventResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.notifications.DispatchEvents(ctx, result.Events)
	h.suggestions.ProcessJobs(ctx, result.SuggestionJobs)
}
