package services

import (
	"context"
	"fmt"
	"strings"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/repositories/interfaces"
	"ridepool/pkg/cache"
	"ridepool/pkg/logger"
	"ridepool/pkg/push"
)

// NotificationService fans group events out to the remaining members after a
// transaction commits: a push notification per device token plus a realtime
// publish for connected clients. Delivery is best effort; failures are logged
// and never fail the originating event.
type NotificationService interface {
	DispatchEvents(ctx context.Context, events []models.GroupEvent)
}

type notificationService struct {
	users    interfaces.UserRepository
	provider push.PushProvider
	cache    *cache.RedisCache
	log      *logger.Logger
	timezone string
}

func NewNotificationService(
	users interfaces.UserRepository,
	provider push.PushProvider,
	redisCache *cache.RedisCache,
	log *logger.Logger,
	timezone string,
) NotificationService {
	return &notificationService{
		users:    users,
		provider: provider,
		cache:    redisCache,
		log:      log,
		timezone: timezone,
	}
}

func (s *notificationService) DispatchEvents(ctx context.Context, events []models.GroupEvent) {
	for _, event := range events {
		s.dispatch(ctx, event)
	}
}

func (s *notificationService) dispatch(ctx context.Context, event models.GroupEvent) {
	title, body := renderEventText(event)

	if s.cache != nil {
		channel := "trip_group:" + event.TripGroupID.Hex()
		if err := s.cache.Publish(ctx, channel, map[string]interface{}{
			"trip_group_id": event.TripGroupID.Hex(),
			"kind":          int(event.Kind),
			"actor":         event.ActorRef.String(),
			"title":         title,
			"body":          body,
		}); err != nil {
			s.log.WithError(err).WithGroupID(event.TripGroupID).Warn("failed to publish group event")
		}
	}

	if len(event.RecipientUserIDs) == 0 {
		return
	}
	tokens, err := s.users.GetDeviceTokens(ctx, event.RecipientUserIDs)
	if err != nil {
		s.log.WithError(err).WithGroupID(event.TripGroupID).Warn("failed to resolve device tokens")
		return
	}

	var requests []*push.NotificationRequest
	for _, userTokens := range tokens {
		for _, token := range userTokens {
			requests = append(requests, &push.NotificationRequest{
				Token:       token,
				Title:       title,
				Body:        body,
				CollapseKey: "trip_group_" + event.TripGroupID.Hex(),
				Data: map[string]string{
					"trip_group_id": event.TripGroupID.Hex(),
					"kind":          fmt.Sprintf("%d", event.Kind),
				},
			})
		}
	}
	if len(requests) == 0 {
		return
	}

	responses, err := s.provider.SendBulkNotifications(ctx, requests)
	if err != nil {
		s.log.WithError(err).WithGroupID(event.TripGroupID).Warn("push fan-out failed")
		return
	}
	sent := 0
	for _, resp := range responses {
		if resp.Success {
			sent++
		}
	}
	observability.NotificationsEmitted.WithLabelValues(eventKindLabel(event.Kind)).Add(float64(sent))
	s.log.WithGroupID(event.TripGroupID).WithField("sent", sent).Debug("group event notifications dispatched")
}

func renderEventText(event models.GroupEvent) (title, body string) {
	title = "Your trip group changed"
	name := event.ActorName
	if name == "" {
		name = "A rider"
	}

	var parts []string
	if event.Kind.Has(models.GroupEventTimeRangeChanged) && len(event.FormattedRanges) > 0 {
		parts = append(parts, "departure windows are now "+strings.Join(event.FormattedRanges, ", "))
	}
	if event.Kind.Has(models.GroupEventPickupSuggestionChanged) {
		parts = append(parts, "new pickup point suggestions are available")
	}
	if event.Kind.Has(models.GroupEventDestinationSuggestionChanged) {
		parts = append(parts, "new drop-off suggestions are available")
	}

	body = name + " updated the group"
	if len(parts) > 0 {
		body = fmt.Sprintf("%s: %s", body, strings.Join(parts, "; "))
	}
	return title, body
}

func eventKindLabel(kind models.GroupEventKind) string {
	switch {
	case kind.Has(models.GroupEventTimeRangeChanged):
		return "time_range"
	case kind.Has(models.GroupEventPickupSuggestionChanged), kind.Has(models.GroupEventDestinationSuggestionChanged):
		return "suggestions"
	default:
		return "basic"
	}
}
