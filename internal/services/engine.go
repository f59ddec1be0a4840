package services

import (
	"ridepool/internal/config"
	"ridepool/internal/models"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/utils"
	"ridepool/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// engine is the single implementation behind MatchingService,
// ReservationService and GroupService. The three components share every edge
// primitive and call into each other constantly, so they live on one struct
// and are exposed through narrow interfaces.
type engine struct {
	trips    interfaces.TripRepository
	groups   interfaces.TripGroupRepository
	users    interfaces.UserRepository
	messages interfaces.MessageRepository
	cfg      *config.MatchingConfig
	log      *logger.Logger

	// randInt provides the uniform tie-break pick; injectable for tests.
	randInt func(n int) int
}

func newEngine(
	trips interfaces.TripRepository,
	groups interfaces.TripGroupRepository,
	users interfaces.UserRepository,
	messages interfaces.MessageRepository,
	cfg *config.MatchingConfig,
	log *logger.Logger,
) *engine {
	return &engine{
		trips:    trips,
		groups:   groups,
		users:    users,
		messages: messages,
		cfg:      cfg,
		log:      log,
		randInt:  utils.SecureRandomInt,
	}
}

// NewTripEngine builds the shared engine and returns it under each of its
// service interfaces.
func NewTripEngine(
	trips interfaces.TripRepository,
	groups interfaces.TripGroupRepository,
	users interfaces.UserRepository,
	messages interfaces.MessageRepository,
	cfg *config.MatchingConfig,
	log *logger.Logger,
) (MatchingService, ReservationService, GroupService) {
	e := newEngine(trips, groups, users, messages, cfg, log)
	return e, e, e
}

// EventResult collects the outward-facing intents produced inside a
// transaction. Nothing in it is dispatched until the transaction commits;
// on retry the collected intents are discarded and rebuilt.
type EventResult struct {
	Events         []models.GroupEvent
	SuggestionJobs []SuggestionJob
}

// SuggestionJob asks the suggestion worker to regenerate one group's cached
// meeting-point lists after commit.
type SuggestionJob struct {
	GroupID     primitive.ObjectID
	Pickup      bool
	Destination bool
}

func (r *EventResult) addEvent(ev models.GroupEvent) {
	r.Events = append(r.Events, ev)
}

func (r *EventResult) addSuggestionJob(job SuggestionJob) {
	if !job.Pickup && !job.Destination {
		return
	}
	r.SuggestionJobs = append(r.SuggestionJobs, job)
}

func (r *EventResult) merge(other *EventResult) {
	if other == nil {
		return
	}
	r.Events = append(r.Events, other.Events...)
	r.SuggestionJobs = append(r.SuggestionJobs, other.SuggestionJobs...)
}
