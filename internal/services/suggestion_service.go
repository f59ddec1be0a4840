package services

import (
	"context"
	"fmt"

	"ridepool/internal/models"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/utils"
	"ridepool/pkg/logger"
	"ridepool/pkg/maps"
)

// SuggestionService regenerates a group's cached meeting-point lists. It
// talks to an external mapping API, so it runs strictly after the
// transaction that invalidated the lists has committed; the write-back is a
// plain update on the group document.
type SuggestionService interface {
	ProcessJobs(ctx context.Context, jobs []SuggestionJob)
}

type suggestionService struct {
	groups   interfaces.TripGroupRepository
	trips    interfaces.TripRepository
	provider maps.SuggestionProvider
	log      *logger.Logger
	limit    int
}

func NewSuggestionService(
	groups interfaces.TripGroupRepository,
	trips interfaces.TripRepository,
	provider maps.SuggestionProvider,
	log *logger.Logger,
	limit int,
) SuggestionService {
	return &suggestionService{
		groups:   groups,
		trips:    trips,
		provider: provider,
		log:      log,
		limit:    limit,
	}
}

func (s *suggestionService) ProcessJobs(ctx context.Context, jobs []SuggestionJob) {
	for _, job := range jobs {
		if err := s.regenerate(ctx, job); err != nil {
			s.log.WithError(err).WithGroupID(job.GroupID).Warn("suggestion regeneration failed")
		}
	}
}

func (s *suggestionService) regenerate(ctx context.Context, job SuggestionJob) error {
	group, err := s.groups.Get(ctx, job.GroupID)
	if err != nil {
		if utils.IsRecoverable(err) {
			// The group dissolved before the job ran.
			return nil
		}
		return fmt.Errorf("failed to load trip group: %w", err)
	}

	memberTrips := make([]*models.Trip, 0, len(group.TripGroupMembers))
	for _, m := range group.TripGroupMembers {
		trip, err := s.trips.Get(ctx, m.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				s.log.WithError(err).WithTripRef(m.TripRef).Warn("member trip missing during suggestion regeneration")
				continue
			}
			return fmt.Errorf("failed to load member trip: %w", err)
		}
		memberTrips = append(memberTrips, trip)
	}
	if len(memberTrips) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, 2)
	if job.Pickup {
		suggestions, err := s.generate(ctx, memberTrips, true)
		if err != nil {
			return err
		}
		fields["pickup_location_suggestions"] = suggestions
	}
	if job.Destination {
		suggestions, err := s.generate(ctx, memberTrips, false)
		if err != nil {
			return err
		}
		fields["destination_suggestions"] = suggestions
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.groups.Update(ctx, group.ID, fields); err != nil {
		return fmt.Errorf("failed to store suggestions: %w", err)
	}
	s.log.WithGroupID(group.ID).Debug("suggestions regenerated")
	return nil
}

func (s *suggestionService) generate(ctx context.Context, memberTrips []*models.Trip, pickup bool) ([]models.LocationSuggestion, error) {
	req := &maps.SuggestionRequest{Limit: s.limit}
	var maxRadius float64
	for _, trip := range memberTrips {
		point, radius := trip.DestinationLatLng, trip.DestinationRadius
		if pickup {
			point, radius = trip.PickupLatLng, trip.PickupRadius
		}
		req.Center.Latitude += point.Lat
		req.Center.Longitude += point.Lng
		if radius > maxRadius {
			maxRadius = radius
		}
		req.Members = append(req.Members, maps.MemberPoint{
			ID:       trip.Ref().String(),
			Location: maps.Location{Latitude: point.Lat, Longitude: point.Lng},
		})
	}
	req.Center.Latitude /= float64(len(memberTrips))
	req.Center.Longitude /= float64(len(memberTrips))
	req.Radius = maxRadius

	results, err := s.provider.SuggestMeetingPoints(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meeting point suggestions: %w", err)
	}

	suggestions := make([]models.LocationSuggestion, 0, len(results))
	for _, r := range results {
		suggestion := models.LocationSuggestion{
			PlaceID: r.PlaceID,
			Name:    r.Name,
			Address: r.Address,
			LatLng:  models.LatLng{Lat: r.Location.Latitude, Lng: r.Location.Longitude},
			// Votes on the previous list do not carry over to new places.
			Voters: []models.TripRef{},
		}
		for _, d := range r.MemberDistances {
			ref, ok := refFromMemberID(d.MemberID, memberTrips)
			if !ok {
				continue
			}
			suggestion.MemberDistances = append(suggestion.MemberDistances, models.MemberDistance{
				TripRef:         ref,
				WalkingDistance: d.WalkingDistance,
				DrivingDistance: d.DrivingDistance,
			})
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

func refFromMemberID(id string, memberTrips []*models.Trip) (models.TripRef, bool) {
	for _, trip := range memberTrips {
		if trip.Ref().String() == id {
			return trip.Ref(), true
		}
	}
	return models.TripRef{}, false
}
