package services

import (
	"context"
	"testing"

	"ridepool/internal/models"
	"ridepool/pkg/maps"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeSuggestionProvider struct {
	requests []*maps.SuggestionRequest
	results  []*maps.SuggestionResult
}

func (p *fakeSuggestionProvider) SuggestMeetingPoints(ctx context.Context, request *maps.SuggestionRequest) ([]*maps.SuggestionResult, error) {
	p.requests = append(p.requests, request)
	return p.results, nil
}

func TestProcessJobsRegeneratesSuggestions(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	groupID := primitive.NewObjectID()
	t1.TripGroupRef = &groupID
	t2.TripGroupRef = &groupID

	staleVoter := t1.Ref()
	group := &models.TripGroup{
		ID: groupID,
		TripGroupMembers: []models.TripGroupMember{
			memberEntry(t1, true),
			memberEntry(t2, false),
		},
		TotalSeatCount: 2,
		PickupSuggestions: []models.LocationSuggestion{
			{PlaceID: "old", Name: "Old Corner", Voters: []models.TripRef{staleVoter}},
		},
	}

	provider := &fakeSuggestionProvider{
		results: []*maps.SuggestionResult{
			{
				PlaceID:  "plaza",
				Name:     "Plaza",
				Address:  "1 Plaza Way",
				Location: maps.Location{Latitude: basePickup.Lat, Longitude: basePickup.Lng},
				MemberDistances: []maps.MemberDistance{
					{MemberID: t1.Ref().String(), WalkingDistance: 80, DrivingDistance: 200},
					{MemberID: t2.Ref().String(), WalkingDistance: 120, DrivingDistance: 260},
				},
			},
		},
	}

	trips := newFakeTripRepo(t1, t2)
	groups := newFakeGroupRepo(group)
	svc := NewSuggestionService(groups, trips, provider, testLogger(t), 5)

	svc.ProcessJobs(context.Background(), []SuggestionJob{
		{GroupID: groupID, Pickup: true},
	})

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Len(t, req.Members, 2)
	assert.Equal(t, 5, req.Limit)
	assert.InDelta(t, basePickup.Lat, req.Center.Latitude, 1e-9)

	stored := mustGetGroup(t, groups, groupID)
	require.Len(t, stored.PickupSuggestions, 1)
	s := stored.PickupSuggestions[0]
	assert.Equal(t, "plaza", s.PlaceID)
	require.Len(t, s.MemberDistances, 2)
	assert.Equal(t, t1.Ref(), s.MemberDistances[0].TripRef)

	// A regenerated list starts with no votes carried over.
	require.NotNil(t, s.Voters)
	assert.Empty(t, s.Voters)
}
