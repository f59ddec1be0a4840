package services

import (
	"context"
	"testing"
	"time"

	"ridepool/internal/config"
	"ridepool/internal/models"
	"ridepool/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	basePickup      = models.LatLng{Lat: 40.7128, Lng: -74.0060}
	baseDestination = models.LatLng{Lat: 40.7484, Lng: -73.9857}
	// Roughly 111 km north, far outside any radius.
	farPickup = models.LatLng{Lat: 41.7128, Lng: -74.0060}
	// Roughly 400 m north of basePickup.
	nearPickup = models.LatLng{Lat: 40.7164, Lng: -74.0060}
	// Roughly 600 m north of baseDestination.
	nearDestination = models.LatLng{Lat: 40.7538, Lng: -73.9857}
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

func testEngine(t *testing.T, trips *fakeTripRepo, groups *fakeGroupRepo, users *fakeUserRepo) *engine {
	t.Helper()
	e := newEngine(trips, groups, users, &fakeMessageRepo{}, &config.MatchingConfig{
		GroupSeatCap:    4,
		OverlapGapSlack: 150,
		SuggestionLimit: 5,
	}, testLogger(t))
	e.randInt = func(n int) int { return 0 }
	return e
}

func makeTrip(seats int) *models.Trip {
	return &models.Trip{
		ID:                primitive.NewObjectID(),
		UserID:            primitive.NewObjectID(),
		Status:            models.TripStatusUnmatched,
		PickupLatLng:      basePickup,
		DestinationLatLng: baseDestination,
		PickupRadius:      500,
		DestinationRadius: 500,
		SeatCount:         seats,
		TimeRangeArray:    []models.TimeRange{{Start: 1000, End: 2000}},
	}
}

func potentialEdge(to *models.Trip) models.PotentialTrip {
	return models.PotentialTrip{
		TripRef:           to.Ref(),
		PickupRadius:      to.PickupRadius,
		DestinationRadius: to.DestinationRadius,
		SeatCount:         to.SeatCount,
	}
}

func matchedEdge(to *models.Trip) models.MatchedTrip {
	return models.MatchedTrip{
		TripRef:           to.Ref(),
		PickupRadius:      to.PickupRadius,
		DestinationRadius: to.DestinationRadius,
		Mutual:            true,
		SeatCount:         to.SeatCount,
	}
}

func memberEntry(trip *models.Trip, leader bool) models.TripGroupMember {
	return models.TripGroupMember{
		TripRef:         trip.Ref(),
		UserRef:         trip.UserID,
		SeatCount:       trip.SeatCount,
		TimeRangeArray:  trip.TimeRangeArray,
		TripGroupLeader: leader,
	}
}

func TestSyncTripEdgesPromotesMutualCandidates(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	t1.PotentialTrips = []models.PotentialTrip{potentialEdge(t2)}
	t2.PotentialTrips = []models.PotentialTrip{potentialEdge(t1)}

	trips := newFakeTripRepo(t1, t2)
	e := testEngine(t, trips, newFakeGroupRepo(), newFakeUserRepo())

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	_, err = e.SyncTripEdges(context.Background(), primary)
	require.NoError(t, err)

	stored1, _ := trips.stored(t1.Ref())
	stored2, _ := trips.stored(t2.Ref())

	require.Len(t, stored1.MatchedTrips, 1)
	assert.Empty(t, stored1.PotentialTrips)
	assert.True(t, stored1.MatchedTrips[0].Mutual)
	assert.Equal(t, models.TripStatusMatched, stored1.Status)

	require.Len(t, stored2.MatchedTrips, 1)
	assert.Empty(t, stored2.PotentialTrips)
	assert.Equal(t, t1.Ref(), stored2.MatchedTrips[0].TripRef)
	assert.Equal(t, models.TripStatusMatched, stored2.Status)
}

func TestHandleTripEditedDemotesOutOfRangePair(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	t1.Status = models.TripStatusMatched
	t2.Status = models.TripStatusMatched
	t1.MatchedTrips = []models.MatchedTrip{matchedEdge(t2)}
	t2.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}

	before := copyTrip(t1)
	t1.PickupLatLng = farPickup

	trips := newFakeTripRepo(t1, t2)
	e := testEngine(t, trips, newFakeGroupRepo(), newFakeUserRepo())

	after, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripEdited(context.Background(), before, after)
	require.NoError(t, err)

	stored1, _ := trips.stored(t1.Ref())
	stored2, _ := trips.stored(t2.Ref())

	assert.Empty(t, stored1.MatchedTrips)
	require.Len(t, stored1.PotentialTrips, 1)
	assert.False(t, stored1.PotentialTrips[0].ProperMatch)
	assert.False(t, stored1.PotentialTrips[0].Obstructed())
	assert.Equal(t, models.TripStatusUnmatched, stored1.Status)

	assert.Empty(t, stored2.MatchedTrips)
	require.Len(t, stored2.PotentialTrips, 1)
	assert.Equal(t, models.TripStatusUnmatched, stored2.Status)
}

func TestSyncTripEdgesAppliesSeatObstruction(t *testing.T) {
	member := makeTrip(3)
	member.Status = models.TripStatusPaid

	group := &models.TripGroup{
		ID:               primitive.NewObjectID(),
		TripGroupMembers: []models.TripGroupMember{memberEntry(member, true)},
		TotalSeatCount:   3,
		TimeRangeArray:   member.TimeRangeArray,
	}
	member.TripGroupRef = &group.ID
	member.TotalSeatCount = 3

	t2 := makeTrip(2)
	t2.Status = models.TripStatusMatched
	edge := matchedEdge(member)
	edge.Paid = true
	edge.TripGroupRef = &group.ID
	t2.MatchedTrips = []models.MatchedTrip{edge}
	member.MatchedTrips = []models.MatchedTrip{matchedEdge(t2)}

	trips := newFakeTripRepo(member, t2)
	e := testEngine(t, trips, newFakeGroupRepo(group), newFakeUserRepo())

	primary, err := trips.Get(context.Background(), t2.Ref())
	require.NoError(t, err)
	_, err = e.SyncTripEdges(context.Background(), primary)
	require.NoError(t, err)

	stored2, _ := trips.stored(t2.Ref())
	assert.Empty(t, stored2.MatchedTrips)
	require.Len(t, stored2.PotentialTrips, 1)
	demoted := stored2.PotentialTrips[0]
	assert.True(t, demoted.ProperMatch)
	assert.True(t, demoted.SeatObstruction)
	assert.False(t, demoted.TripObstruction)
	assert.Equal(t, 3, demoted.TotalSeatCount)
	assert.Equal(t, models.TripStatusUnmatched, stored2.Status)

	storedMember, _ := trips.stored(member.Ref())
	assert.Empty(t, storedMember.MatchedTrips)
	require.Len(t, storedMember.PotentialTrips, 1)
}

func TestHandleTripPaidCreatesGroupAndReservesNearest(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	t1.Status = models.TripStatusPaid
	t2.Status = models.TripStatusMatched
	e1 := matchedEdge(t2)
	e1.PickupDistance = 120
	e1.DestinationDistance = 80
	t1.MatchedTrips = []models.MatchedTrip{e1}
	t2.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}

	user := &models.User{ID: t1.UserID, FirstName: "Ada", LastName: "Boon", TicketCount: 2}
	trips := newFakeTripRepo(t1, t2)
	groups := newFakeGroupRepo()
	e := testEngine(t, trips, groups, newFakeUserRepo(user))

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	result, err := e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)

	stored1, _ := trips.stored(t1.Ref())
	require.NotNil(t, stored1.TripGroupRef)
	groupID := *stored1.TripGroupRef
	assert.NotNil(t, stored1.TimeOfPayment)
	assert.Equal(t, 1, stored1.TotalSeatCount)

	group, err := groups.Get(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, group.TripGroupMembers, 1)
	assert.True(t, group.TripGroupMembers[0].TripGroupLeader)
	assert.Equal(t, "Ada", group.TripGroupMembers[0].FirstName)
	assert.Equal(t, 1, group.TotalSeatCount)
	require.Len(t, group.PotentialTripMembers, 1)
	assert.Equal(t, t2.Ref(), group.PotentialTripMembers[0].TripRef)
	assert.False(t, group.PotentialTripMembers[0].Obstructed())
	require.NotNil(t, group.RecentMessage)
	assert.True(t, group.RecentMessage.System)

	// The fresh group's paid trip locks its nearest candidate.
	stored2, _ := trips.stored(t2.Ref())
	assert.True(t, stored2.Reserved)
	require.NotNil(t, stored2.ReservingTripRef)
	assert.Equal(t, t1.Ref(), *stored2.ReservingTripRef)
	i := stored1.FindMatched(t2.Ref())
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, stored1.MatchedTrips[i].Reserving)

	require.Len(t, result.SuggestionJobs, 1)
	assert.True(t, result.SuggestionJobs[0].Pickup)
	assert.True(t, result.SuggestionJobs[0].Destination)
}

func TestHandleTripPaidJoinsReserverGroup(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	groupID := primitive.NewObjectID()

	t1.Status = models.TripStatusPaid
	t1.TripGroupRef = &groupID
	t1.TotalSeatCount = 1
	e1 := matchedEdge(t2)
	e1.Reserving = true
	t1.MatchedTrips = []models.MatchedTrip{e1}

	t2.Status = models.TripStatusPaid
	t2.Reserved = true
	t1Ref := t1.Ref()
	t2.ReservingTripRef = &t1Ref
	e2 := matchedEdge(t1)
	e2.Paid = true
	e2.TripGroupRef = &groupID
	t2.MatchedTrips = []models.MatchedTrip{e2}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(t1, true)},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: t2.Ref(), SeatCount: 1},
		},
		TotalSeatCount: 1,
		TimeRangeArray: t1.TimeRangeArray,
	}

	user1 := &models.User{ID: t1.UserID, FirstName: "Ada"}
	user2 := &models.User{ID: t2.UserID, FirstName: "Ben"}
	trips := newFakeTripRepo(t1, t2)
	groups := newFakeGroupRepo(group)
	msgs := &fakeMessageRepo{}
	e := testEngine(t, trips, groups, newFakeUserRepo(user1, user2))
	e.messages = msgs

	primary, err := trips.Get(context.Background(), t2.Ref())
	require.NoError(t, err)
	result, err := e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)

	stored := mustGetGroup(t, groups, groupID)
	require.Len(t, stored.TripGroupMembers, 2)
	assert.Equal(t, 2, stored.TotalSeatCount)
	assert.Empty(t, stored.PotentialTripMembers)

	stored2, _ := trips.stored(t2.Ref())
	require.NotNil(t, stored2.TripGroupRef)
	assert.Equal(t, groupID, *stored2.TripGroupRef)
	assert.Equal(t, 2, stored2.TotalSeatCount)
	assert.False(t, stored2.Reserved)
	assert.Nil(t, stored2.ReservingTripRef)

	stored1, _ := trips.stored(t1.Ref())
	assert.Equal(t, 2, stored1.TotalSeatCount)
	i := stored1.FindMatched(t2.Ref())
	require.GreaterOrEqual(t, i, 0)
	assert.False(t, stored1.MatchedTrips[i].Reserving)
	assert.True(t, stored1.MatchedTrips[i].Paid)

	require.Len(t, result.Events, 1)
	assert.Equal(t, []primitive.ObjectID{t1.UserID}, result.Events[0].RecipientUserIDs)
	require.Len(t, msgs.messages, 1)
	assert.Contains(t, msgs.messages[0].Text, "joined the group")
}

func TestHandleTripCanceledSoleMemberDeletesGroupWithoutRefund(t *testing.T) {
	t1 := makeTrip(1)
	groupID := primitive.NewObjectID()
	t1.Status = models.TripStatusCanceled
	t1.TripGroupRef = &groupID
	t1.TotalSeatCount = 1

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(t1, true)},
		TotalSeatCount:   1,
	}
	user := &models.User{ID: t1.UserID, FirstName: "Ada", TicketCount: 3}

	trips := newFakeTripRepo(t1)
	groups := newFakeGroupRepo(group)
	users := newFakeUserRepo(user)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripCanceled(context.Background(), primary)
	require.NoError(t, err)

	_, err = groups.Get(context.Background(), groupID)
	assert.Error(t, err)
	_, ok := trips.stored(t1.Ref())
	assert.False(t, ok)

	// Canceling your own single-member group earns no refund.
	storedUser, err := users.GetByID(context.Background(), t1.UserID)
	require.NoError(t, err)
	assert.Equal(t, 3, storedUser.TicketCount)
}

func TestHandleTripCanceledBreaksReservationAndRefundsAbandonedReserver(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	groupID := primitive.NewObjectID()

	t1.Status = models.TripStatusPaid
	t1.TripGroupRef = &groupID
	t1.TotalSeatCount = 1
	e1 := matchedEdge(t2)
	e1.Reserving = true
	t1.MatchedTrips = []models.MatchedTrip{e1}

	t2.Status = models.TripStatusCanceled
	t2.Reserved = true
	t1Ref := t1.Ref()
	t2.ReservingTripRef = &t1Ref
	e2 := matchedEdge(t1)
	e2.Paid = true
	e2.TripGroupRef = &groupID
	t2.MatchedTrips = []models.MatchedTrip{e2}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(t1, true)},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: t2.Ref(), SeatCount: 1},
		},
		TotalSeatCount: 1,
	}
	user1 := &models.User{ID: t1.UserID, FirstName: "Ada", TicketCount: 0}

	trips := newFakeTripRepo(t1, t2)
	groups := newFakeGroupRepo(group)
	users := newFakeUserRepo(user1)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), t2.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripCanceled(context.Background(), primary)
	require.NoError(t, err)

	// The reserver lost its only candidate: group dissolves, ticket returns.
	_, err = groups.Get(context.Background(), groupID)
	assert.Error(t, err)

	stored1, _ := trips.stored(t1.Ref())
	assert.Nil(t, stored1.TripGroupRef)
	assert.Equal(t, models.TripStatusUnmatched, stored1.Status)
	assert.Empty(t, stored1.MatchedTrips)

	storedUser, err := users.GetByID(context.Background(), t1.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, storedUser.TicketCount)

	_, ok := trips.stored(t2.Ref())
	assert.False(t, ok)
}

func TestReserveNearestCandidatePrefersSmallestDistanceSum(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	t3 := makeTrip(1)
	t1.Status = models.TripStatusPaid

	far := matchedEdge(t2)
	far.PickupDistance = 400
	far.DestinationDistance = 300
	near := matchedEdge(t3)
	near.PickupDistance = 100
	near.DestinationDistance = 50
	t1.MatchedTrips = []models.MatchedTrip{far, near}
	t2.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}
	t3.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}

	trips := newFakeTripRepo(t1, t2, t3)
	e := testEngine(t, trips, newFakeGroupRepo(), newFakeUserRepo())

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	reserved, err := e.ReserveNearestCandidate(context.Background(), primary)
	require.NoError(t, err)
	assert.True(t, reserved)

	stored3, _ := trips.stored(t3.Ref())
	assert.True(t, stored3.Reserved)
	stored2, _ := trips.stored(t2.Ref())
	assert.False(t, stored2.Reserved)
}

func TestReserveNearestCandidateBreaksTiesRandomly(t *testing.T) {
	t1 := makeTrip(1)
	t2 := makeTrip(1)
	t3 := makeTrip(1)
	t1.Status = models.TripStatusPaid

	a := matchedEdge(t2)
	a.PickupDistance = 100
	a.DestinationDistance = 100
	b := matchedEdge(t3)
	b.PickupDistance = 100
	b.DestinationDistance = 100
	t1.MatchedTrips = []models.MatchedTrip{a, b}
	t2.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}
	t3.MatchedTrips = []models.MatchedTrip{matchedEdge(t1)}

	trips := newFakeTripRepo(t1, t2, t3)
	e := testEngine(t, trips, newFakeGroupRepo(), newFakeUserRepo())
	// Force the swap so the second tied candidate wins.
	e.randInt = func(n int) int { return n - 1 }

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	reserved, err := e.ReserveNearestCandidate(context.Background(), primary)
	require.NoError(t, err)
	assert.True(t, reserved)

	stored2, _ := trips.stored(t2.Ref())
	stored3, _ := trips.stored(t3.Ref())
	assert.NotEqual(t, stored2.Reserved, stored3.Reserved)
}

func TestHandleTripPaidIsIdempotentOnceGrouped(t *testing.T) {
	t1 := makeTrip(1)
	groupID := primitive.NewObjectID()
	t1.Status = models.TripStatusPaid
	t1.TripGroupRef = &groupID

	trips := newFakeTripRepo(t1)
	e := testEngine(t, trips, newFakeGroupRepo(), newFakeUserRepo())

	primary, err := trips.Get(context.Background(), t1.Ref())
	require.NoError(t, err)
	result, err := e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Empty(t, result.SuggestionJobs)
}

func mustGetGroup(t *testing.T, groups *fakeGroupRepo, id primitive.ObjectID) *models.TripGroup {
	t.Helper()
	g, err := groups.Get(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestHandleTripPaidJoinReleasesSeatBlockedReservation(t *testing.T) {
	leader := makeTrip(1)
	wide := makeTrip(3)
	joiner := makeTrip(1)
	groupID := primitive.NewObjectID()

	leader.Status = models.TripStatusPaid
	leader.TripGroupRef = &groupID
	leader.TotalSeatCount = 1
	reservingEdge := matchedEdge(wide)
	reservingEdge.Reserving = true
	leader.MatchedTrips = []models.MatchedTrip{reservingEdge, matchedEdge(joiner)}

	wide.Status = models.TripStatusMatched
	wide.Reserved = true
	leaderRef := leader.Ref()
	wide.ReservingTripRef = &leaderRef
	wide.MatchedTrips = []models.MatchedTrip{matchedEdge(leader)}

	joiner.Status = models.TripStatusPaid
	paidEdge := matchedEdge(leader)
	paidEdge.Paid = true
	paidEdge.TripGroupRef = &groupID
	joiner.MatchedTrips = []models.MatchedTrip{paidEdge}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(leader, true)},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: wide.Ref(), SeatCount: 3},
			{TripRef: joiner.Ref(), SeatCount: 1},
		},
		TotalSeatCount: 1,
		TimeRangeArray: leader.TimeRangeArray,
	}
	users := newFakeUserRepo(
		&models.User{ID: leader.UserID, FirstName: "Ada"},
		&models.User{ID: joiner.UserID, FirstName: "Ben"},
	)

	trips := newFakeTripRepo(leader, wide, joiner)
	groups := newFakeGroupRepo(group)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), joiner.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)

	stored := mustGetGroup(t, groups, groupID)
	require.Len(t, stored.TripGroupMembers, 2)
	assert.Equal(t, 2, stored.TotalSeatCount)
	assert.LessOrEqual(t, stored.TotalSeatCount, 4)

	// The join squeezed the wide candidate out: the reservation the leader
	// held on it must be gone, not just the matched edge.
	storedWide, _ := trips.stored(wide.Ref())
	assert.False(t, storedWide.Reserved)
	assert.Nil(t, storedWide.ReservingTripRef)
	assert.Empty(t, storedWide.MatchedTrips)
	assert.Equal(t, models.TripStatusUnmatched, storedWide.Status)
	i := storedWide.FindPotential(leader.Ref())
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, storedWide.PotentialTrips[i].SeatObstruction)

	storedLeader, _ := trips.stored(leader.Ref())
	assert.Less(t, storedLeader.FindMatched(wide.Ref()), 0)
	assert.Nil(t, storedLeader.ReservingEdge())

	j := stored.FindPotentialMember(wide.Ref())
	require.GreaterOrEqual(t, j, 0)
	assert.True(t, stored.PotentialTripMembers[j].SeatObstruction)
}

func TestHandleTripPaidJoinsWhenReservingEdgeAlreadyGone(t *testing.T) {
	leader := makeTrip(1)
	joiner := makeTrip(1)
	groupID := primitive.NewObjectID()

	// The reserved side still carries the lock but the reserver's edge was
	// torn down by a concurrent event. Consuming the reservation tolerates
	// the missing edge.
	leader.Status = models.TripStatusPaid
	leader.TripGroupRef = &groupID
	leader.TotalSeatCount = 1

	joiner.Status = models.TripStatusPaid
	joiner.Reserved = true
	leaderRef := leader.Ref()
	joiner.ReservingTripRef = &leaderRef
	paidEdge := matchedEdge(leader)
	paidEdge.Paid = true
	paidEdge.TripGroupRef = &groupID
	joiner.MatchedTrips = []models.MatchedTrip{paidEdge}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(leader, true)},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: joiner.Ref(), SeatCount: 1},
		},
		TotalSeatCount: 1,
		TimeRangeArray: leader.TimeRangeArray,
	}
	users := newFakeUserRepo(
		&models.User{ID: leader.UserID, FirstName: "Ada"},
		&models.User{ID: joiner.UserID, FirstName: "Ben"},
	)

	trips := newFakeTripRepo(leader, joiner)
	groups := newFakeGroupRepo(group)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), joiner.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)

	stored := mustGetGroup(t, groups, groupID)
	require.Len(t, stored.TripGroupMembers, 2)
	assert.Equal(t, 2, stored.TotalSeatCount)

	storedJoiner, _ := trips.stored(joiner.Ref())
	assert.False(t, storedJoiner.Reserved)
	assert.Nil(t, storedJoiner.ReservingTripRef)
	require.NotNil(t, storedJoiner.TripGroupRef)
	assert.Equal(t, groupID, *storedJoiner.TripGroupRef)
}

func TestHandleTripPaidReservedTripFallsBackWhenReserverGroupFull(t *testing.T) {
	leader := makeTrip(1)
	second := makeTrip(2)
	wide := makeTrip(3)
	groupID := primitive.NewObjectID()

	leader.Status = models.TripStatusPaid
	leader.TripGroupRef = &groupID
	leader.TotalSeatCount = 3
	reservingEdge := matchedEdge(wide)
	reservingEdge.Reserving = true
	leader.MatchedTrips = []models.MatchedTrip{reservingEdge}

	second.Status = models.TripStatusPaid
	second.TripGroupRef = &groupID
	second.TotalSeatCount = 3

	wide.Status = models.TripStatusPaid
	wide.Reserved = true
	leaderRef := leader.Ref()
	wide.ReservingTripRef = &leaderRef
	paidEdge := matchedEdge(leader)
	paidEdge.Paid = true
	paidEdge.TripGroupRef = &groupID
	wide.MatchedTrips = []models.MatchedTrip{paidEdge}

	group := &models.TripGroup{
		ID: groupID,
		TripGroupMembers: []models.TripGroupMember{
			memberEntry(leader, true),
			memberEntry(second, false),
		},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: wide.Ref(), SeatCount: 3, SeatObstruction: true},
		},
		TotalSeatCount: 3,
		TimeRangeArray: leader.TimeRangeArray,
	}
	users := newFakeUserRepo(&models.User{ID: wide.UserID, FirstName: "Cal"})

	trips := newFakeTripRepo(leader, second, wide)
	groups := newFakeGroupRepo(group)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), wide.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripPaid(context.Background(), primary)
	require.NoError(t, err)

	// No seat room with the reserver: the reservation is consumed without a
	// join and the trip starts a group of its own.
	storedWide, _ := trips.stored(wide.Ref())
	assert.False(t, storedWide.Reserved)
	assert.Nil(t, storedWide.ReservingTripRef)
	require.NotNil(t, storedWide.TripGroupRef)
	assert.NotEqual(t, groupID, *storedWide.TripGroupRef)
	assert.Equal(t, 3, storedWide.TotalSeatCount)

	fresh := mustGetGroup(t, groups, *storedWide.TripGroupRef)
	require.Len(t, fresh.TripGroupMembers, 1)
	assert.Equal(t, 3, fresh.TotalSeatCount)

	stored := mustGetGroup(t, groups, groupID)
	require.Len(t, stored.TripGroupMembers, 2)
	assert.Equal(t, 3, stored.TotalSeatCount)

	storedLeader, _ := trips.stored(leader.Ref())
	assert.Nil(t, storedLeader.ReservingEdge())
	i := storedLeader.FindPotential(wide.Ref())
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, storedLeader.PotentialTrips[i].SeatObstruction)
}

func TestHandleTripCanceledLastPairDissolvesGroupAndRefundsSurvivor(t *testing.T) {
	survivor := makeTrip(1)
	leaver := makeTrip(1)
	groupID := primitive.NewObjectID()
	now := time.Now()

	survivor.Status = models.TripStatusPaid
	survivor.TripGroupRef = &groupID
	survivor.TotalSeatCount = 2
	survivor.TimeOfPayment = &now
	edgeToLeaver := matchedEdge(leaver)
	edgeToLeaver.Paid = true
	edgeToLeaver.TripGroupRef = &groupID
	survivor.MatchedTrips = []models.MatchedTrip{edgeToLeaver}

	leaver.Status = models.TripStatusCanceled
	leaver.TripGroupRef = &groupID
	leaver.TotalSeatCount = 2
	edgeToSurvivor := matchedEdge(survivor)
	edgeToSurvivor.Paid = true
	edgeToSurvivor.TripGroupRef = &groupID
	leaver.MatchedTrips = []models.MatchedTrip{edgeToSurvivor}

	group := &models.TripGroup{
		ID: groupID,
		TripGroupMembers: []models.TripGroupMember{
			memberEntry(survivor, true),
			memberEntry(leaver, false),
		},
		TotalSeatCount: 2,
	}
	users := newFakeUserRepo(
		&models.User{ID: survivor.UserID, FirstName: "Ada", TicketCount: 0},
		&models.User{ID: leaver.UserID, FirstName: "Ben", TicketCount: 0},
	)

	trips := newFakeTripRepo(survivor, leaver)
	groups := newFakeGroupRepo(group)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), leaver.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripCanceled(context.Background(), primary)
	require.NoError(t, err)

	// Down to one member with nothing left to lock: the group dissolves and
	// the survivor reverts to unpaid with its ticket back.
	_, err = groups.Get(context.Background(), groupID)
	assert.Error(t, err)

	storedSurvivor, _ := trips.stored(survivor.Ref())
	assert.Nil(t, storedSurvivor.TripGroupRef)
	assert.Nil(t, storedSurvivor.TimeOfPayment)
	assert.Equal(t, models.TripStatusUnmatched, storedSurvivor.Status)
	assert.Empty(t, storedSurvivor.MatchedTrips)

	storedUser, err := users.GetByID(context.Background(), survivor.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, storedUser.TicketCount)

	_, ok := trips.stored(leaver.Ref())
	assert.False(t, ok)
}

func TestHandleTripEditedBreaksReservationAndLocksNextCandidate(t *testing.T) {
	reserver := makeTrip(1)
	reserved := makeTrip(1)
	backup := makeTrip(1)
	groupID := primitive.NewObjectID()

	reserved.PickupLatLng = nearPickup
	reserved.Status = models.TripStatusMatched
	reserved.Reserved = true
	reserverRef := reserver.Ref()
	reserved.ReservingTripRef = &reserverRef
	reserved.MatchedTrips = []models.MatchedTrip{matchedEdge(reserver)}

	backup.Status = models.TripStatusMatched
	backup.MatchedTrips = []models.MatchedTrip{matchedEdge(reserver)}

	reserver.Status = models.TripStatusPaid
	reserver.TripGroupRef = &groupID
	reserver.TotalSeatCount = 1
	reservingEdge := matchedEdge(reserved)
	reservingEdge.Reserving = true
	reserver.MatchedTrips = []models.MatchedTrip{reservingEdge, matchedEdge(backup)}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(reserver, true)},
		TotalSeatCount:   1,
		TimeRangeArray:   reserver.TimeRangeArray,
	}

	before := copyTrip(reserver)
	// Tightening the pickup radius puts the reserved trip out of range while
	// the backup candidate stays inside it.
	reserver.PickupRadius = 300

	trips := newFakeTripRepo(reserver, reserved, backup)
	e := testEngine(t, trips, newFakeGroupRepo(group), newFakeUserRepo())

	after, err := trips.Get(context.Background(), reserver.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripEdited(context.Background(), before, after)
	require.NoError(t, err)

	storedReserved, _ := trips.stored(reserved.Ref())
	assert.False(t, storedReserved.Reserved)
	assert.Nil(t, storedReserved.ReservingTripRef)
	assert.Empty(t, storedReserved.MatchedTrips)
	require.Len(t, storedReserved.PotentialTrips, 1)
	assert.False(t, storedReserved.PotentialTrips[0].ProperMatch)

	// The reserver immediately re-locks its next nearest candidate.
	storedBackup, _ := trips.stored(backup.Ref())
	assert.True(t, storedBackup.Reserved)
	require.NotNil(t, storedBackup.ReservingTripRef)
	assert.Equal(t, reserver.Ref(), *storedBackup.ReservingTripRef)

	storedReserver, _ := trips.stored(reserver.Ref())
	i := storedReserver.FindMatched(backup.Ref())
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, storedReserver.MatchedTrips[i].Reserving)
	assert.GreaterOrEqual(t, storedReserver.FindPotential(reserved.Ref()), 0)
}

func TestHandleTripCanceledPromotesNeighborsBlockedByReservation(t *testing.T) {
	reserver := makeTrip(1)
	reserved := makeTrip(1)
	neighbor := makeTrip(1)
	groupID := primitive.NewObjectID()

	reserver.Status = models.TripStatusCanceled
	reserver.TripGroupRef = &groupID
	reserver.TotalSeatCount = 1
	reservingEdge := matchedEdge(reserved)
	reservingEdge.Reserving = true
	reserver.MatchedTrips = []models.MatchedTrip{reservingEdge}

	// The neighbor rides with the reserved trip but not with the reserver,
	// so its edge sat demoted for as long as the lock was held.
	neighbor.DestinationLatLng = nearDestination
	neighbor.DestinationRadius = 1000
	reserved.DestinationRadius = 1000

	reserved.Status = models.TripStatusMatched
	reserved.Reserved = true
	reserverRef := reserver.Ref()
	reserved.ReservingTripRef = &reserverRef
	reserved.MatchedTrips = []models.MatchedTrip{matchedEdge(reserver)}
	blockedEdge := potentialEdge(neighbor)
	blockedEdge.ProperMatch = true
	blockedEdge.ReservingTripObstruction = true
	reserved.PotentialTrips = []models.PotentialTrip{blockedEdge}

	neighbor.Status = models.TripStatusUnmatched
	blockedBack := potentialEdge(reserved)
	blockedBack.ProperMatch = true
	blockedBack.ReservingTripObstruction = true
	neighbor.PotentialTrips = []models.PotentialTrip{blockedBack}

	group := &models.TripGroup{
		ID:               groupID,
		TripGroupMembers: []models.TripGroupMember{memberEntry(reserver, true)},
		PotentialTripMembers: []models.PotentialTripMember{
			{TripRef: reserved.Ref(), SeatCount: 1},
		},
		TotalSeatCount: 1,
	}
	users := newFakeUserRepo(&models.User{ID: reserver.UserID, FirstName: "Ada"})

	trips := newFakeTripRepo(reserver, reserved, neighbor)
	groups := newFakeGroupRepo(group)
	e := testEngine(t, trips, groups, users)

	primary, err := trips.Get(context.Background(), reserver.Ref())
	require.NoError(t, err)
	_, err = e.HandleTripCanceled(context.Background(), primary)
	require.NoError(t, err)

	// Releasing the lock promotes the pair it was obstructing.
	storedReserved, _ := trips.stored(reserved.Ref())
	assert.False(t, storedReserved.Reserved)
	assert.Nil(t, storedReserved.ReservingTripRef)
	require.Len(t, storedReserved.MatchedTrips, 1)
	assert.Equal(t, neighbor.Ref(), storedReserved.MatchedTrips[0].TripRef)
	assert.Empty(t, storedReserved.PotentialTrips)
	assert.Equal(t, models.TripStatusMatched, storedReserved.Status)

	storedNeighbor, _ := trips.stored(neighbor.Ref())
	require.Len(t, storedNeighbor.MatchedTrips, 1)
	assert.Equal(t, reserved.Ref(), storedNeighbor.MatchedTrips[0].TripRef)
	assert.Empty(t, storedNeighbor.PotentialTrips)
	assert.Equal(t, models.TripStatusMatched, storedNeighbor.Status)

	_, err = groups.Get(context.Background(), groupID)
	assert.Error(t, err)
	_, ok := trips.stored(reserver.Ref())
	assert.False(t, ok)
}
