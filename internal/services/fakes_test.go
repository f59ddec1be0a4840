package services

import (
	"context"
	"time"

	"ridepool/internal/models"
	"ridepool/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory repository fakes. Get returns copies so the engine's in-memory
// bookkeeping and the stored state only converge through repository calls,
// the same way they would against the real store.

type fakeTripRepo struct {
	trips map[string]*models.Trip
}

func newFakeTripRepo(trips ...*models.Trip) *fakeTripRepo {
	repo := &fakeTripRepo{trips: make(map[string]*models.Trip)}
	for _, t := range trips {
		repo.trips[t.Ref().String()] = copyTrip(t)
	}
	return repo
}

func copyTrip(t *models.Trip) *models.Trip {
	c := *t
	c.MatchedTrips = append([]models.MatchedTrip(nil), t.MatchedTrips...)
	c.PotentialTrips = append([]models.PotentialTrip(nil), t.PotentialTrips...)
	c.TimeRangeArray = append([]models.TimeRange(nil), t.TimeRangeArray...)
	if t.ReservingTripRef != nil {
		ref := *t.ReservingTripRef
		c.ReservingTripRef = &ref
	}
	if t.TripGroupRef != nil {
		id := *t.TripGroupRef
		c.TripGroupRef = &id
	}
	return &c
}

func (r *fakeTripRepo) stored(ref models.TripRef) (*models.Trip, bool) {
	t, ok := r.trips[ref.String()]
	return t, ok
}

func (r *fakeTripRepo) Get(ctx context.Context, ref models.TripRef) (*models.Trip, error) {
	t, ok := r.stored(ref)
	if !ok {
		return nil, utils.ErrTripNotFound
	}
	return copyTrip(t), nil
}

func (r *fakeTripRepo) Create(ctx context.Context, trip *models.Trip) error {
	if trip.ID.IsZero() {
		trip.ID = primitive.NewObjectID()
	}
	r.trips[trip.Ref().String()] = copyTrip(trip)
	return nil
}

func (r *fakeTripRepo) Update(ctx context.Context, ref models.TripRef, fields map[string]interface{}) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	for key, value := range fields {
		switch key {
		case "time_of_payment":
			switch v := value.(type) {
			case time.Time:
				t.TimeOfPayment = &v
			case *time.Time:
				t.TimeOfPayment = v
			case nil:
				t.TimeOfPayment = nil
			}
		case "trip_group_ref":
			switch v := value.(type) {
			case primitive.ObjectID:
				t.TripGroupRef = &v
			case *primitive.ObjectID:
				t.TripGroupRef = v
			case nil:
				t.TripGroupRef = nil
			}
		case "total_seat_count":
			t.TotalSeatCount = value.(int)
		case "time_range_array":
			t.TimeRangeArray = value.([]models.TimeRange)
		}
	}
	return nil
}

func (r *fakeTripRepo) Delete(ctx context.Context, ref models.TripRef) error {
	if _, ok := r.stored(ref); !ok {
		return utils.ErrTripNotFound
	}
	delete(r.trips, ref.String())
	return nil
}

func (r *fakeTripRepo) AddMatchedTrip(ctx context.Context, ref models.TripRef, edge models.MatchedTrip) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	t.MatchedTrips = append(t.MatchedTrips, edge)
	return nil
}

func (r *fakeTripRepo) UpdateMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	i := t.FindMatched(neighbor)
	if i < 0 {
		return utils.ErrStaleElement
	}
	edge := &t.MatchedTrips[i]
	for key, value := range fields {
		switch key {
		case "paid":
			edge.Paid = value.(bool)
		case "trip_group_ref":
			switch v := value.(type) {
			case primitive.ObjectID:
				edge.TripGroupRef = &v
			case *primitive.ObjectID:
				edge.TripGroupRef = v
			case nil:
				edge.TripGroupRef = nil
			}
		case "pickup_radius":
			edge.PickupRadius = value.(float64)
		case "destination_radius":
			edge.DestinationRadius = value.(float64)
		case "pickup_distance":
			edge.PickupDistance = value.(float64)
		case "destination_distance":
			edge.DestinationDistance = value.(float64)
		case "mutual":
			edge.Mutual = value.(bool)
		case "reserving":
			edge.Reserving = value.(bool)
		case "seat_count":
			edge.SeatCount = value.(int)
		}
	}
	return nil
}

func (r *fakeTripRepo) RemoveMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error) {
	t, ok := r.stored(ref)
	if !ok {
		return false, utils.ErrTripNotFound
	}
	return t.RemoveMatched(neighbor), nil
}

func (r *fakeTripRepo) AddPotentialTrip(ctx context.Context, ref models.TripRef, edge models.PotentialTrip) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	t.PotentialTrips = append(t.PotentialTrips, edge)
	return nil
}

func (r *fakeTripRepo) UpdatePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	i := t.FindPotential(neighbor)
	if i < 0 {
		return utils.ErrStaleElement
	}
	edge := &t.PotentialTrips[i]
	for key, value := range fields {
		switch key {
		case "paid":
			edge.Paid = value.(bool)
		case "trip_group_ref":
			switch v := value.(type) {
			case primitive.ObjectID:
				edge.TripGroupRef = &v
			case *primitive.ObjectID:
				edge.TripGroupRef = v
			case nil:
				edge.TripGroupRef = nil
			}
		case "pickup_radius":
			edge.PickupRadius = value.(float64)
		case "destination_radius":
			edge.DestinationRadius = value.(float64)
		case "pickup_distance":
			edge.PickupDistance = value.(float64)
		case "destination_distance":
			edge.DestinationDistance = value.(float64)
		case "mutual":
			edge.Mutual = value.(bool)
		case "proper_match":
			edge.ProperMatch = value.(bool)
		case "trip_obstruction":
			edge.TripObstruction = value.(bool)
		case "seat_obstruction":
			edge.SeatObstruction = value.(bool)
		case "reserving_trip_obstruction":
			edge.ReservingTripObstruction = value.(bool)
		case "unknown_trip_obstruction":
			edge.UnknownTripObstruction = value.(bool)
		case "group_largest_pickup_overlap_gap":
			edge.GroupLargestPickupOverlapGap, _ = value.(*float64)
		case "group_largest_destination_overlap_gap":
			edge.GroupLargestDestinationOverlapGap, _ = value.(*float64)
		case "total_seat_count":
			edge.TotalSeatCount = value.(int)
		case "seat_count":
			edge.SeatCount = value.(int)
		}
	}
	return nil
}

func (r *fakeTripRepo) RemovePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error) {
	t, ok := r.stored(ref)
	if !ok {
		return false, utils.ErrTripNotFound
	}
	return t.RemovePotential(neighbor), nil
}

func (r *fakeTripRepo) SetStatus(ctx context.Context, ref models.TripRef, status models.TripStatus) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTripRepo) SetReservation(ctx context.Context, ref models.TripRef, reserved bool, by *models.TripRef) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	t.Reserved = reserved
	t.ReservingTripRef = by
	return nil
}

func (r *fakeTripRepo) ClearGroupAssignment(ctx context.Context, ref models.TripRef) error {
	t, ok := r.stored(ref)
	if !ok {
		return utils.ErrTripNotFound
	}
	t.TripGroupRef = nil
	t.TimeOfPayment = nil
	t.TotalSeatCount = 0
	return nil
}

func (r *fakeTripRepo) GetCached(ctx context.Context, ref models.TripRef) (*models.Trip, error) {
	return r.Get(ctx, ref)
}

func (r *fakeTripRepo) InvalidateCache(ctx context.Context, ref models.TripRef) {}

type fakeGroupRepo struct {
	groups map[primitive.ObjectID]*models.TripGroup
}

func newFakeGroupRepo(groups ...*models.TripGroup) *fakeGroupRepo {
	repo := &fakeGroupRepo{groups: make(map[primitive.ObjectID]*models.TripGroup)}
	for _, g := range groups {
		repo.groups[g.ID] = copyGroup(g)
	}
	return repo
}

func copyGroup(g *models.TripGroup) *models.TripGroup {
	c := *g
	c.TripGroupMembers = append([]models.TripGroupMember(nil), g.TripGroupMembers...)
	c.PotentialTripMembers = append([]models.PotentialTripMember(nil), g.PotentialTripMembers...)
	c.PickupSuggestions = append([]models.LocationSuggestion(nil), g.PickupSuggestions...)
	c.DestinationSuggestions = append([]models.LocationSuggestion(nil), g.DestinationSuggestions...)
	c.TimeRangeArray = append([]models.TimeRange(nil), g.TimeRangeArray...)
	return &c
}

func (r *fakeGroupRepo) Create(ctx context.Context, group *models.TripGroup) error {
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	r.groups[group.ID] = copyGroup(group)
	return nil
}

func (r *fakeGroupRepo) Get(ctx context.Context, id primitive.ObjectID) (*models.TripGroup, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, utils.ErrGroupNotFound
	}
	return copyGroup(g), nil
}

func (r *fakeGroupRepo) Update(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	for key, value := range fields {
		switch key {
		case "time_range_array":
			g.TimeRangeArray = value.([]models.TimeRange)
		case "pickup_location_suggestions":
			g.PickupSuggestions = value.([]models.LocationSuggestion)
		case "destination_suggestions":
			g.DestinationSuggestions = value.([]models.LocationSuggestion)
		case "total_seat_count":
			g.TotalSeatCount = value.(int)
		}
	}
	return nil
}

func (r *fakeGroupRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, ok := r.groups[id]; !ok {
		return utils.ErrGroupNotFound
	}
	delete(r.groups, id)
	return nil
}

func (r *fakeGroupRepo) AddMember(ctx context.Context, id primitive.ObjectID, member models.TripGroupMember) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	g.TripGroupMembers = append(g.TripGroupMembers, member)
	return nil
}

func (r *fakeGroupRepo) UpdateMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	i := g.FindMember(ref)
	if i < 0 {
		return utils.ErrStaleElement
	}
	for key, value := range fields {
		switch key {
		case "time_range_array":
			g.TripGroupMembers[i].TimeRangeArray = value.([]models.TimeRange)
		}
	}
	return nil
}

func (r *fakeGroupRepo) RemoveMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error) {
	g, ok := r.groups[id]
	if !ok {
		return false, utils.ErrGroupNotFound
	}
	i := g.FindMember(ref)
	if i < 0 {
		return false, nil
	}
	g.TripGroupMembers = append(g.TripGroupMembers[:i], g.TripGroupMembers[i+1:]...)
	return true, nil
}

func (r *fakeGroupRepo) AddPotentialMember(ctx context.Context, id primitive.ObjectID, member models.PotentialTripMember) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	g.PotentialTripMembers = append(g.PotentialTripMembers, member)
	return nil
}

func (r *fakeGroupRepo) UpdatePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	i := g.FindPotentialMember(ref)
	if i < 0 {
		return utils.ErrStaleElement
	}
	entry := &g.PotentialTripMembers[i]
	for key, value := range fields {
		switch key {
		case "obstructing_trip_members":
			entry.ObstructingTripMembers = value.([]models.ObstructingTripMember)
		case "trip_obstruction":
			entry.TripObstruction = value.(bool)
		case "seat_obstruction":
			entry.SeatObstruction = value.(bool)
		case "unknown_trip_obstruction":
			entry.UnknownTripObstruction = value.(bool)
		case "seat_count":
			entry.SeatCount = value.(int)
		}
	}
	return nil
}

func (r *fakeGroupRepo) RemovePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error) {
	g, ok := r.groups[id]
	if !ok {
		return false, utils.ErrGroupNotFound
	}
	i := g.FindPotentialMember(ref)
	if i < 0 {
		return false, nil
	}
	g.PotentialTripMembers = append(g.PotentialTripMembers[:i], g.PotentialTripMembers[i+1:]...)
	return true, nil
}

func (r *fakeGroupRepo) IncrementSeatCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	g.TotalSeatCount += delta
	return nil
}

func (r *fakeGroupRepo) SetRecentMessage(ctx context.Context, id primitive.ObjectID, msg *models.RecentMessage) error {
	g, ok := r.groups[id]
	if !ok {
		return utils.ErrGroupNotFound
	}
	g.RecentMessage = msg
	return nil
}

type fakeUserRepo struct {
	users map[primitive.ObjectID]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[primitive.ObjectID]*models.User)}
	for _, u := range users {
		c := *u
		repo.users[u.ID] = &c
	}
	return repo
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, utils.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *fakeUserRepo) IncrementTicketCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	u, ok := r.users[id]
	if !ok {
		return utils.ErrUserNotFound
	}
	u.TicketCount += delta
	return nil
}

func (r *fakeUserRepo) GetDeviceTokens(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID][]string, error) {
	tokens := make(map[primitive.ObjectID][]string)
	for _, id := range ids {
		if u, ok := r.users[id]; ok && len(u.DeviceTokens) > 0 {
			tokens[id] = append([]string(nil), u.DeviceTokens...)
		}
	}
	return tokens, nil
}

type fakeMessageRepo struct {
	messages []*models.Message
}

func (r *fakeMessageRepo) Insert(ctx context.Context, msg *models.Message) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	c := *msg
	r.messages = append(r.messages, &c)
	return nil
}
