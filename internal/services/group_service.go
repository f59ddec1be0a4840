package services

import (
	"context"
	"fmt"
	"time"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupService runs the paid-trip lifecycle: group selection on payment,
// membership bookkeeping, potential-member promotion and demotion, and the
// teardown path on cancellation. Exactly one system chat message is written
// per group-mutating event.
type GroupService interface {
	HandleTripPaid(ctx context.Context, trip *models.Trip) (*EventResult, error)
	HandleTripCanceled(ctx context.Context, trip *models.Trip) (*EventResult, error)
}

func (e *engine) HandleTripPaid(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	if trip.TripGroupRef != nil {
		// Replayed trigger, the trip is already placed.
		return &EventResult{}, nil
	}

	now := time.Now()
	if err := e.trips.Update(ctx, trip.Ref(), map[string]interface{}{"time_of_payment": now}); err != nil {
		return nil, err
	}
	trip.TimeOfPayment = &now

	result := &EventResult{}

	if trip.Reserved && trip.ReservingTripRef != nil {
		res, err := e.joinReserverGroup(ctx, trip)
		if err != nil {
			return nil, err
		}
		result.merge(res)
	}

	// Regular group selection, also the fallback when the reserver's group
	// had no seat room left for the reserved trip.
	if trip.TripGroupRef == nil {
		groupID, err := e.chooseGroup(ctx, trip, e.candidateGroupIDs(trip))
		if err != nil {
			return nil, err
		}
		if groupID.IsZero() {
			res, err := e.createGroup(ctx, trip)
			if err != nil {
				return nil, err
			}
			result.merge(res)
		} else {
			group, err := e.groups.Get(ctx, groupID)
			if err != nil {
				return nil, fmt.Errorf("failed to load chosen trip group: %w", err)
			}
			res, err := e.joinGroup(ctx, group, trip)
			if err != nil {
				return nil, err
			}
			result.merge(res)
		}
	}

	// Neighbor edges still describe trip as unpaid; one sweep rewrites both
	// sides of every edge with the paid flag, group ref and obstruction
	// verdicts in place.
	res, err := e.SyncTripEdges(ctx, trip)
	if err != nil {
		return nil, err
	}
	result.merge(res)
	return result, nil
}

// joinReserverGroup consumes a reservation lock: the reserved trip paid, so
// it joins the reserver's group. When the group no longer has seat room the
// lock is released instead and the caller falls back to regular group
// selection.
func (e *engine) joinReserverGroup(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	reserverRef := *trip.ReservingTripRef
	reserver, err := e.trips.Get(ctx, reserverRef)
	if err != nil {
		if utils.IsRecoverable(err) {
			return nil, utils.NewPreconditionError("trip_paid", "reserving trip is missing")
		}
		return nil, fmt.Errorf("failed to load reserving trip: %w", err)
	}
	if reserver.TripGroupRef == nil {
		return nil, utils.NewPreconditionError("trip_paid", "reserving trip has no trip group assigned")
	}
	group, err := e.groups.Get(ctx, *reserver.TripGroupRef)
	if err != nil {
		if utils.IsRecoverable(err) {
			return nil, utils.NewPreconditionError("trip_paid", "reserving trip's group is missing")
		}
		return nil, fmt.Errorf("failed to load reserver's trip group: %w", err)
	}

	if err := e.trips.SetReservation(ctx, trip.Ref(), false, nil); err != nil {
		return nil, err
	}
	trip.Reserved = false
	trip.ReservingTripRef = nil
	if err := e.trips.UpdateMatchedTrip(ctx, reserverRef, trip.Ref(), map[string]interface{}{"reserving": false}); err != nil {
		if !utils.IsRecoverable(err) {
			return nil, err
		}
		e.log.WithError(err).WithTripRef(reserverRef).Warn("reserving edge already gone while consuming reservation")
	}

	if trip.SeatCount > e.cfg.GroupSeatCap-group.TotalSeatCount {
		observability.ReservationsTotal.WithLabelValues("broken").Inc()
		e.log.WithTripRef(trip.Ref()).WithGroupID(group.ID).Warn("reserver's group has no seat room left, falling back to group selection")
		res, err := e.rebalanceReserver(ctx, reserver)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	observability.ReservationsTotal.WithLabelValues("fulfilled").Inc()

	return e.joinGroup(ctx, group, trip)
}

// candidateGroupIDs collects the distinct groups reachable through paid
// matched candidates.
func (e *engine) candidateGroupIDs(trip *models.Trip) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, edge := range trip.MatchedTrips {
		if !edge.Paid || edge.TripGroupRef == nil {
			continue
		}
		if !seen[*edge.TripGroupRef] {
			seen[*edge.TripGroupRef] = true
			ids = append(ids, *edge.TripGroupRef)
		}
	}
	return ids
}

// chooseGroup disambiguates between several joinable groups: fewest members
// first, then smallest summed distance from the paying trip to the members,
// then uniformly at random. Groups without seat room for the trip are never
// joinable; a zero return means the trip creates its own group.
func (e *engine) chooseGroup(ctx context.Context, trip *models.Trip, ids []primitive.ObjectID) (primitive.ObjectID, error) {
	type scored struct {
		id      primitive.ObjectID
		members int
		sum     float64
	}
	var best []scored
	for _, id := range ids {
		group, err := e.groups.Get(ctx, id)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithGroupID(id).Warn("candidate group unavailable during selection")
				continue
			}
			return primitive.NilObjectID, fmt.Errorf("failed to load candidate group: %w", err)
		}
		if trip.SeatCount > e.cfg.GroupSeatCap-group.TotalSeatCount {
			e.log.WithGroupID(id).Warn("candidate group has no seat room, skipping")
			continue
		}

		s := scored{id: id, members: len(group.TripGroupMembers)}
		for _, m := range group.TripGroupMembers {
			if i := trip.FindMatched(m.TripRef); i >= 0 {
				s.sum += trip.MatchedTrips[i].PickupDistance + trip.MatchedTrips[i].DestinationDistance
			}
		}

		switch {
		case len(best) == 0,
			s.members < best[0].members,
			s.members == best[0].members && s.sum < best[0].sum:
			best = []scored{s}
		case s.members == best[0].members && s.sum == best[0].sum:
			best = append(best, s)
		}
	}
	if len(best) == 0 {
		return primitive.NilObjectID, nil
	}
	return best[e.randInt(len(best))].id, nil
}

func (e *engine) createGroup(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	member, actorName := e.buildMember(ctx, trip, true)
	now := time.Now()
	group := &models.TripGroup{
		TripGroupMembers: []models.TripGroupMember{member},
		TotalSeatCount:   trip.SeatCount,
		TimeRangeArray:   utils.MergeTimeRanges(trip.TimeRangeArray),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.groups.Create(ctx, group); err != nil {
		return nil, err
	}
	observability.GroupsCreatedTotal.Inc()

	if err := e.trips.Update(ctx, trip.Ref(), map[string]interface{}{
		"trip_group_ref":   group.ID,
		"total_seat_count": trip.SeatCount,
	}); err != nil {
		return nil, err
	}
	trip.TripGroupRef = &group.ID
	trip.TotalSeatCount = trip.SeatCount

	// Every current candidate becomes a tracked potential member of the new
	// group, with obstruction verdicts computed against the sole member.
	var brokenReservers []models.TripRef
	for _, ref := range trip.CombinedRefs() {
		tp, err := e.trips.Get(ctx, ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(ref).Warn("candidate unavailable while seeding potential members")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return nil, fmt.Errorf("failed to load candidate trip: %w", err)
		}
		if tp.Status == models.TripStatusCanceled || tp.TripGroupRef != nil {
			continue
		}
		entry, broke, err := e.syncTripAgainstGroup(ctx, tp, group)
		if err != nil {
			return nil, err
		}
		brokenReservers = append(brokenReservers, broke...)
		if err := e.groups.AddPotentialMember(ctx, group.ID, entry); err != nil {
			return nil, err
		}
		group.PotentialTripMembers = append(group.PotentialTripMembers, entry)
	}

	result := &EventResult{}
	rebalanced, err := e.rebalanceBrokenReservers(ctx, brokenReservers)
	if err != nil {
		return nil, err
	}
	result.merge(rebalanced)

	if err := e.insertSystemMessage(ctx, group, fmt.Sprintf("%s created the group", actorName)); err != nil {
		return nil, err
	}
	result.addSuggestionJob(SuggestionJob{GroupID: group.ID, Pickup: true, Destination: true})
	e.log.LogGroupEvent(group.ID, "group_created", map[string]interface{}{"leader": trip.Ref().String()})

	// A fresh group's paid trip immediately locks its nearest candidate so
	// the group cannot silently evaporate.
	if _, err := e.ReserveNearestCandidate(ctx, trip); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *engine) joinGroup(ctx context.Context, group *models.TripGroup, trip *models.Trip) (*EventResult, error) {
	member, actorName := e.buildMember(ctx, trip, false)
	if err := e.groups.AddMember(ctx, group.ID, member); err != nil {
		return nil, err
	}
	group.TripGroupMembers = append(group.TripGroupMembers, member)

	if err := e.groups.IncrementSeatCount(ctx, group.ID, trip.SeatCount); err != nil {
		return nil, err
	}
	group.TotalSeatCount += trip.SeatCount

	if group.FindPotentialMember(trip.Ref()) >= 0 {
		if _, err := e.groups.RemovePotentialMember(ctx, group.ID, trip.Ref()); err != nil {
			return nil, err
		}
		removePotentialMember(group, trip.Ref())
	}

	if err := e.trips.Update(ctx, trip.Ref(), map[string]interface{}{
		"trip_group_ref":   group.ID,
		"total_seat_count": group.TotalSeatCount,
	}); err != nil {
		return nil, err
	}
	trip.TripGroupRef = &group.ID
	trip.TotalSeatCount = group.TotalSeatCount

	// Existing members cache the group seat total on their own documents.
	for _, m := range group.TripGroupMembers {
		if m.TripRef.Equal(trip.Ref()) {
			continue
		}
		if err := e.trips.Update(ctx, m.TripRef, map[string]interface{}{"total_seat_count": group.TotalSeatCount}); err != nil {
			return nil, err
		}
	}

	kind := models.GroupEventBasicUpdate
	merged := e.mergedMemberRanges(group)
	var formatted []string
	if !utils.EqualTimeRanges(merged, group.TimeRangeArray) {
		if err := e.groups.Update(ctx, group.ID, map[string]interface{}{"time_range_array": merged}); err != nil {
			return nil, err
		}
		group.TimeRangeArray = merged
		kind |= models.GroupEventTimeRangeChanged
		formatted = utils.FormatTimeRanges(merged, "")
	}

	newPickup := !suggestionCovers(group.PickupSuggestions, trip.PickupLatLng, trip.PickupRadius)
	newDestination := !suggestionCovers(group.DestinationSuggestions, trip.DestinationLatLng, trip.DestinationRadius)
	if newPickup {
		kind |= models.GroupEventPickupSuggestionChanged
	}
	if newDestination {
		kind |= models.GroupEventDestinationSuggestionChanged
	}

	result := &EventResult{}

	// Seat capacity tightened; a reservation a member held on a now-blocked
	// candidate breaks here, and that member picks a new target.
	brokenReservers, err := e.recomputePotentialMembers(ctx, group)
	if err != nil {
		return nil, err
	}
	broke, err := e.trackNewPotentialMembers(ctx, group, trip)
	if err != nil {
		return nil, err
	}
	rebalanced, err := e.rebalanceBrokenReservers(ctx, append(brokenReservers, broke...))
	if err != nil {
		return nil, err
	}
	result.merge(rebalanced)

	if err := e.insertSystemMessage(ctx, group, fmt.Sprintf("%s joined the group", actorName)); err != nil {
		return nil, err
	}

	result.addEvent(models.GroupEvent{
		TripGroupID:      group.ID,
		Kind:             kind,
		ActorRef:         trip.Ref(),
		ActorName:        actorName,
		FormattedRanges:  formatted,
		RecipientUserIDs: memberUserIDs(group, trip.Ref()),
	})
	result.addSuggestionJob(SuggestionJob{GroupID: group.ID, Pickup: newPickup, Destination: newDestination})
	e.log.LogGroupEvent(group.ID, "member_joined", map[string]interface{}{"member": trip.Ref().String()})
	return result, nil
}

func (e *engine) HandleTripCanceled(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	// The canceled trip may have been holding a reservation on someone.
	if edge := trip.ReservingEdge(); edge != nil {
		reserved, err := e.trips.Get(ctx, edge.TripRef)
		if err != nil {
			if !utils.IsRecoverable(err) {
				return nil, fmt.Errorf("failed to load reserved trip: %w", err)
			}
			e.log.WithError(err).WithTripRef(edge.TripRef).Warn("reserved trip unavailable during cancellation")
		} else {
			if err := e.trips.SetReservation(ctx, reserved.Ref(), false, nil); err != nil {
				return nil, err
			}
			reserved.Reserved = false
			reserved.ReservingTripRef = nil
			observability.ReservationsTotal.WithLabelValues("broken").Inc()
			// Candidates the lock was obstructing may promote now.
			if err := e.promoteReleasedCandidates(ctx, reserved); err != nil {
				return nil, err
			}
		}
	}

	// And someone may have been holding a reservation on it.
	var reserverRef *models.TripRef
	if trip.Reserved && trip.ReservingTripRef != nil {
		reserverRef = trip.ReservingTripRef
	}

	// Tear down every edge, both directions.
	for _, ref := range trip.CombinedRefs() {
		neighbor, err := e.trips.Get(ctx, ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(ref).Warn("neighbor unavailable during cancellation teardown")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return nil, fmt.Errorf("failed to load neighbor trip: %w", err)
		}
		if err := e.removeEdgePair(ctx, trip, neighbor); err != nil {
			return nil, err
		}
		if err := e.refreshStatus(ctx, neighbor); err != nil {
			return nil, err
		}
	}

	// Drop the trip from every group still tracking it as a potential member.
	for _, gid := range e.trackedGroupIDs(trip) {
		if _, err := e.groups.RemovePotentialMember(ctx, gid, trip.Ref()); err != nil {
			if !utils.IsRecoverable(err) {
				return nil, err
			}
			e.log.WithError(err).WithGroupID(gid).Warn("group unavailable while dropping potential member")
		}
	}

	if trip.TripGroupRef != nil {
		res, err := e.leaveGroup(ctx, trip)
		if err != nil {
			return nil, err
		}
		result.merge(res)
	}

	if reserverRef != nil {
		reserver, err := e.trips.Get(ctx, *reserverRef)
		if err != nil {
			if !utils.IsRecoverable(err) {
				return nil, fmt.Errorf("failed to load reserver trip: %w", err)
			}
			e.log.WithError(err).WithTripRef(*reserverRef).Warn("reserver unavailable after cancellation")
		} else {
			observability.ReservationsTotal.WithLabelValues("broken").Inc()
			res, err := e.rebalanceReserver(ctx, reserver)
			if err != nil {
				return nil, err
			}
			result.merge(res)
		}
	}

	if err := e.trips.Delete(ctx, trip.Ref()); err != nil {
		return nil, err
	}
	e.log.LogTripEvent(trip.Ref(), "trip_canceled", nil)
	return result, nil
}

// leaveGroup removes a canceled member from its paid group and reconciles
// what remains: seat totals, time ranges, potential-member verdicts, or the
// group itself when nobody is left.
func (e *engine) leaveGroup(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	group, err := e.groups.Get(ctx, *trip.TripGroupRef)
	if err != nil {
		if utils.IsRecoverable(err) {
			e.log.WithError(err).WithTripRef(trip.Ref()).Warn("trip group missing during member departure")
			return result, nil
		}
		return nil, fmt.Errorf("failed to load trip group: %w", err)
	}

	_, actorName := e.buildMember(ctx, trip, false)

	if _, err := e.groups.RemoveMember(ctx, group.ID, trip.Ref()); err != nil {
		return nil, err
	}
	removeMember(group, trip.Ref())
	if err := e.groups.IncrementSeatCount(ctx, group.ID, -trip.SeatCount); err != nil {
		return nil, err
	}
	group.TotalSeatCount -= trip.SeatCount

	remaining := group.TripGroupMembers
	if len(remaining) == 0 {
		if err := e.groups.Delete(ctx, group.ID); err != nil {
			return nil, err
		}
		observability.GroupsDeletedTotal.Inc()
		e.log.LogGroupEvent(group.ID, "group_deleted", map[string]interface{}{"last_member": trip.Ref().String()})
		return result, nil
	}

	if len(remaining) == 1 {
		survivor, err := e.trips.Get(ctx, remaining[0].TripRef)
		if err != nil {
			if !utils.IsRecoverable(err) {
				return nil, fmt.Errorf("failed to load remaining member trip: %w", err)
			}
			e.log.WithError(err).WithTripRef(remaining[0].TripRef).Warn("remaining member unavailable after departure")
		} else if survivor.ReservingEdge() == nil {
			// The survivor holds no lock on a future member: it either locks
			// a new candidate now or reverts to unpaid and the group
			// dissolves with its ticket refunded.
			res, err := e.rebalanceReserver(ctx, survivor)
			if err != nil {
				return nil, err
			}
			result.merge(res)
			if survivor.TripGroupRef == nil {
				return result, nil
			}
		}
	}

	for _, m := range remaining {
		if err := e.trips.Update(ctx, m.TripRef, map[string]interface{}{"total_seat_count": group.TotalSeatCount}); err != nil {
			return nil, err
		}
	}

	kind := models.GroupEventBasicUpdate
	merged := e.mergedMemberRanges(group)
	var formatted []string
	if !utils.EqualTimeRanges(merged, group.TimeRangeArray) {
		if err := e.groups.Update(ctx, group.ID, map[string]interface{}{"time_range_array": merged}); err != nil {
			return nil, err
		}
		group.TimeRangeArray = merged
		kind |= models.GroupEventTimeRangeChanged
		formatted = utils.FormatTimeRanges(merged, "")
	}
	kind |= models.GroupEventPickupSuggestionChanged | models.GroupEventDestinationSuggestionChanged

	// Seat capacity and geometry both relaxed; obstructed candidates may
	// promote now.
	brokenReservers, err := e.recomputePotentialMembers(ctx, group)
	if err != nil {
		return nil, err
	}
	rebalanced, err := e.rebalanceBrokenReservers(ctx, brokenReservers)
	if err != nil {
		return nil, err
	}
	result.merge(rebalanced)

	if err := e.insertSystemMessage(ctx, group, fmt.Sprintf("%s left the group", actorName)); err != nil {
		return nil, err
	}

	result.addEvent(models.GroupEvent{
		TripGroupID:      group.ID,
		Kind:             kind,
		ActorRef:         trip.Ref(),
		ActorName:        actorName,
		FormattedRanges:  formatted,
		RecipientUserIDs: memberUserIDs(group, trip.Ref()),
	})
	result.addSuggestionJob(SuggestionJob{GroupID: group.ID, Pickup: true, Destination: true})
	e.log.LogGroupEvent(group.ID, "member_left", map[string]interface{}{"member": trip.Ref().String()})
	return result, nil
}

// syncTripAgainstGroup re-evaluates one non-member trip against every member
// of the group, rewrites the pair edges accordingly, and returns the
// recomputed potential-member entry. A member demoting a reserving edge here
// releases the lock; the returned refs name the reservers that must pick a
// new target once the caller is done mutating the group.
func (e *engine) syncTripAgainstGroup(ctx context.Context, tp *models.Trip, group *models.TripGroup) (models.PotentialTripMember, []models.TripRef, error) {
	entry := models.PotentialTripMember{
		TripRef:   tp.Ref(),
		SeatCount: tp.SeatCount,
	}
	if tp.SeatCount > e.cfg.GroupSeatCap-group.TotalSeatCount {
		entry.SeatObstruction = true
	}

	type memberEval struct {
		trip *models.Trip
		ev   candidateEval
	}
	evals := make([]memberEval, 0, len(group.TripGroupMembers))

	for _, m := range group.TripGroupMembers {
		memberTrip, err := e.trips.Get(ctx, m.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(m.TripRef).Warn("group member unavailable during potential member recompute")
				observability.SkippedNeighborsTotal.Inc()
				entry.UnknownTripObstruction = true
				entry.ObstructingTripMembers = append(entry.ObstructingTripMembers, models.ObstructingTripMember{
					TripRef: m.TripRef,
					Unknown: true,
				})
				continue
			}
			return entry, nil, fmt.Errorf("failed to load group member trip: %w", err)
		}

		pd := utils.DistanceBetween(tp.PickupLatLng, memberTrip.PickupLatLng)
		dd := utils.DistanceBetween(tp.DestinationLatLng, memberTrip.DestinationLatLng)
		ev := candidateEval{
			PickupDistance:      pd,
			DestinationDistance: dd,
			ProperMatch:         utils.ProperMatch(tp, memberTrip, &pd, &dd),
		}
		if !ev.ProperMatch {
			entry.TripObstruction = true
			entry.ObstructingTripMembers = append(entry.ObstructingTripMembers, models.ObstructingTripMember{
				TripRef:               m.TripRef,
				PickupOverlapGap:      utils.CalculateGap(e.cfg.OverlapGapSlack, tp.PickupRadius, memberTrip.PickupRadius, &pd),
				DestinationOverlapGap: utils.CalculateGap(e.cfg.OverlapGapSlack, tp.DestinationRadius, memberTrip.DestinationRadius, &dd),
			})
		}
		evals = append(evals, memberEval{trip: memberTrip, ev: ev})
	}

	// A pair edge is matched only when the candidate can actually ride:
	// geometry holds against that member and nothing else in the group
	// blocks it.
	var brokenReservers []models.TripRef
	for _, me := range evals {
		ev := me.ev
		ev.Obstruction.Seat = entry.SeatObstruction
		ev.Obstruction.Unknown = entry.UnknownTripObstruction
		ev.Obstruction.GroupSeatCount = group.TotalSeatCount
		for _, obstructor := range entry.ObstructingTripMembers {
			if obstructor.TripRef.Equal(me.trip.Ref()) {
				continue
			}
			ev.Obstruction.Trip = true
			ev.Obstruction.PickupGap = maxGap(ev.Obstruction.PickupGap, obstructor.PickupOverlapGap)
			ev.Obstruction.DestinationGap = maxGap(ev.Obstruction.DestinationGap, obstructor.DestinationOverlapGap)
		}
		conflict, unknown, err := e.evaluateReservationConflict(ctx, tp, me.trip)
		if err != nil {
			return entry, nil, err
		}
		if conflict {
			ev.Obstruction.Reserving = true
		}
		if unknown {
			ev.Obstruction.Unknown = true
		}
		if !ev.Matched() {
			broke, err := e.releaseReservationBetween(ctx, tp, me.trip)
			if err != nil {
				return entry, nil, err
			}
			brokenReservers = append(brokenReservers, broke...)
		}
		if err := e.placePair(ctx, tp, me.trip, ev); err != nil {
			return entry, nil, err
		}
	}
	if err := e.refreshStatus(ctx, tp); err != nil {
		return entry, nil, err
	}
	return entry, brokenReservers, nil
}

// recomputePotentialMembers refreshes every tracked potential member after
// the group's membership or seat total changed. Returns the reservers whose
// reservation broke during the recompute.
func (e *engine) recomputePotentialMembers(ctx context.Context, group *models.TripGroup) ([]models.TripRef, error) {
	entries := make([]models.PotentialTripMember, len(group.PotentialTripMembers))
	copy(entries, group.PotentialTripMembers)

	var brokenReservers []models.TripRef
	for _, old := range entries {
		tp, err := e.trips.Get(ctx, old.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(old.TripRef).Warn("potential member trip missing, dropping entry")
				observability.SkippedNeighborsTotal.Inc()
				if _, err := e.groups.RemovePotentialMember(ctx, group.ID, old.TripRef); err != nil {
					return nil, err
				}
				removePotentialMember(group, old.TripRef)
				continue
			}
			return nil, fmt.Errorf("failed to load potential member trip: %w", err)
		}

		entry, broke, err := e.syncTripAgainstGroup(ctx, tp, group)
		if err != nil {
			return nil, err
		}
		brokenReservers = append(brokenReservers, broke...)
		if err := e.groups.UpdatePotentialMember(ctx, group.ID, entry.TripRef, potentialMemberFields(entry)); err != nil {
			return nil, err
		}
		if i := group.FindPotentialMember(entry.TripRef); i >= 0 {
			group.PotentialTripMembers[i] = entry
		}
	}
	return brokenReservers, nil
}

// trackNewPotentialMembers registers the joining trip's candidates that the
// group was not yet tracking. Returns the reservers whose reservation broke.
func (e *engine) trackNewPotentialMembers(ctx context.Context, group *models.TripGroup, joined *models.Trip) ([]models.TripRef, error) {
	var brokenReservers []models.TripRef
	for _, ref := range joined.CombinedRefs() {
		if group.FindPotentialMember(ref) >= 0 || group.FindMember(ref) >= 0 {
			continue
		}
		tp, err := e.trips.Get(ctx, ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(ref).Warn("candidate unavailable while tracking potential members")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return nil, fmt.Errorf("failed to load candidate trip: %w", err)
		}
		if tp.Status == models.TripStatusCanceled || tp.TripGroupRef != nil {
			continue
		}
		entry, broke, err := e.syncTripAgainstGroup(ctx, tp, group)
		if err != nil {
			return nil, err
		}
		brokenReservers = append(brokenReservers, broke...)
		if err := e.groups.AddPotentialMember(ctx, group.ID, entry); err != nil {
			return nil, err
		}
		group.PotentialTripMembers = append(group.PotentialTripMembers, entry)
	}
	return brokenReservers, nil
}

// refreshGroupTimeRange re-aggregates member windows after one member edited
// its own, emitting a time-range event when the union moved.
func (e *engine) refreshGroupTimeRange(ctx context.Context, groupID primitive.ObjectID, actor *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	group, err := e.groups.Get(ctx, groupID)
	if err != nil {
		if utils.IsRecoverable(err) {
			e.log.WithError(err).WithGroupID(groupID).Warn("trip group missing during time range refresh")
			return result, nil
		}
		return nil, fmt.Errorf("failed to load trip group: %w", err)
	}

	if err := e.groups.UpdateMember(ctx, group.ID, actor.Ref(), map[string]interface{}{"time_range_array": actor.TimeRangeArray}); err != nil {
		return nil, err
	}
	if i := group.FindMember(actor.Ref()); i >= 0 {
		group.TripGroupMembers[i].TimeRangeArray = actor.TimeRangeArray
	}

	merged := e.mergedMemberRanges(group)
	if utils.EqualTimeRanges(merged, group.TimeRangeArray) {
		return result, nil
	}
	if err := e.groups.Update(ctx, group.ID, map[string]interface{}{"time_range_array": merged}); err != nil {
		return nil, err
	}
	group.TimeRangeArray = merged

	_, actorName := e.buildMember(ctx, actor, false)
	if err := e.insertSystemMessage(ctx, group, fmt.Sprintf("%s changed their time windows", actorName)); err != nil {
		return nil, err
	}
	result.addEvent(models.GroupEvent{
		TripGroupID:      group.ID,
		Kind:             models.GroupEventBasicUpdate | models.GroupEventTimeRangeChanged,
		ActorRef:         actor.Ref(),
		ActorName:        actorName,
		FormattedRanges:  utils.FormatTimeRanges(merged, ""),
		RecipientUserIDs: memberUserIDs(group, actor.Ref()),
	})
	return result, nil
}

func (e *engine) mergedMemberRanges(group *models.TripGroup) []models.TimeRange {
	var all []models.TimeRange
	for _, m := range group.TripGroupMembers {
		all = append(all, m.TimeRangeArray...)
	}
	return utils.MergeTimeRanges(all)
}

// buildMember snapshots the trip owner's profile into a member entry. A
// missing user document degrades to a nameless entry instead of failing the
// whole event.
func (e *engine) buildMember(ctx context.Context, trip *models.Trip, leader bool) (models.TripGroupMember, string) {
	member := models.TripGroupMember{
		TripRef:         trip.Ref(),
		UserRef:         trip.UserID,
		SeatCount:       trip.SeatCount,
		TimeRangeArray:  trip.TimeRangeArray,
		TripGroupLeader: leader,
		JoinedTimestamp: time.Now(),
	}
	actorName := "A rider"
	user, err := e.users.GetByID(ctx, trip.UserID)
	if err != nil {
		e.log.WithError(err).WithTripRef(trip.Ref()).Warn("user profile unavailable for member entry")
		return member, actorName
	}
	member.FirstName = user.FirstName
	member.LastName = user.LastName
	member.PhotoURL = user.PhotoURL
	if name := user.FullName(); name != "" {
		actorName = name
	}
	return member, actorName
}

func (e *engine) insertSystemMessage(ctx context.Context, group *models.TripGroup, text string) error {
	msg := &models.Message{
		TripGroupID: group.ID,
		Text:        text,
		System:      true,
		SentAt:      time.Now(),
	}
	if err := e.messages.Insert(ctx, msg); err != nil {
		return err
	}
	recent := &models.RecentMessage{
		MessageID: msg.ID,
		Text:      msg.Text,
		System:    true,
		SentAt:    msg.SentAt,
	}
	if err := e.groups.SetRecentMessage(ctx, group.ID, recent); err != nil {
		return err
	}
	group.RecentMessage = recent
	return nil
}

// trackedGroupIDs collects the distinct groups referenced by the trip's
// edges, excluding its own.
func (e *engine) trackedGroupIDs(trip *models.Trip) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool)
	if trip.TripGroupRef != nil {
		seen[*trip.TripGroupRef] = true
	}
	var ids []primitive.ObjectID
	add := func(id *primitive.ObjectID) {
		if id == nil || seen[*id] {
			return
		}
		seen[*id] = true
		ids = append(ids, *id)
	}
	for _, edge := range trip.MatchedTrips {
		add(edge.TripGroupRef)
	}
	for _, edge := range trip.PotentialTrips {
		add(edge.TripGroupRef)
	}
	return ids
}

func memberUserIDs(group *models.TripGroup, exclude models.TripRef) []primitive.ObjectID {
	var ids []primitive.ObjectID
	for _, m := range group.TripGroupMembers {
		if m.TripRef.Equal(exclude) {
			continue
		}
		ids = append(ids, m.UserRef)
	}
	return ids
}

func removeMember(group *models.TripGroup, ref models.TripRef) {
	if i := group.FindMember(ref); i >= 0 {
		group.TripGroupMembers = append(group.TripGroupMembers[:i], group.TripGroupMembers[i+1:]...)
	}
}

func removePotentialMember(group *models.TripGroup, ref models.TripRef) {
	if i := group.FindPotentialMember(ref); i >= 0 {
		group.PotentialTripMembers = append(group.PotentialTripMembers[:i], group.PotentialTripMembers[i+1:]...)
	}
}

func potentialMemberFields(entry models.PotentialTripMember) map[string]interface{} {
	return map[string]interface{}{
		"obstructing_trip_members": entry.ObstructingTripMembers,
		"trip_obstruction":         entry.TripObstruction,
		"seat_obstruction":         entry.SeatObstruction,
		"unknown_trip_obstruction": entry.UnknownTripObstruction,
		"seat_count":               entry.SeatCount,
	}
}

func suggestionCovers(suggestions []models.LocationSuggestion, center models.LatLng, radius float64) bool {
	for _, s := range suggestions {
		if utils.DistanceBetween(center, s.LatLng) <= radius {
			return true
		}
	}
	return false
}
