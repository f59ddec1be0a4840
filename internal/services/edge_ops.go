package services

import (
	"context"
	"fmt"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/utils"
)

// obstruction captures why a geometrically compatible candidate cannot be
// promoted to matched. Zero value means nothing blocks the promotion.
type obstruction struct {
	Trip      bool
	Seat      bool
	Reserving bool
	Unknown   bool

	// Largest remaining gaps against the obstructing group, nil when no
	// group member obstructs or a distance is unknown.
	PickupGap      *float64
	DestinationGap *float64

	GroupSeatCount int
	Obstructors    []models.ObstructingTripMember
}

func (o obstruction) Any() bool {
	return o.Trip || o.Seat || o.Reserving || o.Unknown
}

// candidateEval is the full verdict for one ordered pair (trip, candidate).
type candidateEval struct {
	PickupDistance      float64
	DestinationDistance float64
	ProperMatch         bool
	Obstruction         obstruction
}

// Matched reports whether the pair belongs in each other's matched lists.
func (ev candidateEval) Matched() bool {
	return ev.ProperMatch && !ev.Obstruction.Any()
}

// evaluateCandidate recomputes geometry and every obstruction source for the
// pair. The verdict is symmetric: if trip cannot ride with candidate, the
// reverse holds as well.
func (e *engine) evaluateCandidate(ctx context.Context, trip, candidate *models.Trip) (candidateEval, error) {
	ev := candidateEval{
		PickupDistance:      utils.DistanceBetween(trip.PickupLatLng, candidate.PickupLatLng),
		DestinationDistance: utils.DistanceBetween(trip.DestinationLatLng, candidate.DestinationLatLng),
	}
	ev.ProperMatch = utils.ProperMatch(trip, candidate, &ev.PickupDistance, &ev.DestinationDistance)

	if candidate.TripGroupRef != nil {
		obs, err := e.evaluateGroupObstruction(ctx, trip, candidate)
		if err != nil {
			return ev, err
		}
		ev.Obstruction = obs
	}

	// The verdict must be symmetric when the primary trip sits in a paid
	// group itself: the candidate is blocked by that group's members and
	// seat total exactly the same way.
	if trip.TripGroupRef != nil {
		obs, err := e.evaluateGroupObstruction(ctx, candidate, trip)
		if err != nil {
			return ev, err
		}
		ev.Obstruction.Trip = ev.Obstruction.Trip || obs.Trip
		ev.Obstruction.Seat = ev.Obstruction.Seat || obs.Seat
		ev.Obstruction.Unknown = ev.Obstruction.Unknown || obs.Unknown
	}

	reserving, unknown, err := e.evaluateReservationConflict(ctx, trip, candidate)
	if err != nil {
		return ev, err
	}
	if reserving {
		ev.Obstruction.Reserving = true
	}
	if unknown {
		ev.Obstruction.Unknown = true
	}
	return ev, nil
}

// evaluateGroupObstruction checks trip against every active member of the
// candidate's paid group: geometry per member, seat capacity against the
// group total. A member whose trip document cannot be loaded marks the
// verdict unknown, which blocks promotion without failing the event.
func (e *engine) evaluateGroupObstruction(ctx context.Context, trip, candidate *models.Trip) (obstruction, error) {
	var obs obstruction

	group, err := e.groups.Get(ctx, *candidate.TripGroupRef)
	if err != nil {
		if utils.IsRecoverable(err) {
			e.log.WithError(err).WithTripRef(candidate.Ref()).Warn("trip group missing, treating candidate as unknown-obstructed")
			obs.Unknown = true
			return obs, nil
		}
		return obs, fmt.Errorf("failed to load trip group: %w", err)
	}

	obs.GroupSeatCount = group.TotalSeatCount
	if trip.SeatCount > e.cfg.GroupSeatCap-group.TotalSeatCount {
		obs.Seat = true
	}

	for _, member := range group.TripGroupMembers {
		if member.TripRef.Equal(candidate.Ref()) || member.TripRef.Equal(trip.Ref()) {
			continue
		}
		memberTrip, err := e.trips.Get(ctx, member.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(member.TripRef).Warn("group member trip missing, marking unknown obstruction")
				observability.SkippedNeighborsTotal.Inc()
				obs.Unknown = true
				obs.Obstructors = append(obs.Obstructors, models.ObstructingTripMember{
					TripRef: member.TripRef,
					Unknown: true,
				})
				continue
			}
			return obs, fmt.Errorf("failed to load group member trip: %w", err)
		}

		pd := utils.DistanceBetween(trip.PickupLatLng, memberTrip.PickupLatLng)
		dd := utils.DistanceBetween(trip.DestinationLatLng, memberTrip.DestinationLatLng)
		if utils.ProperMatch(trip, memberTrip, &pd, &dd) {
			continue
		}

		obs.Trip = true
		entry := models.ObstructingTripMember{
			TripRef:               member.TripRef,
			PickupOverlapGap:      utils.CalculateGap(e.cfg.OverlapGapSlack, trip.PickupRadius, memberTrip.PickupRadius, &pd),
			DestinationOverlapGap: utils.CalculateGap(e.cfg.OverlapGapSlack, trip.DestinationRadius, memberTrip.DestinationRadius, &dd),
		}
		obs.Obstructors = append(obs.Obstructors, entry)
		obs.PickupGap = maxGap(obs.PickupGap, entry.PickupOverlapGap)
		obs.DestinationGap = maxGap(obs.DestinationGap, entry.DestinationOverlapGap)
	}
	return obs, nil
}

// evaluateReservationConflict blocks promotion when either side is reserved
// by a third trip the other side does not properly match.
func (e *engine) evaluateReservationConflict(ctx context.Context, trip, candidate *models.Trip) (conflict, unknown bool, err error) {
	check := func(reservedSide, otherSide *models.Trip) (bool, bool, error) {
		if !reservedSide.Reserved || reservedSide.ReservingTripRef == nil {
			return false, false, nil
		}
		reserver := *reservedSide.ReservingTripRef
		if reserver.Equal(otherSide.Ref()) {
			return false, false, nil
		}
		reserverTrip, err := e.trips.Get(ctx, reserver)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(reserver).Warn("reserving trip missing, marking unknown obstruction")
				return false, true, nil
			}
			return false, false, fmt.Errorf("failed to load reserving trip: %w", err)
		}
		if !utils.ProperMatch(otherSide, reserverTrip, nil, nil) {
			return true, false, nil
		}
		return false, false, nil
	}

	c1, u1, err := check(candidate, trip)
	if err != nil {
		return false, false, err
	}
	c2, u2, err := check(trip, candidate)
	if err != nil {
		return false, false, err
	}
	return c1 || c2, u1 || u2, nil
}

func maxGap(current, next *float64) *float64 {
	if next == nil {
		return current
	}
	if current == nil || *next > *current {
		return next
	}
	return current
}

// buildMatchedEdge produces the edge stored on owner's document describing
// neighbor. Cached neighbor state (radii, paid, group, seats) is snapshotted
// at write time and refreshed on every subsequent event touching the pair.
func buildMatchedEdge(owner, neighbor *models.Trip, ev candidateEval, mutual bool) models.MatchedTrip {
	edge := models.MatchedTrip{
		TripRef:             neighbor.Ref(),
		Paid:                neighbor.Status == models.TripStatusPaid,
		TripGroupRef:        neighbor.TripGroupRef,
		PickupRadius:        neighbor.PickupRadius,
		DestinationRadius:   neighbor.DestinationRadius,
		PickupDistance:      ev.PickupDistance,
		DestinationDistance: ev.DestinationDistance,
		Mutual:              mutual,
		SeatCount:           neighbor.SeatCount,
	}
	return edge
}

// buildPotentialEdge is the demoted counterpart of buildMatchedEdge, carrying
// the obstruction verdict and overlap gaps alongside the cached state.
func buildPotentialEdge(owner, neighbor *models.Trip, ev candidateEval, mutual bool) models.PotentialTrip {
	return models.PotentialTrip{
		TripRef:                           neighbor.Ref(),
		Paid:                              neighbor.Status == models.TripStatusPaid,
		TripGroupRef:                      neighbor.TripGroupRef,
		PickupRadius:                      neighbor.PickupRadius,
		DestinationRadius:                 neighbor.DestinationRadius,
		PickupDistance:                    ev.PickupDistance,
		DestinationDistance:               ev.DestinationDistance,
		Mutual:                            mutual,
		ProperMatch:                       ev.ProperMatch,
		TripObstruction:                   ev.Obstruction.Trip,
		SeatObstruction:                   ev.Obstruction.Seat,
		ReservingTripObstruction:          ev.Obstruction.Reserving,
		UnknownTripObstruction:            ev.Obstruction.Unknown,
		GroupLargestPickupOverlapGap:      ev.Obstruction.PickupGap,
		GroupLargestDestinationOverlapGap: ev.Obstruction.DestinationGap,
		TotalSeatCount:                    ev.Obstruction.GroupSeatCount,
		SeatCount:                         neighbor.SeatCount,
	}
}

// placeEdge writes the evaluated edge for owner -> neighbor, moving it
// between the matched and potential lists as the verdict dictates. The
// in-memory owner document is updated alongside the persisted one so later
// decisions in the same event see current state.
func (e *engine) placeEdge(ctx context.Context, owner, neighbor *models.Trip, ev candidateEval, mutual bool) error {
	ref := neighbor.Ref()
	hadMatched := owner.FindMatched(ref) >= 0
	hadPotential := owner.FindPotential(ref) >= 0

	if ev.Matched() {
		edge := buildMatchedEdge(owner, neighbor, ev, mutual)
		if hadMatched {
			i := owner.FindMatched(ref)
			edge.Reserving = owner.MatchedTrips[i].Reserving
			if err := e.trips.UpdateMatchedTrip(ctx, owner.Ref(), ref, matchedEdgeFields(edge)); err != nil {
				return err
			}
			owner.MatchedTrips[i] = edge
			return nil
		}
		if hadPotential {
			removed, err := e.trips.RemovePotentialTrip(ctx, owner.Ref(), ref)
			if err != nil {
				return err
			}
			if !removed {
				e.log.WithTripRef(owner.Ref()).Warn("potential edge already gone during promotion")
			}
			owner.RemovePotential(ref)
			observability.EdgePromotionsTotal.Inc()
		}
		if err := e.trips.AddMatchedTrip(ctx, owner.Ref(), edge); err != nil {
			return err
		}
		owner.MatchedTrips = append(owner.MatchedTrips, edge)
		return nil
	}

	edge := buildPotentialEdge(owner, neighbor, ev, mutual)
	if hadMatched {
		// A reserving edge must never vanish with the lock still set on the
		// reserved side.
		if i := owner.FindMatched(ref); i >= 0 && owner.MatchedTrips[i].Reserving {
			if err := e.trips.SetReservation(ctx, ref, false, nil); err != nil && !utils.IsRecoverable(err) {
				return err
			}
			neighbor.Reserved = false
			neighbor.ReservingTripRef = nil
			observability.ReservationsTotal.WithLabelValues("broken").Inc()
			e.log.WithTripRef(owner.Ref()).Warn("reserving edge demoted without prior release")
		}
		removed, err := e.trips.RemoveMatchedTrip(ctx, owner.Ref(), ref)
		if err != nil {
			return err
		}
		if !removed {
			e.log.WithTripRef(owner.Ref()).Warn("matched edge already gone during demotion")
		}
		owner.RemoveMatched(ref)
		observability.EdgeDemotionsTotal.Inc()
	}
	if hadPotential {
		i := owner.FindPotential(ref)
		if err := e.trips.UpdatePotentialTrip(ctx, owner.Ref(), ref, potentialEdgeFields(edge)); err != nil {
			return err
		}
		owner.PotentialTrips[i] = edge
		return nil
	}
	if err := e.trips.AddPotentialTrip(ctx, owner.Ref(), edge); err != nil {
		return err
	}
	owner.PotentialTrips = append(owner.PotentialTrips, edge)
	return nil
}

// placePair applies one symmetric verdict to both documents of the pair.
func (e *engine) placePair(ctx context.Context, a, b *models.Trip, ev candidateEval) error {
	reversed := ev
	reversed.Obstruction.GroupSeatCount = 0
	if a.TripGroupRef == nil {
		// The obstruction details describe b's group; a carries no group,
		// so b's edge back to a records only the blocking verdict.
		reversed.Obstruction.PickupGap = nil
		reversed.Obstruction.DestinationGap = nil
	}
	if err := e.placeEdge(ctx, a, b, ev, true); err != nil {
		return err
	}
	if err := e.placeEdge(ctx, b, a, reversed, true); err != nil {
		return err
	}
	return e.refreshStatus(ctx, b)
}

// refreshStatus flips an unpaid trip between matched and unmatched based on
// its matched list. Paid and canceled statuses are never touched here.
func (e *engine) refreshStatus(ctx context.Context, trip *models.Trip) error {
	if trip.Status == models.TripStatusPaid || trip.Status == models.TripStatusCanceled {
		return nil
	}
	want := models.TripStatusUnmatched
	if len(trip.MatchedTrips) > 0 {
		want = models.TripStatusMatched
	}
	if trip.Status == want {
		return nil
	}
	if err := e.trips.SetStatus(ctx, trip.Ref(), want); err != nil {
		return err
	}
	trip.Status = want
	return nil
}

func matchedEdgeFields(edge models.MatchedTrip) map[string]interface{} {
	return map[string]interface{}{
		"paid":                 edge.Paid,
		"trip_group_ref":       edge.TripGroupRef,
		"pickup_radius":        edge.PickupRadius,
		"destination_radius":   edge.DestinationRadius,
		"pickup_distance":      edge.PickupDistance,
		"destination_distance": edge.DestinationDistance,
		"mutual":               edge.Mutual,
		"reserving":            edge.Reserving,
		"seat_count":           edge.SeatCount,
	}
}

func potentialEdgeFields(edge models.PotentialTrip) map[string]interface{} {
	return map[string]interface{}{
		"paid":                                  edge.Paid,
		"trip_group_ref":                        edge.TripGroupRef,
		"pickup_radius":                         edge.PickupRadius,
		"destination_radius":                    edge.DestinationRadius,
		"pickup_distance":                       edge.PickupDistance,
		"destination_distance":                  edge.DestinationDistance,
		"mutual":                                edge.Mutual,
		"proper_match":                          edge.ProperMatch,
		"trip_obstruction":                      edge.TripObstruction,
		"seat_obstruction":                      edge.SeatObstruction,
		"reserving_trip_obstruction":            edge.ReservingTripObstruction,
		"unknown_trip_obstruction":              edge.UnknownTripObstruction,
		"group_largest_pickup_overlap_gap":      edge.GroupLargestPickupOverlapGap,
		"group_largest_destination_overlap_gap": edge.GroupLargestDestinationOverlapGap,
		"total_seat_count":                      edge.TotalSeatCount,
		"seat_count":                            edge.SeatCount,
	}
}
