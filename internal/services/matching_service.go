package services

import (
	"context"
	"fmt"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/utils"
)

// MatchingService recomputes the candidate partition of a trip after its
// geometry or seat count changed. Every edge mutation is applied to both
// documents of the pair in the same transaction so the symmetry law holds at
// commit time.
type MatchingService interface {
	// HandleTripEdited processes an edit trigger: reservation conflicts are
	// resolved first, then every existing edge is re-evaluated and moved
	// between the matched and potential lists.
	HandleTripEdited(ctx context.Context, before, after *models.Trip) (*EventResult, error)

	// SyncTripEdges re-evaluates every neighbor of trip and rewrites both
	// sides of each edge. Neighbors that fail to load are skipped with a
	// warning; a missing primary document aborts the event.
	SyncTripEdges(ctx context.Context, trip *models.Trip) (*EventResult, error)
}

func (e *engine) HandleTripEdited(ctx context.Context, before, after *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	res, err := e.SyncTripEdges(ctx, after)
	if err != nil {
		return nil, err
	}
	result.merge(res)

	// A paid member editing its time windows widens or narrows the group's
	// aggregated range.
	if after.TripGroupRef != nil && !utils.EqualTimeRanges(before.TimeRangeArray, after.TimeRangeArray) {
		res, err := e.refreshGroupTimeRange(ctx, *after.TripGroupRef, after)
		if err != nil {
			return nil, err
		}
		result.merge(res)
	}
	return result, nil
}

func (e *engine) SyncTripEdges(ctx context.Context, trip *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	// Reservers whose reservation broke during the sweep; each re-selects a
	// new target (or dissolves) once the partition is settled.
	rebalance := make(map[models.TripRef]bool)

	for _, ref := range trip.CombinedRefs() {
		neighbor, err := e.trips.Get(ctx, ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(ref).Warn("neighbor trip unavailable, skipping edge")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return nil, fmt.Errorf("failed to load neighbor trip: %w", err)
		}
		if neighbor.Status == models.TripStatusCanceled {
			if err := e.removeEdgePair(ctx, trip, neighbor); err != nil {
				return nil, err
			}
			continue
		}

		ev, err := e.evaluateCandidate(ctx, trip, neighbor)
		if err != nil {
			return nil, err
		}

		if !ev.Matched() {
			broke, err := e.releaseReservationBetween(ctx, trip, neighbor)
			if err != nil {
				return nil, err
			}
			for _, r := range broke {
				rebalance[r] = true
			}
		}

		if err := e.placePair(ctx, trip, neighbor, ev); err != nil {
			return nil, err
		}
	}

	if err := e.refreshStatus(ctx, trip); err != nil {
		return nil, err
	}

	for ref := range rebalance {
		var reserver *models.Trip
		if ref.Equal(trip.Ref()) {
			reserver = trip
		} else {
			var err error
			reserver, err = e.trips.Get(ctx, ref)
			if err != nil {
				if utils.IsRecoverable(err) {
					e.log.WithError(err).WithTripRef(ref).Warn("reserver trip unavailable after reservation break")
					observability.SkippedNeighborsTotal.Inc()
					continue
				}
				return nil, fmt.Errorf("failed to load reserver trip: %w", err)
			}
		}
		res, err := e.rebalanceReserver(ctx, reserver)
		if err != nil {
			return nil, err
		}
		result.merge(res)
	}
	return result, nil
}

// releaseReservationBetween clears any reservation linking the pair, in
// either direction, and returns the refs of reservers that must pick a new
// target.
func (e *engine) releaseReservationBetween(ctx context.Context, a, b *models.Trip) ([]models.TripRef, error) {
	var broke []models.TripRef

	release := func(reserver, reserved *models.Trip) error {
		i := reserver.FindMatched(reserved.Ref())
		if i < 0 || !reserver.MatchedTrips[i].Reserving {
			return nil
		}
		if err := e.trips.UpdateMatchedTrip(ctx, reserver.Ref(), reserved.Ref(), map[string]interface{}{"reserving": false}); err != nil {
			return err
		}
		reserver.MatchedTrips[i].Reserving = false
		if err := e.trips.SetReservation(ctx, reserved.Ref(), false, nil); err != nil {
			return err
		}
		reserved.Reserved = false
		reserved.ReservingTripRef = nil
		observability.ReservationsTotal.WithLabelValues("broken").Inc()
		e.log.LogTripEvent(reserver.Ref(), "reservation_broken", map[string]interface{}{
			"reserved_trip": reserved.Ref().String(),
		})
		broke = append(broke, reserver.Ref())
		return e.promoteReleasedCandidates(ctx, reserved)
	}

	if err := release(a, b); err != nil {
		return nil, err
	}
	if err := release(b, a); err != nil {
		return nil, err
	}
	return broke, nil
}

// promoteReleasedCandidates re-evaluates the potential edges a broken
// reservation had been obstructing. Without this sweep the released trip's
// other candidates stay demoted until an unrelated event happens to touch
// them.
func (e *engine) promoteReleasedCandidates(ctx context.Context, released *models.Trip) error {
	edges := make([]models.PotentialTrip, len(released.PotentialTrips))
	copy(edges, released.PotentialTrips)

	for _, edge := range edges {
		if !edge.ReservingTripObstruction {
			continue
		}
		neighbor, err := e.trips.Get(ctx, edge.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(edge.TripRef).Warn("neighbor trip unavailable during reservation release sweep")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return fmt.Errorf("failed to load neighbor trip: %w", err)
		}
		if neighbor.Status == models.TripStatusCanceled {
			continue
		}
		ev, err := e.evaluateCandidate(ctx, released, neighbor)
		if err != nil {
			return err
		}
		if err := e.placePair(ctx, released, neighbor, ev); err != nil {
			return err
		}
	}
	return e.refreshStatus(ctx, released)
}

// removeEdgePair deletes both directions of the edge between trip and a
// canceled neighbor.
func (e *engine) removeEdgePair(ctx context.Context, trip, neighbor *models.Trip) error {
	ref := neighbor.Ref()
	if trip.FindMatched(ref) >= 0 {
		if _, err := e.trips.RemoveMatchedTrip(ctx, trip.Ref(), ref); err != nil {
			return err
		}
		trip.RemoveMatched(ref)
	}
	if trip.FindPotential(ref) >= 0 {
		if _, err := e.trips.RemovePotentialTrip(ctx, trip.Ref(), ref); err != nil {
			return err
		}
		trip.RemovePotential(ref)
	}
	if neighbor.FindMatched(trip.Ref()) >= 0 {
		if _, err := e.trips.RemoveMatchedTrip(ctx, ref, trip.Ref()); err != nil {
			return err
		}
		neighbor.RemoveMatched(trip.Ref())
	}
	if neighbor.FindPotential(trip.Ref()) >= 0 {
		if _, err := e.trips.RemovePotentialTrip(ctx, ref, trip.Ref()); err != nil {
			return err
		}
		neighbor.RemovePotential(trip.Ref())
	}
	return nil
}
