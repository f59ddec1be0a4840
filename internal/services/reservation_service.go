package services

import (
	"context"
	"fmt"
	"sort"

	"ridepool/internal/models"
	"ridepool/internal/observability"
	"ridepool/internal/utils"
)

// ReservationService manages the 1:1 lock between a paid trip and the unpaid
// candidate it is waiting on. A reserver holds at most one reserving edge;
// the reserved trip carries the back-reference.
type ReservationService interface {
	// ReserveNearestCandidate picks the reserver's closest unpaid matched
	// candidate, ties broken uniformly at random, and locks it. Returns false
	// when no eligible candidate exists.
	ReserveNearestCandidate(ctx context.Context, reserver *models.Trip) (bool, error)
}

func (e *engine) ReserveNearestCandidate(ctx context.Context, reserver *models.Trip) (bool, error) {
	type candidate struct {
		ref models.TripRef
		sum float64
	}
	candidates := make([]candidate, 0, len(reserver.MatchedTrips))
	for _, edge := range reserver.MatchedTrips {
		if edge.Paid {
			continue
		}
		candidates = append(candidates, candidate{
			ref: edge.TripRef,
			sum: edge.PickupDistance + edge.DestinationDistance,
		})
	}
	if len(candidates) == 0 {
		return false, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sum < candidates[j].sum
	})
	// Shuffle within distance-equal runs so ties resolve uniformly.
	for start := 0; start < len(candidates); {
		end := start + 1
		for end < len(candidates) && candidates[end].sum == candidates[start].sum {
			end++
		}
		for i := end - 1; i > start; i-- {
			j := start + e.randInt(i-start+1)
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
		start = end
	}

	for _, c := range candidates {
		target, err := e.trips.Get(ctx, c.ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(c.ref).Warn("reservation candidate unavailable, trying next")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return false, fmt.Errorf("failed to load reservation candidate: %w", err)
		}
		if target.Reserved || target.Status == models.TripStatusPaid || target.Status == models.TripStatusCanceled {
			continue
		}
		if err := e.lockReservation(ctx, reserver, target); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (e *engine) lockReservation(ctx context.Context, reserver, target *models.Trip) error {
	if err := e.trips.UpdateMatchedTrip(ctx, reserver.Ref(), target.Ref(), map[string]interface{}{"reserving": true}); err != nil {
		return err
	}
	if i := reserver.FindMatched(target.Ref()); i >= 0 {
		reserver.MatchedTrips[i].Reserving = true
	}
	reserverRef := reserver.Ref()
	if err := e.trips.SetReservation(ctx, target.Ref(), true, &reserverRef); err != nil {
		return err
	}
	target.Reserved = true
	target.ReservingTripRef = &reserverRef

	observability.ReservationsTotal.WithLabelValues("created").Inc()
	e.log.LogTripEvent(reserver.Ref(), "reservation_created", map[string]interface{}{
		"reserved_trip": target.Ref().String(),
	})

	// Neighbors of the newly reserved trip that cannot ride with the
	// reserver drop to potential with a reserving obstruction.
	for _, edge := range target.MatchedTrips {
		if edge.TripRef.Equal(reserver.Ref()) {
			continue
		}
		neighbor, err := e.trips.Get(ctx, edge.TripRef)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(edge.TripRef).Warn("neighbor of reserved trip unavailable, skipping")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return fmt.Errorf("failed to load neighbor of reserved trip: %w", err)
		}
		ev, err := e.evaluateCandidate(ctx, neighbor, target)
		if err != nil {
			return err
		}
		if ev.Matched() {
			continue
		}
		if err := e.placePair(ctx, neighbor, target, ev); err != nil {
			return err
		}
		if err := e.refreshStatus(ctx, neighbor); err != nil {
			return err
		}
	}
	return nil
}

// rebalanceBrokenReservers re-runs reservation selection for each reserver
// whose lock broke, deduplicating refs collected across several sweeps.
func (e *engine) rebalanceBrokenReservers(ctx context.Context, refs []models.TripRef) (*EventResult, error) {
	result := &EventResult{}
	seen := make(map[models.TripRef]bool)
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		reserver, err := e.trips.Get(ctx, ref)
		if err != nil {
			if utils.IsRecoverable(err) {
				e.log.WithError(err).WithTripRef(ref).Warn("reserver trip unavailable after reservation break")
				observability.SkippedNeighborsTotal.Inc()
				continue
			}
			return nil, fmt.Errorf("failed to load reserver trip: %w", err)
		}
		res, err := e.rebalanceReserver(ctx, reserver)
		if err != nil {
			return nil, err
		}
		result.merge(res)
	}
	return result, nil
}

// rebalanceReserver runs after a reservation broke: the reserver picks a new
// nearest candidate, and when none remains and it sits alone in its group,
// the group dissolves with a one-ticket refund.
func (e *engine) rebalanceReserver(ctx context.Context, reserver *models.Trip) (*EventResult, error) {
	result := &EventResult{}

	reserved, err := e.ReserveNearestCandidate(ctx, reserver)
	if err != nil {
		return nil, err
	}
	if reserved || reserver.TripGroupRef == nil {
		return result, nil
	}

	group, err := e.groups.Get(ctx, *reserver.TripGroupRef)
	if err != nil {
		if utils.IsRecoverable(err) {
			e.log.WithError(err).WithTripRef(reserver.Ref()).Warn("reserver group missing during rebalance")
			return result, nil
		}
		return nil, fmt.Errorf("failed to load reserver group: %w", err)
	}

	members := group.TripGroupMembers
	if len(members) != 1 || !members[0].TripRef.Equal(reserver.Ref()) {
		return result, nil
	}

	res, err := e.dissolveAbandonedGroup(ctx, group, reserver)
	if err != nil {
		return nil, err
	}
	result.merge(res)
	return result, nil
}

// dissolveAbandonedGroup tears down a single-member group whose reservation
// fell through, reverting the member to an unpaid state and refunding the
// ticket it spent.
func (e *engine) dissolveAbandonedGroup(ctx context.Context, group *models.TripGroup, member *models.Trip) (*EventResult, error) {
	if err := e.groups.Delete(ctx, group.ID); err != nil {
		return nil, err
	}
	observability.GroupsDeletedTotal.Inc()

	if err := e.trips.ClearGroupAssignment(ctx, member.Ref()); err != nil {
		return nil, err
	}
	member.TripGroupRef = nil
	member.TimeOfPayment = nil
	member.TotalSeatCount = 0

	status := models.TripStatusUnmatched
	if len(member.MatchedTrips) > 0 {
		status = models.TripStatusMatched
	}
	if err := e.trips.SetStatus(ctx, member.Ref(), status); err != nil {
		return nil, err
	}
	member.Status = status

	if err := e.users.IncrementTicketCount(ctx, member.UserID, 1); err != nil {
		return nil, err
	}
	observability.TicketRefundsTotal.Inc()
	e.log.LogGroupEvent(group.ID, "group_dissolved", map[string]interface{}{
		"member":   member.Ref().String(),
		"refunded": true,
	})

	// Neighbor edges still cache the dissolved group; a full sweep rewrites
	// them and promotes anything the group was obstructing.
	res, err := e.SyncTripEdges(ctx, member)
	if err != nil {
		return nil, err
	}
	return res, nil
}
