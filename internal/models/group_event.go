package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// GroupEventKind tags what changed for a group's members. The kinds compose:
// a single membership event may invalidate both suggestion lists and the
// aggregated time range at once.
type GroupEventKind int

const (
	GroupEventBasicUpdate GroupEventKind = 1 << iota
	GroupEventPickupSuggestionChanged
	GroupEventDestinationSuggestionChanged
	GroupEventTimeRangeChanged
)

func (k GroupEventKind) Has(flag GroupEventKind) bool {
	return k&flag != 0
}

// GroupEvent is an intent collected during a transaction and delivered only
// after commit: push fan-out to remaining members and, when suggestion lists
// were invalidated, a regeneration request. It must never be dispatched
// mid-transaction because the transaction body can re-run on conflict.
type GroupEvent struct {
	TripGroupID      primitive.ObjectID
	Kind             GroupEventKind
	ActorRef         TripRef
	ActorName        string
	FormattedRanges  []string
	RecipientUserIDs []primitive.ObjectID
}

type TripChangeKind string

const (
	TripChangeEdited   TripChangeKind = "edited"
	TripChangeCanceled TripChangeKind = "canceled"
	TripChangePaid     TripChangeKind = "paid"
)

// TripChangeEvent is the trigger payload: before/after snapshots of one trip
// document, keyed by (userID, tripID).
type TripChangeEvent struct {
	UserID primitive.ObjectID `json:"user_id"`
	TripID primitive.ObjectID `json:"trip_id"`
	Before *Trip              `json:"before"`
	After  *Trip              `json:"after"`
}

// Kind classifies the snapshot pair into one of the logical triggers.
// Reservation side-effects are internal and never arrive as events.
func (e *TripChangeEvent) Kind() (TripChangeKind, bool) {
	if e.Before == nil || e.After == nil {
		return "", false
	}
	if e.Before.Status != TripStatusCanceled && e.After.Status == TripStatusCanceled {
		return TripChangeCanceled, true
	}
	if e.Before.Status != TripStatusPaid && e.After.Status == TripStatusPaid {
		return TripChangePaid, true
	}
	if e.GeometryChanged() || e.Before.SeatCount != e.After.SeatCount {
		return TripChangeEdited, true
	}
	return "", false
}

// GeometryChanged reports whether any matching-relevant geometry field moved.
func (e *TripChangeEvent) GeometryChanged() bool {
	b, a := e.Before, e.After
	return b.PickupLatLng != a.PickupLatLng ||
		b.DestinationLatLng != a.DestinationLatLng ||
		b.PickupRadius != a.PickupRadius ||
		b.DestinationRadius != a.DestinationRadius
}
