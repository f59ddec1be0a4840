package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripStatus string

const (
	TripStatusUnmatched TripStatus = "unmatched"
	TripStatusMatched   TripStatus = "matched"
	TripStatusPaid      TripStatus = "paid"
	TripStatusCanceled  TripStatus = "canceled"
)

// TripRef identifies a trip document by owner and trip id, mirroring the
// users/{userId}/trips/{tripId} addressing scheme.
type TripRef struct {
	UserID primitive.ObjectID `json:"user_id" bson:"user_id"`
	TripID primitive.ObjectID `json:"trip_id" bson:"trip_id"`
}

func (r TripRef) IsZero() bool {
	return r.UserID.IsZero() && r.TripID.IsZero()
}

func (r TripRef) Equal(other TripRef) bool {
	return r.UserID == other.UserID && r.TripID == other.TripID
}

func (r TripRef) String() string {
	return r.UserID.Hex() + "/" + r.TripID.Hex()
}

type LatLng struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// TimeRange is one acceptable departure window, unix seconds.
type TimeRange struct {
	Start int64 `json:"start" bson:"start"`
	End   int64 `json:"end" bson:"end"`
}

type Trip struct {
	ID                primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	UserID            primitive.ObjectID  `json:"user_id" bson:"user_id" validate:"required"`
	Status            TripStatus          `json:"status" bson:"status" default:"unmatched"`
	PickupLatLng      LatLng              `json:"pickup_latlng" bson:"pickup_latlng" validate:"required"`
	DestinationLatLng LatLng              `json:"destination_latlng" bson:"destination_latlng" validate:"required"`
	PickupRadius      float64             `json:"pickup_radius" bson:"pickup_radius"`           // meters
	DestinationRadius float64             `json:"destination_radius" bson:"destination_radius"` // meters
	SeatCount         int                 `json:"seat_count" bson:"seat_count" validate:"min=1,max=4"`
	TimeRangeArray    []TimeRange         `json:"time_range_array" bson:"time_range_array"`
	MatchedTrips      []MatchedTrip       `json:"matched_trips" bson:"matched_trips"`
	PotentialTrips    []PotentialTrip     `json:"potential_trips" bson:"potential_trips"`
	Reserved          bool                `json:"reserved" bson:"reserved"`
	ReservingTripRef  *TripRef            `json:"reserving_trip_ref" bson:"reserving_trip_ref"`
	TripGroupRef      *primitive.ObjectID `json:"trip_group_ref" bson:"trip_group_ref"`
	TotalSeatCount    int                 `json:"total_seat_count" bson:"total_seat_count"`
	TimeOfPayment     *time.Time          `json:"time_of_payment" bson:"time_of_payment"`
	CreatedAt         time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" bson:"updated_at"`
}

func (t *Trip) Ref() TripRef {
	return TripRef{UserID: t.UserID, TripID: t.ID}
}

// MatchedTrip is one confirmed candidate edge: both trips are inside each
// other's pickup and destination radii and no obstruction applies.
type MatchedTrip struct {
	TripRef             TripRef             `json:"trip_ref" bson:"trip_ref"`
	Paid                bool                `json:"paid" bson:"paid"`
	TripGroupRef        *primitive.ObjectID `json:"trip_group_ref" bson:"trip_group_ref"`
	PickupRadius        float64             `json:"pickup_radius" bson:"pickup_radius"`
	DestinationRadius   float64             `json:"destination_radius" bson:"destination_radius"`
	PickupDistance      float64             `json:"pickup_distance" bson:"pickup_distance"`
	DestinationDistance float64             `json:"destination_distance" bson:"destination_distance"`
	Mutual              bool                `json:"mutual" bson:"mutual"`
	Reserving           bool                `json:"reserving" bson:"reserving"`
	SeatCount           int                 `json:"seat_count" bson:"seat_count"`
}

// PotentialTrip is a candidate edge that is currently out of mutual radius, or
// geometrically fine but held back by an obstruction. It is retained so the
// edge can promote later without recomputing distances.
type PotentialTrip struct {
	TripRef                           TripRef             `json:"trip_ref" bson:"trip_ref"`
	Paid                              bool                `json:"paid" bson:"paid"`
	TripGroupRef                      *primitive.ObjectID `json:"trip_group_ref" bson:"trip_group_ref"`
	PickupRadius                      float64             `json:"pickup_radius" bson:"pickup_radius"`
	DestinationRadius                 float64             `json:"destination_radius" bson:"destination_radius"`
	PickupDistance                    float64             `json:"pickup_distance" bson:"pickup_distance"`
	DestinationDistance               float64             `json:"destination_distance" bson:"destination_distance"`
	Mutual                            bool                `json:"mutual" bson:"mutual"`
	ProperMatch                       bool                `json:"proper_match" bson:"proper_match"`
	TripObstruction                   bool                `json:"trip_obstruction" bson:"trip_obstruction"`
	SeatObstruction                   bool                `json:"seat_obstruction" bson:"seat_obstruction"`
	ReservingTripObstruction          bool                `json:"reserving_trip_obstruction" bson:"reserving_trip_obstruction"`
	UnknownTripObstruction            bool                `json:"unknown_trip_obstruction" bson:"unknown_trip_obstruction"`
	GroupLargestPickupOverlapGap      *float64            `json:"group_largest_pickup_overlap_gap" bson:"group_largest_pickup_overlap_gap"`
	GroupLargestDestinationOverlapGap *float64            `json:"group_largest_destination_overlap_gap" bson:"group_largest_destination_overlap_gap"`
	TotalSeatCount                    int                 `json:"total_seat_count" bson:"total_seat_count"`
	SeatCount                         int                 `json:"seat_count" bson:"seat_count"`
}

// Obstructed reports whether any obstruction currently holds the edge in the
// potential list despite a proper geometric match.
func (p *PotentialTrip) Obstructed() bool {
	return p.TripObstruction || p.SeatObstruction || p.ReservingTripObstruction || p.UnknownTripObstruction
}

// FindMatched returns the index of the matched edge pointing at ref, or -1.
func (t *Trip) FindMatched(ref TripRef) int {
	for i := range t.MatchedTrips {
		if t.MatchedTrips[i].TripRef.Equal(ref) {
			return i
		}
	}
	return -1
}

// FindPotential returns the index of the potential edge pointing at ref, or -1.
func (t *Trip) FindPotential(ref TripRef) int {
	for i := range t.PotentialTrips {
		if t.PotentialTrips[i].TripRef.Equal(ref) {
			return i
		}
	}
	return -1
}

// ReservingEdge returns the matched edge this trip is reserving, or nil.
// At most one such edge may exist.
func (t *Trip) ReservingEdge() *MatchedTrip {
	for i := range t.MatchedTrips {
		if t.MatchedTrips[i].Reserving {
			return &t.MatchedTrips[i]
		}
	}
	return nil
}

// RemoveMatched removes the matched edge pointing at ref in place, keyed by
// trip ref rather than whole-element equality so cached fields that drifted
// never cause a silent no-op. Reports whether an element was removed.
func (t *Trip) RemoveMatched(ref TripRef) bool {
	i := t.FindMatched(ref)
	if i < 0 {
		return false
	}
	t.MatchedTrips = append(t.MatchedTrips[:i], t.MatchedTrips[i+1:]...)
	return true
}

// RemovePotential removes the potential edge pointing at ref in place.
func (t *Trip) RemovePotential(ref TripRef) bool {
	i := t.FindPotential(ref)
	if i < 0 {
		return false
	}
	t.PotentialTrips = append(t.PotentialTrips[:i], t.PotentialTrips[i+1:]...)
	return true
}

// CombinedRefs returns the deduplicated refs of every trip this trip currently
// relates to, matched first.
func (t *Trip) CombinedRefs() []TripRef {
	seen := make(map[TripRef]bool, len(t.MatchedTrips)+len(t.PotentialTrips))
	refs := make([]TripRef, 0, len(t.MatchedTrips)+len(t.PotentialTrips))
	for i := range t.MatchedTrips {
		if !seen[t.MatchedTrips[i].TripRef] {
			seen[t.MatchedTrips[i].TripRef] = true
			refs = append(refs, t.MatchedTrips[i].TripRef)
		}
	}
	for i := range t.PotentialTrips {
		if !seen[t.PotentialTrips[i].TripRef] {
			seen[t.PotentialTrips[i].TripRef] = true
			refs = append(refs, t.PotentialTrips[i].TripRef)
		}
	}
	return refs
}
