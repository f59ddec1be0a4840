package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripGroup struct {
	ID                     primitive.ObjectID    `json:"id" bson:"_id,omitempty"`
	TripGroupMembers       []TripGroupMember     `json:"trip_group_members" bson:"trip_group_members"`
	PotentialTripMembers   []PotentialTripMember `json:"potential_trip_members" bson:"potential_trip_members"`
	TotalSeatCount         int                   `json:"total_seat_count" bson:"total_seat_count"`
	PickupSuggestions      []LocationSuggestion  `json:"pickup_location_suggestions" bson:"pickup_location_suggestions"`
	DestinationSuggestions []LocationSuggestion  `json:"destination_suggestions" bson:"destination_suggestions"`
	TimeRangeArray         []TimeRange           `json:"time_range_array" bson:"time_range_array"`
	RecentMessage          *RecentMessage        `json:"recent_message" bson:"recent_message"`
	CreatedAt              time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at" bson:"updated_at"`
}

type TripGroupMember struct {
	TripRef         TripRef            `json:"trip_ref" bson:"trip_ref"`
	UserRef         primitive.ObjectID `json:"user_ref" bson:"user_ref"`
	FirstName       string             `json:"first_name" bson:"first_name"`
	LastName        string             `json:"last_name" bson:"last_name"`
	PhotoURL        string             `json:"photo_url" bson:"photo_url"`
	SeatCount       int                `json:"seat_count" bson:"seat_count"`
	TimeRangeArray  []TimeRange        `json:"time_range_array" bson:"time_range_array"`
	TripGroupLeader bool               `json:"trip_group_leader" bson:"trip_group_leader"`
	JoinedTimestamp time.Time          `json:"joined_timestamp" bson:"joined_timestamp"`
}

// PotentialTripMember tracks a non-member trip against the group so it can be
// promoted once every obstruction clears.
type PotentialTripMember struct {
	TripRef                TripRef                 `json:"trip_ref" bson:"trip_ref"`
	ObstructingTripMembers []ObstructingTripMember `json:"obstructing_trip_members" bson:"obstructing_trip_members"`
	TripObstruction        bool                    `json:"trip_obstruction" bson:"trip_obstruction"`
	SeatObstruction        bool                    `json:"seat_obstruction" bson:"seat_obstruction"`
	UnknownTripObstruction bool                    `json:"unknown_trip_obstruction" bson:"unknown_trip_obstruction"`
	SeatCount              int                     `json:"seat_count" bson:"seat_count"`
}

func (p *PotentialTripMember) Obstructed() bool {
	return p.TripObstruction || p.SeatObstruction || p.UnknownTripObstruction
}

// ObstructingTripMember records which group member blocks a potential member,
// with near-miss overlap gap diagnostics per axis.
type ObstructingTripMember struct {
	TripRef               TripRef  `json:"trip_ref" bson:"trip_ref"`
	PickupOverlapGap      *float64 `json:"pickup_overlap_gap" bson:"pickup_overlap_gap"`
	DestinationOverlapGap *float64 `json:"destination_overlap_gap" bson:"destination_overlap_gap"`
	Unknown               bool     `json:"unknown" bson:"unknown"`
}

type LocationSuggestion struct {
	PlaceID         string           `json:"place_id" bson:"place_id"`
	Name            string           `json:"name" bson:"name"`
	Address         string           `json:"address" bson:"address"`
	LatLng          LatLng           `json:"latlng" bson:"latlng"`
	MemberDistances []MemberDistance `json:"member_distances" bson:"member_distances"`
	Voters          []TripRef        `json:"voters" bson:"voters"`
}

type MemberDistance struct {
	TripRef         TripRef `json:"trip_ref" bson:"trip_ref"`
	WalkingDistance float64 `json:"walking_distance" bson:"walking_distance"` // meters
	DrivingDistance float64 `json:"driving_distance" bson:"driving_distance"` // meters
}

// RecentMessage is a denormalized pointer to the latest group chat message,
// kept on the group document for list-view previews.
type RecentMessage struct {
	MessageID primitive.ObjectID `json:"message_id" bson:"message_id"`
	Text      string             `json:"text" bson:"text"`
	SenderRef *TripRef           `json:"sender_ref" bson:"sender_ref"`
	System    bool               `json:"system" bson:"system"`
	SentAt    time.Time          `json:"sent_at" bson:"sent_at"`
}

// FindMember returns the index of the member entry for ref, or -1.
func (g *TripGroup) FindMember(ref TripRef) int {
	for i := range g.TripGroupMembers {
		if g.TripGroupMembers[i].TripRef.Equal(ref) {
			return i
		}
	}
	return -1
}

// FindPotentialMember returns the index of the potential member entry for ref,
// or -1.
func (g *TripGroup) FindPotentialMember(ref TripRef) int {
	for i := range g.PotentialTripMembers {
		if g.PotentialTripMembers[i].TripRef.Equal(ref) {
			return i
		}
	}
	return -1
}
