package maps

import "context"

// SuggestionProvider finds candidate shared pickup/destination meeting points
// for a group and computes per-member walking and driving distances to each.
// Implementations talk to an external mapping API; callers must never invoke
// this inside a store transaction.
type SuggestionProvider interface {
	SuggestMeetingPoints(ctx context.Context, request *SuggestionRequest) ([]*SuggestionResult, error)
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type MemberPoint struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
}

type SuggestionRequest struct {
	Center  Location      `json:"center"`
	Members []MemberPoint `json:"members"`
	Radius  float64       `json:"radius"` // meters
	Limit   int           `json:"limit"`
}

type SuggestionResult struct {
	PlaceID         string           `json:"place_id"`
	Name            string           `json:"name"`
	Address         string           `json:"address"`
	Location        Location         `json:"location"`
	MemberDistances []MemberDistance `json:"member_distances"`
}

// MemberDistance is one member's walking and driving distance in meters to a
// suggested point. Unknown distances are negative.
type MemberDistance struct {
	MemberID        string  `json:"member_id"`
	WalkingDistance float64 `json:"walking_distance"`
	DrivingDistance float64 `json:"driving_distance"`
}
