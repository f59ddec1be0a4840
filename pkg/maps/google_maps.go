package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

type GoogleMapsProvider struct {
	client *maps.Client
}

func NewGoogleMapsProvider(apiKey string) (*GoogleMapsProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return &GoogleMapsProvider{
		client: client,
	}, nil
}

func (g *GoogleMapsProvider) SuggestMeetingPoints(ctx context.Context, request *SuggestionRequest) ([]*SuggestionResult, error) {
	nearbyReq := &maps.NearbySearchRequest{
		Location: &maps.LatLng{
			Lat: request.Center.Latitude,
			Lng: request.Center.Longitude,
		},
		Radius: uint(request.Radius),
	}

	nearby, err := g.client.NearbySearch(ctx, nearbyReq)
	if err != nil {
		return nil, fmt.Errorf("nearby search failed: %w", err)
	}

	limit := request.Limit
	if limit <= 0 || limit > len(nearby.Results) {
		limit = len(nearby.Results)
	}

	results := make([]*SuggestionResult, 0, limit)
	for _, place := range nearby.Results[:limit] {
		result := &SuggestionResult{
			PlaceID: place.PlaceID,
			Name:    place.Name,
			Address: place.Vicinity,
			Location: Location{
				Latitude:  place.Geometry.Location.Lat,
				Longitude: place.Geometry.Location.Lng,
			},
		}

		distances, err := g.memberDistances(ctx, request.Members, result.Location)
		if err != nil {
			return nil, err
		}
		result.MemberDistances = distances

		results = append(results, result)
	}

	return results, nil
}

// memberDistances runs one walking and one driving distance-matrix query from
// every member to the candidate point.
func (g *GoogleMapsProvider) memberDistances(ctx context.Context, members []MemberPoint, point Location) ([]MemberDistance, error) {
	if len(members) == 0 {
		return nil, nil
	}

	origins := make([]string, len(members))
	for i, m := range members {
		origins[i] = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
	}
	destination := []string{fmt.Sprintf("%f,%f", point.Latitude, point.Longitude)}

	walking, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      origins,
		Destinations: destination,
		Mode:         maps.TravelModeWalking,
	})
	if err != nil {
		return nil, fmt.Errorf("walking distance matrix failed: %w", err)
	}

	driving, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      origins,
		Destinations: destination,
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		return nil, fmt.Errorf("driving distance matrix failed: %w", err)
	}

	distances := make([]MemberDistance, len(members))
	for i, m := range members {
		distances[i] = MemberDistance{
			MemberID:        m.ID,
			WalkingDistance: elementDistance(walking, i),
			DrivingDistance: elementDistance(driving, i),
		}
	}

	return distances, nil
}

func elementDistance(resp *maps.DistanceMatrixResponse, row int) float64 {
	if resp == nil || row >= len(resp.Rows) || len(resp.Rows[row].Elements) == 0 {
		return -1
	}
	elem := resp.Rows[row].Elements[0]
	if elem.Status != "OK" {
		return -1
	}
	return float64(elem.Distance.Meters)
}
