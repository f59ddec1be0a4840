package utils

import (
	"math"

	"ridepool/internal/models"
)

// DistanceBetween returns the haversine great-circle distance between two
// points in meters.
func DistanceBetween(p1, p2 models.LatLng) float64 {
	return haversineDistance(p1.Lat, p1.Lng, p2.Lat, p2.Lng)
}

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert to radians
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	// Differences
	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// ProperMatch reports whether two trips lie within each other's pickup AND
// destination radii. Cached distances can be passed in; when nil they are
// recomputed from the lat-lngs, since cached values go stale after an edit.
func ProperMatch(a, b *models.Trip, pickupDist, destDist *float64) bool {
	pd := resolveDistance(pickupDist, a.PickupLatLng, b.PickupLatLng)
	dd := resolveDistance(destDist, a.DestinationLatLng, b.DestinationLatLng)

	return pd <= a.PickupRadius && pd <= b.PickupRadius &&
		dd <= a.DestinationRadius && dd <= b.DestinationRadius
}

func resolveDistance(cached *float64, p1, p2 models.LatLng) float64 {
	if cached != nil {
		return *cached
	}
	return DistanceBetween(p1, p2)
}

// CalculateGap returns the near-miss overlap gap for one axis:
// slack - (radiusA + radiusB - distance). A nil result means there is no
// meaningful diagnostic, either because the gap came out negative or the
// distance is unknown.
func CalculateGap(slack, radiusA, radiusB float64, distance *float64) *float64 {
	if distance == nil {
		return nil
	}
	gap := slack - (radiusA + radiusB - *distance)
	if gap < 0 {
		return nil
	}
	return &gap
}
