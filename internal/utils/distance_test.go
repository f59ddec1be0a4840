package utils

import (
	"testing"

	"ridepool/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceBetween(t *testing.T) {
	a := models.LatLng{Lat: 40.7128, Lng: -74.0060}

	assert.Zero(t, DistanceBetween(a, a))

	// One degree of latitude is about 111 km.
	b := models.LatLng{Lat: 41.7128, Lng: -74.0060}
	d := DistanceBetween(a, b)
	assert.InDelta(t, 111000, d, 500)

	// Symmetric.
	assert.InDelta(t, d, DistanceBetween(b, a), 0.001)
}

func TestProperMatch(t *testing.T) {
	pickup := models.LatLng{Lat: 40.7128, Lng: -74.0060}
	destination := models.LatLng{Lat: 40.7484, Lng: -73.9857}

	trip := func(pickupRadius, destRadius float64) *models.Trip {
		return &models.Trip{
			PickupLatLng:      pickup,
			DestinationLatLng: destination,
			PickupRadius:      pickupRadius,
			DestinationRadius: destRadius,
		}
	}

	t.Run("identical locations match", func(t *testing.T) {
		assert.True(t, ProperMatch(trip(500, 500), trip(500, 500), nil, nil))
	})

	t.Run("must hold on both axes", func(t *testing.T) {
		other := trip(500, 500)
		other.DestinationLatLng = models.LatLng{Lat: 41.7484, Lng: -73.9857}
		assert.False(t, ProperMatch(trip(500, 500), other, nil, nil))
	})

	t.Run("must hold for both trips", func(t *testing.T) {
		near := models.LatLng{Lat: 40.7155, Lng: -74.0060} // about 300m north
		wide := trip(500, 500)
		narrow := trip(100, 500)
		narrow.PickupLatLng = near
		// Inside the wide trip's radius but outside the narrow one's.
		assert.False(t, ProperMatch(wide, narrow, nil, nil))
		assert.False(t, ProperMatch(narrow, wide, nil, nil))
	})

	t.Run("uses precomputed distances when given", func(t *testing.T) {
		pd, dd := 100.0, 100.0
		assert.True(t, ProperMatch(trip(500, 500), trip(500, 500), &pd, &dd))
		far := 10000.0
		assert.False(t, ProperMatch(trip(500, 500), trip(500, 500), &far, &dd))
	})
}

func TestCalculateGap(t *testing.T) {
	t.Run("positive gap", func(t *testing.T) {
		d := 900.0
		gap := CalculateGap(150, 300, 400, &d)
		require.NotNil(t, gap)
		// slack - (rA + rB - d) = 150 - (300 + 400 - 900) = 350
		assert.InDelta(t, 350, *gap, 0.001)
	})

	t.Run("nil when negative", func(t *testing.T) {
		d := 100.0
		assert.Nil(t, CalculateGap(150, 300, 400, &d))
	})

	t.Run("nil when distance unknown", func(t *testing.T) {
		assert.Nil(t, CalculateGap(150, 300, 400, nil))
	})
}
