package utils

import (
	"testing"

	"ridepool/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestMergeTimeRanges(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, MergeTimeRanges(nil))
	})

	t.Run("overlapping windows merge", func(t *testing.T) {
		merged := MergeTimeRanges([]models.TimeRange{
			{Start: 300, End: 500},
			{Start: 100, End: 350},
		})
		assert.Equal(t, []models.TimeRange{{Start: 100, End: 500}}, merged)
	})

	t.Run("disjoint windows stay apart", func(t *testing.T) {
		merged := MergeTimeRanges([]models.TimeRange{
			{Start: 600, End: 700},
			{Start: 100, End: 200},
		})
		assert.Equal(t, []models.TimeRange{{Start: 100, End: 200}, {Start: 600, End: 700}}, merged)
	})

	t.Run("touching windows merge", func(t *testing.T) {
		merged := MergeTimeRanges([]models.TimeRange{
			{Start: 100, End: 200},
			{Start: 200, End: 300},
		})
		assert.Equal(t, []models.TimeRange{{Start: 100, End: 300}}, merged)
	})

	t.Run("contained window disappears", func(t *testing.T) {
		merged := MergeTimeRanges([]models.TimeRange{
			{Start: 100, End: 500},
			{Start: 200, End: 300},
		})
		assert.Equal(t, []models.TimeRange{{Start: 100, End: 500}}, merged)
	})
}

func TestEqualTimeRanges(t *testing.T) {
	a := []models.TimeRange{{Start: 100, End: 200}}
	assert.True(t, EqualTimeRanges(a, []models.TimeRange{{Start: 100, End: 200}}))
	assert.False(t, EqualTimeRanges(a, []models.TimeRange{{Start: 100, End: 201}}))
	assert.False(t, EqualTimeRanges(a, nil))
}

func TestFormatTimeRange(t *testing.T) {
	r := models.TimeRange{Start: 27000, End: 29700} // 07:30 - 08:15 UTC
	assert.Equal(t, "07:30 - 08:15", FormatTimeRange(r, "UTC"))
	assert.Equal(t, "07:30 - 08:15", FormatTimeRange(r, ""))
}
