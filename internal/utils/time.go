package utils

import (
	"fmt"
	"sort"
	"time"

	"ridepool/internal/models"
)

// FormatTimeRange renders one acceptable departure window for user-facing
// notification text, e.g. "07:30 - 08:15".
func FormatTimeRange(r models.TimeRange, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	start := time.Unix(r.Start, 0).In(loc)
	end := time.Unix(r.End, 0).In(loc)
	return fmt.Sprintf("%s - %s", start.Format("15:04"), end.Format("15:04"))
}

// FormatTimeRanges renders every window of an aggregated range array.
func FormatTimeRanges(ranges []models.TimeRange, timezone string) []string {
	out := make([]string, len(ranges))
	for i, r := range ranges {
		out[i] = FormatTimeRange(r, timezone)
	}
	return out
}

// MergeTimeRanges returns the union of all members' acceptable windows as a
// sorted, non-overlapping range array.
func MergeTimeRanges(ranges []models.TimeRange) []models.TimeRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]models.TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := []models.TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// EqualTimeRanges compares two range arrays element-wise.
func EqualTimeRanges(a, b []models.TimeRange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
