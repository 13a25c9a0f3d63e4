package policy

import (
	"time"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Spend windows are contiguous, non-overlapping buckets anchored to UTC.
// Daily and weekly buckets are fixed-size floors of the Unix epoch;
// months are calendar months since they are not fixed-size.

// BucketRange returns the [start, end) bounds of the bucket containing
// at, for the given window.
func BucketRange(w contracts.Window, at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	switch w {
	case contracts.WindowDaily:
		start := at.Truncate(24 * time.Hour)
		return start, start.Add(24 * time.Hour)
	case contracts.WindowWeekly:
		const week = 7 * 24 * time.Hour
		start := time.Unix(0, 0).UTC().Add(at.Sub(time.Unix(0, 0).UTC()).Truncate(week))
		return start, start.Add(week)
	case contracts.WindowMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}
	}
}

// denialReason maps a window to its machine-readable denial code.
func denialReason(w contracts.Window) string {
	switch w {
	case contracts.WindowDaily:
		return contracts.ReasonExceedsDailyLimit
	case contracts.WindowWeekly:
		return contracts.ReasonExceedsWeeklyLimit
	case contracts.WindowMonthly:
		return contracts.ReasonExceedsMonthlyLimit
	default:
		return contracts.ReasonExceedsDailyLimit
	}
}
