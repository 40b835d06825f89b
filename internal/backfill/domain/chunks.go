package domain

import "time"

// Window is a half-open [Start, End) date range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BuildWindows splits the lookback into fixed-size day windows by walking
// backward from now, newest window first. The oldest window is clipped so
// it never precedes the overall start date. Windows are contiguous and
// non-overlapping and together cover exactly daysBack days.
func BuildWindows(now time.Time, daysBack, chunkSizeDays int) []Window {
	if daysBack <= 0 || chunkSizeDays <= 0 {
		return nil
	}

	overallStart := now.AddDate(0, 0, -daysBack)
	windows := make([]Window, 0, (daysBack+chunkSizeDays-1)/chunkSizeDays)
	cursor := now
	for cursor.After(overallStart) {
		start := cursor.AddDate(0, 0, -chunkSizeDays)
		if start.Before(overallStart) {
			start = overallStart
		}
		windows = append(windows, Window{Start: start, End: cursor})
		cursor = start
	}
	return windows
}
