package harvest

import (
	"time"
)

// Window is a half-open slice of time expressed in epoch milliseconds,
// inclusive on both ends.
type Window struct {
	StartMs int64
	EndMs   int64
}

// MonthWindows returns calendar-month windows covering [boundary, end],
// newest first, clamped to the covered interval at both edges.
func MonthWindows(boundary, end time.Time) []Window {
	boundary = boundary.UTC()
	end = end.UTC()

	var windows []Window

	// first day of the month after end
	cur := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !cur.After(end) {
		cur = cur.AddDate(0, 1, 0)
	}

	for {
		windowStart := cur.AddDate(0, -1, 0)
		windowEnd := cur.Add(-time.Millisecond)
		if windowEnd.Before(boundary) {
			break
		}

		ws := windowStart
		if ws.Before(boundary) {
			ws = boundary
		}
		we := windowEnd
		if we.After(end) {
			we = end
		}
		windows = append(windows, Window{StartMs: ws.UnixMilli(), EndMs: we.UnixMilli()})

		cur = windowStart
		if !windowStart.After(boundary) {
			break
		}
	}

	return windows
}

// DaySlices subdivides a window into fixed-size day slices, newest first.
// days <= 0 returns the window unchanged.
func DaySlices(w Window, days int) []Window {
	if days <= 0 {
		return []Window{w}
	}

	sliceMs := int64(days) * 86400000
	var slices []Window
	subEnd := w.EndMs
	for subEnd >= w.StartMs {
		subStart := subEnd - sliceMs + 1
		if subStart < w.StartMs {
			subStart = w.StartMs
		}
		slices = append(slices, Window{StartMs: subStart, EndMs: subEnd})
		subEnd = subStart - 1
	}
	return slices
}
