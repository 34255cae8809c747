package domain

import (
	"sort"
	"time"
)

type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open spans [s.Start, s.End) and [o.Start, o.End) intersect.
// Spans that only touch at an edge do not overlap.
func (s TimeSpan) Overlaps(o TimeSpan) bool {
	return s.Start.Before(o.End) && s.End.After(o.Start)
}

const week = 7 * 24 * time.Hour

// ExpandBlockedIntervals returns every blocked span that intersects [windowStart, windowEnd).
// A recurring interval repeats weekly from its first occurrence, keeping its wall-clock
// start and length in loc across DST changes.
func ExpandBlockedIntervals(blocks []BlockedInterval, windowStart, windowEnd time.Time, loc *time.Location) []TimeSpan {
	window := TimeSpan{Start: windowStart, End: windowEnd}
	out := make([]TimeSpan, 0, len(blocks))

	for _, b := range blocks {
		if !b.EndTime.After(b.StartTime) {
			continue
		}
		first := TimeSpan{Start: b.StartTime, End: b.EndTime}
		if !b.Recurring {
			if first.Overlaps(window) {
				out = append(out, first)
			}
			continue
		}

		length := b.EndTime.Sub(b.StartTime)
		startLocal := b.StartTime.In(loc)

		weekIndex := 0
		if windowStart.After(b.EndTime) {
			// one week of slack for DST shifts; the overlap check below discards extras
			weekIndex = int(windowStart.Sub(b.EndTime)/week) - 1
			if weekIndex < 0 {
				weekIndex = 0
			}
		}
		for ; ; weekIndex++ {
			occStart := startLocal.AddDate(0, 0, 7*weekIndex)
			if !occStart.Before(windowEnd) {
				break
			}
			occ := TimeSpan{Start: occStart, End: occStart.Add(length)}
			if occ.Overlaps(window) {
				out = append(out, occ)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func overlapsAny(candidate TimeSpan, spans []TimeSpan) bool {
	for _, s := range spans {
		if candidate.Overlaps(s) {
			return true
		}
	}
	return false
}
