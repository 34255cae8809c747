package domain

import (
	"testing"
	"time"
)

func TestTimeSpanOverlaps(t *testing.T) {
	block := TimeSpan{
		Start: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC),
	}
	at := func(h, m int) time.Time { return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		candidate TimeSpan
		want      bool
	}{
		{name: "ends at block start", candidate: TimeSpan{Start: at(9, 30), End: at(10, 0)}, want: false},
		{name: "starts at block end", candidate: TimeSpan{Start: at(10, 30), End: at(11, 0)}, want: false},
		{name: "identical", candidate: TimeSpan{Start: at(10, 0), End: at(10, 30)}, want: true},
		{name: "starts inside", candidate: TimeSpan{Start: at(10, 15), End: at(10, 45)}, want: true},
		{name: "ends inside", candidate: TimeSpan{Start: at(9, 45), End: at(10, 15)}, want: true},
		{name: "contains block", candidate: TimeSpan{Start: at(9, 0), End: at(11, 0)}, want: true},
		{name: "inside block", candidate: TimeSpan{Start: at(10, 5), End: at(10, 10)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.candidate.Overlaps(block); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := block.Overlaps(tt.candidate); got != tt.want {
				t.Fatalf("symmetric Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandBlockedIntervals_OneOff(t *testing.T) {
	windowStart := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 0, 1)

	blocks := []BlockedInterval{
		{StartTime: windowStart.Add(12 * time.Hour), EndTime: windowStart.Add(13 * time.Hour)},
		{StartTime: windowStart.Add(-2 * time.Hour), EndTime: windowStart.Add(-time.Hour)},
		{StartTime: windowStart.Add(9 * time.Hour), EndTime: windowStart.Add(9 * time.Hour)},
		{StartTime: windowStart.Add(8 * time.Hour), EndTime: windowStart.Add(9 * time.Hour)},
	}

	got := ExpandBlockedIntervals(blocks, windowStart, windowEnd, time.UTC)
	if len(got) != 2 {
		t.Fatalf("spans = %d, want 2", len(got))
	}
	if !got[0].Start.Equal(windowStart.Add(8*time.Hour)) || !got[1].Start.Equal(windowStart.Add(12*time.Hour)) {
		t.Fatalf("spans = %+v, want sorted 08:00 and 12:00", got)
	}
}

func TestExpandBlockedIntervals_Recurring(t *testing.T) {
	first := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	blocks := []BlockedInterval{{StartTime: first, EndTime: first.Add(time.Hour), Recurring: true}}

	windowStart := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 0, 14)

	got := ExpandBlockedIntervals(blocks, windowStart, windowEnd, time.UTC)
	if len(got) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(got))
	}
	for i, want := range []time.Time{
		time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC),
	} {
		if !got[i].Start.Equal(want) || got[i].End.Sub(got[i].Start) != time.Hour {
			t.Fatalf("occurrence %d = %+v, want %s for 1h", i, got[i], want)
		}
	}
}

func TestExpandBlockedIntervals_RecurringKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	first := time.Date(2026, 3, 23, 9, 0, 0, 0, loc)
	blocks := []BlockedInterval{{StartTime: first, EndTime: first.Add(30 * time.Minute), Recurring: true}}

	windowStart := time.Date(2026, 3, 30, 0, 0, 0, 0, loc)
	got := ExpandBlockedIntervals(blocks, windowStart, windowStart.AddDate(0, 0, 1), loc)
	if len(got) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(got))
	}
	if h, m, _ := got[0].Start.In(loc).Clock(); h != 9 || m != 0 {
		t.Fatalf("occurrence starts %02d:%02d local, want 09:00", h, m)
	}
}

func TestExpandBlockedIntervals_RecurringNotBeforeFirstOccurrence(t *testing.T) {
	first := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	blocks := []BlockedInterval{{StartTime: first, EndTime: first.Add(time.Hour), Recurring: true}}

	windowStart := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	got := ExpandBlockedIntervals(blocks, windowStart, windowStart.AddDate(0, 0, 7), time.UTC)
	if len(got) != 0 {
		t.Fatalf("occurrences = %+v, want none", got)
	}
}
