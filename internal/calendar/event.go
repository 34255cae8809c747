package calendar

import (
	"strings"
	"time"
)

const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// Event is a vendor-neutral snapshot of one external calendar event.
type Event struct {
	ID          string
	Status      string
	Summary     string
	Description string
	Start       *time.Time
	End         *time.Time
	AllDay      bool
}

func (e Event) Cancelled() bool {
	return strings.EqualFold(e.Status, EventStatusCancelled)
}

// Span returns the event's interval. A missing end defaults to start+fallback and ok is false
// when the event has no start.
func (e Event) Span(fallback time.Duration) (start, end time.Time, ok bool) {
	if e.Start == nil || e.Start.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	start = e.Start.UTC()
	if e.End == nil || !e.End.After(*e.Start) {
		return start, start.Add(fallback), true
	}
	return start, e.End.UTC(), true
}
