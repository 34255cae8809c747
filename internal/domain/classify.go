package domain

import "strings"

type EventKind int

const (
	EventKindExternal EventKind = iota
	EventKindAppointment
)

func (k EventKind) String() string {
	if k == EventKindAppointment {
		return "appointment"
	}
	return "external"
}

// EventClassifier decides whether an external calendar event was written by the booking flow.
type EventClassifier interface {
	Classify(summary, description string) EventKind
}

const DefaultAppointmentPrefix = "Appointment:"

// PrefixClassifier recognises booking-flow events by a summary prefix, compared case-insensitively
// after trimming whitespace.
type PrefixClassifier struct {
	Prefix string
}

func (c PrefixClassifier) Classify(summary, description string) EventKind {
	prefix := strings.TrimSpace(c.Prefix)
	if prefix == "" {
		prefix = DefaultAppointmentPrefix
	}
	s := strings.TrimSpace(summary)
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return EventKindAppointment
	}
	return EventKindExternal
}

// Label strips the prefix from an appointment summary, e.g. "Appointment: Consultation" -> "Consultation".
func (c PrefixClassifier) Label(summary string) string {
	prefix := strings.TrimSpace(c.Prefix)
	if prefix == "" {
		prefix = DefaultAppointmentPrefix
	}
	s := strings.TrimSpace(summary)
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return s
}
