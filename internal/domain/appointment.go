package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled   AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed   AppointmentStatus = "confirmed"
	AppointmentStatusCompleted   AppointmentStatus = "completed"
	AppointmentStatusCancelled   AppointmentStatus = "cancelled"
	AppointmentStatusNoShow      AppointmentStatus = "no_show"
	AppointmentStatusRescheduled AppointmentStatus = "rescheduled"
)

// ReasonCancelledExternally is recorded when the provider removes the event from their calendar.
const ReasonCancelledExternally = "cancelled externally"

var ErrInvalidTransition = errors.New("invalid appointment status transition")

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusScheduled: {
		AppointmentStatusConfirmed,
		AppointmentStatusCancelled,
		AppointmentStatusRescheduled,
	},
	AppointmentStatusConfirmed: {
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
		AppointmentStatusNoShow,
		AppointmentStatusRescheduled,
	},
}

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	switch st := AppointmentStatus(s); st {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusCompleted,
		AppointmentStatusCancelled, AppointmentStatusNoShow, AppointmentStatusRescheduled:
		return st, true
	}
	return "", false
}

// ActiveStatuses lists the statuses in which an appointment still holds its slot.
func ActiveStatuses() []AppointmentStatus {
	return []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusConfirmed}
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s AppointmentStatus) IsTerminal() bool {
	_, ok := appointmentTransitions[s]
	return !ok
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, next := range appointmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type StatusChange struct {
	From   AppointmentStatus `json:"from"`
	To     AppointmentStatus `json:"to"`
	Reason string            `json:"reason,omitempty"`
	At     time.Time         `json:"at"`
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                 uuid.UUID         `bun:"id,pk,type:uuid"`
	ProviderID         string            `bun:"provider_id,notnull"`
	SlotID             uuid.UUID         `bun:"slot_id,notnull,type:uuid"`
	ClientID           string            `bun:"client_id,notnull"`
	Status             AppointmentStatus `bun:"status,notnull"`
	ExternalEventID    *string           `bun:"external_event_id"`
	CancellationReason string            `bun:"cancellation_reason"`
	History            []StatusChange    `bun:"history,type:jsonb,notnull"`
	CreatedAt          time.Time         `bun:"created_at,notnull"`
	UpdatedAt          time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Transition returns a copy of a moved to status to with the change appended to its history.
// The receiver is left untouched.
func (a Appointment) Transition(to AppointmentStatus, reason string, at time.Time) (Appointment, error) {
	if !a.Status.CanTransitionTo(to) {
		return a, ErrInvalidTransition
	}

	history := make([]StatusChange, 0, len(a.History)+1)
	history = append(history, a.History...)
	history = append(history, StatusChange{From: a.Status, To: to, Reason: reason, At: at.UTC()})

	out := a
	out.Status = to
	out.History = history
	if to == AppointmentStatusCancelled {
		out.CancellationReason = reason
	}
	return out, nil
}

// ReleasesSlot reports whether the appointment's slot should become bookable again.
func (a Appointment) ReleasesSlot() bool {
	return a.Status == AppointmentStatusCancelled || a.Status == AppointmentStatusRescheduled
}

func (a Appointment) ExternalID() string {
	if a.ExternalEventID == nil {
		return ""
	}
	return *a.ExternalEventID
}
