package domain

import (
	"errors"
	"testing"
	"time"
)

func TestAppointmentTransition(t *testing.T) {
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	appt := Appointment{ProviderID: "p1", Status: AppointmentStatusScheduled}

	confirmed, err := appt.Transition(AppointmentStatusConfirmed, "", at)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.Status != AppointmentStatusScheduled || len(appt.History) != 0 {
		t.Fatalf("receiver mutated: %+v", appt)
	}

	cancelled, err := confirmed.Transition(AppointmentStatusCancelled, ReasonCancelledExternally, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != AppointmentStatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}
	if cancelled.CancellationReason != ReasonCancelledExternally {
		t.Fatalf("reason = %q, want %q", cancelled.CancellationReason, ReasonCancelledExternally)
	}
	if len(cancelled.History) != 2 || cancelled.History[1].From != AppointmentStatusConfirmed {
		t.Fatalf("history = %+v, want 2 entries ending confirmed->cancelled", cancelled.History)
	}
	if len(confirmed.History) != 1 {
		t.Fatalf("previous history mutated: %+v", confirmed.History)
	}
	if !cancelled.ReleasesSlot() {
		t.Fatalf("cancelled appointment should release its slot")
	}

	if _, err := cancelled.Transition(AppointmentStatusConfirmed, "", at); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAppointmentStatus(t *testing.T) {
	terminal := []AppointmentStatus{
		AppointmentStatusCompleted,
		AppointmentStatusCancelled,
		AppointmentStatusNoShow,
		AppointmentStatusRescheduled,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	if AppointmentStatusScheduled.IsTerminal() || AppointmentStatusConfirmed.IsTerminal() {
		t.Fatalf("scheduled and confirmed should not be terminal")
	}
	if AppointmentStatusScheduled.CanTransitionTo(AppointmentStatusCompleted) {
		t.Fatalf("scheduled -> completed should be rejected")
	}

	if _, ok := ParseAppointmentStatus("no_show"); !ok {
		t.Fatalf("no_show should parse")
	}
	if _, ok := ParseAppointmentStatus("pending"); ok {
		t.Fatalf("pending should not parse")
	}
}

func TestSlotReleaseAndOccupy(t *testing.T) {
	s := Slot{IsAvailable: true}

	taken := s.Occupy("evt-1")
	if taken.IsAvailable || taken.ExternalID() != "evt-1" {
		t.Fatalf("occupied = %+v", taken)
	}
	if s.ExternalEventID != nil || !s.IsAvailable {
		t.Fatalf("receiver mutated: %+v", s)
	}

	kept := taken.Occupy("")
	if kept.ExternalID() != "evt-1" {
		t.Fatalf("empty id cleared binding: %+v", kept)
	}

	freed := taken.Release()
	if !freed.IsAvailable || freed.ExternalEventID != nil {
		t.Fatalf("released = %+v", freed)
	}
}
