package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

// Outcome names what reconciling one event did to the local records.
type Outcome string

const (
	OutcomeNoop                 Outcome = "noop"
	OutcomeAppointmentCancelled Outcome = "appointment_cancelled"
	OutcomeSlotReleased         Outcome = "slot_released"
	OutcomeSlotDeleted          Outcome = "slot_deleted"
	OutcomeAppointmentUpdated   Outcome = "appointment_slot_updated"
	OutcomeBlockCreated         Outcome = "block_created"
	OutcomeBlockUpdated         Outcome = "block_updated"
	OutcomeSlotBound            Outcome = "slot_bound"
	OutcomeSlotUnbound          Outcome = "slot_unbound"
	OutcomeConflict             Outcome = "conflict"
	OutcomeIgnoredAllDay        Outcome = "ignored_all_day"
	OutcomeIgnoredMalformed     Outcome = "ignored_malformed"
	OutcomeFailed               Outcome = "failed"
)

type labeler interface {
	Label(summary string) string
}

type Reconciler struct {
	store      store.ProviderStore
	classifier domain.EventClassifier
	// blockLength is used for events that carry a start but no usable end.
	blockLength time.Duration
	log         *slog.Logger
	now         func() time.Time
}

func NewReconciler(ps store.ProviderStore, classifier domain.EventClassifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if classifier == nil {
		classifier = domain.PrefixClassifier{}
	}
	return &Reconciler{
		store:       ps,
		classifier:  classifier,
		blockLength: domain.DefaultEventBlockMinutes * time.Minute,
		log:         log.With(slog.String("component", "reconciler")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies one external event to the provider's slots and appointments inside its own
// transaction. Replaying the same event converges on the same state.
func (r *Reconciler) Reconcile(ctx context.Context, providerID string, ev calendar.Event) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = OutcomeFailed
			err = fmt.Errorf("reconcile event %q: panic: %v", ev.ID, p)
		}
	}()

	log := r.log.With(slog.String("provider_id", providerID), slog.String("event_id", ev.ID))

	if ev.ID == "" {
		log.WarnContext(ctx, "event without id skipped")
		return OutcomeIgnoredMalformed, nil
	}
	if ev.Cancelled() {
		return r.inTx(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) (Outcome, error) {
			return r.cancel(ctx, tx, providerID, ev)
		})
	}
	if ev.AllDay {
		return OutcomeIgnoredAllDay, nil
	}

	start, end, ok := ev.Span(r.blockLength)
	if !ok {
		log.WarnContext(ctx, "event without start time skipped")
		return OutcomeIgnoredMalformed, nil
	}

	kind := r.classifier.Classify(ev.Summary, ev.Description)
	label := ev.Summary
	if l, ok := r.classifier.(labeler); ok && kind == domain.EventKindAppointment {
		label = l.Label(ev.Summary)
	}
	if label == "" {
		label = domain.DefaultBlockedLabel
	}

	return r.inTx(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) (Outcome, error) {
		if kind == domain.EventKindAppointment {
			out, handled, err := r.updateAppointmentSlot(ctx, tx, providerID, ev.ID, start, end, label)
			if err != nil || handled {
				return out, err
			}
		}
		return r.block(ctx, tx, providerID, ev.ID, start, end, label)
	})
}

func (r *Reconciler) inTx(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) (Outcome, error)) (Outcome, error) {
	var out Outcome
	err := r.store.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
		o, err := fn(ctx, tx)
		out = o
		return err
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return out, nil
}

func (r *Reconciler) cancel(ctx context.Context, tx store.ProviderTx, providerID string, ev calendar.Event) (Outcome, error) {
	appt, err := tx.FindAppointmentByExternalEventID(ctx, providerID, ev.ID)
	switch {
	case err == nil:
		return r.cancelAppointment(ctx, tx, appt)
	case !errors.Is(err, store.ErrNotFound):
		return OutcomeFailed, fmt.Errorf("find appointment: %w", err)
	}

	slot, err := tx.FindSlotByExternalEventID(ctx, providerID, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoop, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find slot: %w", err)
	}

	if slot.Origin == domain.SlotOriginExternal {
		if err := tx.DeleteSlot(ctx, providerID, slot.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return OutcomeFailed, fmt.Errorf("delete slot: %w", err)
		}
		return OutcomeSlotDeleted, nil
	}
	_, held, err := r.holder(ctx, tx, slot)
	if err != nil {
		return OutcomeFailed, err
	}
	if held {
		// the slot stays booked; only the foreign event binding goes away
		slot.ExternalEventID = nil
		if _, err := tx.UpdateSlot(ctx, slot); err != nil {
			return OutcomeFailed, fmt.Errorf("unbind slot: %w", err)
		}
		return OutcomeSlotUnbound, nil
	}
	if _, err := tx.UpdateSlot(ctx, slot.Release()); err != nil {
		return OutcomeFailed, fmt.Errorf("release slot: %w", err)
	}
	return OutcomeSlotReleased, nil
}

func (r *Reconciler) cancelAppointment(ctx context.Context, tx store.ProviderTx, appt domain.Appointment) (Outcome, error) {
	if appt.Status.IsTerminal() {
		return OutcomeNoop, nil
	}

	cancelled, err := appt.Transition(domain.AppointmentStatusCancelled, domain.ReasonCancelledExternally, r.now())
	if err != nil {
		return OutcomeFailed, err
	}
	if _, err := tx.UpdateAppointment(ctx, cancelled); err != nil {
		return OutcomeFailed, fmt.Errorf("update appointment: %w", err)
	}

	slot, err := tx.GetSlot(ctx, appt.ProviderID, appt.SlotID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.WarnContext(ctx, "cancelled appointment has no slot",
			slog.String("appointment_id", appt.ID.String()),
			slog.String("slot_id", appt.SlotID.String()),
		)
		return OutcomeAppointmentCancelled, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load slot: %w", err)
	}
	if _, err := tx.UpdateSlot(ctx, slot.Release()); err != nil {
		return OutcomeFailed, fmt.Errorf("release slot: %w", err)
	}
	return OutcomeAppointmentCancelled, nil
}

// updateAppointmentSlot moves the slot bound to a booking-flow event. handled is false when no
// slot is bound yet, in which case the event blocks time like any other.
func (r *Reconciler) updateAppointmentSlot(ctx context.Context, tx store.ProviderTx, providerID, eventID string, start, end time.Time, label string) (Outcome, bool, error) {
	slot, err := tx.FindSlotByExternalEventID(ctx, providerID, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return OutcomeFailed, true, fmt.Errorf("find slot: %w", err)
	}
	out, err := r.rebind(ctx, tx, slot, eventID, start, end, label, true)
	return out, true, err
}

func (r *Reconciler) block(ctx context.Context, tx store.ProviderTx, providerID, eventID string, start, end time.Time, label string) (Outcome, error) {
	bound, err := tx.FindSlotByExternalEventID(ctx, providerID, eventID)
	switch {
	case err == nil:
		// generated slots keep the appointment type as their label
		return r.rebind(ctx, tx, bound, eventID, start, end, label, bound.Origin == domain.SlotOriginExternal)
	case !errors.Is(err, store.ErrNotFound):
		return OutcomeFailed, fmt.Errorf("find slot: %w", err)
	}
	return r.place(ctx, tx, providerID, eventID, start, end, label)
}

// place records an event that is not bound to any slot yet.
func (r *Reconciler) place(ctx context.Context, tx store.ProviderTx, providerID, eventID string, start, end time.Time, label string) (Outcome, error) {
	existing, err := tx.FindSlotByTime(ctx, providerID, start, end)
	switch {
	case err == nil:
		if !free(existing) {
			r.log.DebugContext(ctx, "slot already taken",
				slog.String("provider_id", providerID),
				slog.String("event_id", eventID),
				slog.String("slot_id", existing.ID.String()),
				slog.String("bound_event_id", existing.ExternalID()),
			)
			return OutcomeNoop, nil
		}
		if _, err := tx.UpdateSlot(ctx, existing.Occupy(eventID)); err != nil {
			return OutcomeFailed, fmt.Errorf("occupy slot: %w", err)
		}
		return OutcomeSlotBound, nil
	case !errors.Is(err, store.ErrNotFound):
		return OutcomeFailed, fmt.Errorf("find slot by time: %w", err)
	}
	return r.insertBlock(ctx, tx, providerID, eventID, start, end, label)
}

// rebind applies an event's current time to the slot it is already bound to. relabel replaces the
// slot's type with the event label.
func (r *Reconciler) rebind(ctx context.Context, tx store.ProviderTx, bound domain.Slot, eventID string, start, end time.Time, label string, relabel bool) (Outcome, error) {
	typ := bound.Type
	if relabel {
		typ = label
	}
	appt, held, err := r.holder(ctx, tx, bound)
	if err != nil {
		return OutcomeFailed, err
	}
	if held && appt.ExternalID() != eventID {
		// a foreign event never moves or frees a booked slot
		bound.ExternalEventID = nil
		if _, err := tx.UpdateSlot(ctx, bound); err != nil {
			return OutcomeFailed, fmt.Errorf("unbind slot: %w", err)
		}
		return r.place(ctx, tx, bound.ProviderID, eventID, start, end, label)
	}

	if bound.StartTime.Equal(start) && bound.EndTime.Equal(end) {
		next := reshape(bound, start, end, typ).Occupy(eventID)
		if sameSlot(bound, next) {
			return OutcomeNoop, nil
		}
		if _, err := tx.UpdateSlot(ctx, next); err != nil {
			return OutcomeFailed, fmt.Errorf("update slot: %w", err)
		}
		return changedOutcome(bound, held), nil
	}

	target, err := tx.FindSlotByTime(ctx, bound.ProviderID, start, end)
	if errors.Is(err, store.ErrNotFound) {
		if bound.Origin == domain.SlotOriginExternal || held {
			if _, err := tx.UpdateSlot(ctx, reshape(bound, start, end, typ).Occupy(eventID)); err != nil {
				return OutcomeFailed, fmt.Errorf("move slot: %w", err)
			}
			if held {
				return OutcomeAppointmentUpdated, nil
			}
			return OutcomeBlockUpdated, nil
		}
		// a generated slot keeps its place on the grid; the event moved away from it
		if _, err := tx.UpdateSlot(ctx, bound.Release()); err != nil {
			return OutcomeFailed, fmt.Errorf("release moved slot: %w", err)
		}
		return r.insertBlock(ctx, tx, bound.ProviderID, eventID, start, end, label)
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find slot by time: %w", err)
	}

	log := r.log.With(
		slog.String("provider_id", bound.ProviderID),
		slog.String("event_id", eventID),
		slog.String("slot_id", bound.ID.String()),
		slog.String("target_slot_id", target.ID.String()),
	)

	if !free(target) {
		if held {
			log.WarnContext(ctx, "booked event moved onto taken time; slot kept")
			return OutcomeConflict, nil
		}
		if err := r.vacate(ctx, tx, bound); err != nil {
			return OutcomeFailed, err
		}
		log.WarnContext(ctx, "event moved onto taken time; previous time freed")
		return OutcomeConflict, nil
	}

	if held {
		appt.SlotID = target.ID
		if _, err := tx.UpdateAppointment(ctx, appt); err != nil {
			return OutcomeFailed, fmt.Errorf("move appointment: %w", err)
		}
	}
	if err := r.vacate(ctx, tx, bound); err != nil {
		return OutcomeFailed, err
	}
	if _, err := tx.UpdateSlot(ctx, target.Occupy(eventID)); err != nil {
		return OutcomeFailed, fmt.Errorf("occupy slot: %w", err)
	}
	if held {
		return OutcomeAppointmentUpdated, nil
	}
	return OutcomeSlotBound, nil
}

// vacate gives up a slot whose event moved elsewhere. Imported blocks are deleted and generated
// slots return to the pool.
func (r *Reconciler) vacate(ctx context.Context, tx store.ProviderTx, slot domain.Slot) error {
	if slot.Origin == domain.SlotOriginExternal {
		if err := tx.DeleteSlot(ctx, slot.ProviderID, slot.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete moved block: %w", err)
		}
		return nil
	}
	if _, err := tx.UpdateSlot(ctx, slot.Release()); err != nil {
		return fmt.Errorf("release moved slot: %w", err)
	}
	return nil
}

// holder returns the live appointment occupying slot, if any.
func (r *Reconciler) holder(ctx context.Context, tx store.ProviderTx, slot domain.Slot) (domain.Appointment, bool, error) {
	appt, err := tx.FindActiveAppointmentBySlotID(ctx, slot.ProviderID, slot.ID)
	switch {
	case err == nil:
		return appt, true, nil
	case errors.Is(err, store.ErrNotFound):
		return domain.Appointment{}, false, nil
	default:
		return domain.Appointment{}, false, fmt.Errorf("find appointment for slot: %w", err)
	}
}

func (r *Reconciler) insertBlock(ctx context.Context, tx store.ProviderTx, providerID, eventID string, start, end time.Time, label string) (Outcome, error) {
	id := eventID
	_, err := tx.InsertSlot(ctx, domain.Slot{
		ProviderID:      providerID,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: minutes(end.Sub(start)),
		Type:            label,
		IsAvailable:     false,
		ExternalEventID: &id,
		Origin:          domain.SlotOriginExternal,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("insert block: %w", err)
	}
	return OutcomeBlockCreated, nil
}

// free reports whether an event may take slot over.
func free(s domain.Slot) bool {
	return s.IsAvailable && s.ExternalID() == ""
}

func changedOutcome(before domain.Slot, held bool) Outcome {
	switch {
	case held:
		return OutcomeAppointmentUpdated
	case before.IsAvailable:
		return OutcomeSlotBound
	default:
		return OutcomeBlockUpdated
	}
}

func reshape(s domain.Slot, start, end time.Time, label string) domain.Slot {
	s.StartTime = start
	s.EndTime = end
	s.DurationMinutes = minutes(end.Sub(start))
	s.Type = label
	return s
}

func sameSlot(a, b domain.Slot) bool {
	return a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.DurationMinutes == b.DurationMinutes &&
		a.Type == b.Type &&
		a.IsAvailable == b.IsAvailable &&
		a.ExternalID() == b.ExternalID()
}

func minutes(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}
