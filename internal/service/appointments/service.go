// Package appointments is the minimal booking flow: it binds clients to slots and moves
// appointments through their status machine while keeping slot availability consistent.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
)

var ErrSlotUnavailable = fmt.Errorf("%w: slot is not available", store.ErrConflict)

type Service struct {
	store store.ProviderStore
	locks *providerlock.Locker
	log   *slog.Logger

	now func() time.Time
}

func NewService(ps store.ProviderStore, locks *providerlock.Locker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: ps,
		locks: locks,
		log:   log.With(slog.String("component", "appointments")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type BookInput struct {
	ProviderID string
	SlotID     uuid.UUID
	ClientID   string
	// ExternalEventID is the calendar event created for the booking, if any.
	ExternalEventID string
	IdempotencyKey  string
}

// Book reserves an available slot for a client. Replaying a request with the same idempotency
// key returns the appointment created by the first call.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return domain.Appointment{}, service.NewValidationError("provider_id is required")
	}
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		return domain.Appointment{}, service.NewValidationError("client_id is required")
	}
	if in.SlotID == uuid.Nil {
		return domain.Appointment{}, service.NewValidationError("slot_id is required")
	}

	appt := domain.Appointment{
		ProviderID: providerID,
		SlotID:     in.SlotID,
		ClientID:   clientID,
		Status:     domain.AppointmentStatusScheduled,
	}
	if ext := strings.TrimSpace(in.ExternalEventID); ext != "" {
		appt.ExternalEventID = &ext
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, service.NewValidationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("slotsync:book:"+providerID+":"+key))
	}

	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return domain.Appointment{}, err
	}
	defer unlock()

	var out domain.Appointment
	err = s.store.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
		if appt.ID != uuid.Nil {
			existing, err := tx.GetAppointment(ctx, providerID, appt.ID)
			switch {
			case err == nil:
				if existing.SlotID != appt.SlotID || existing.ClientID != appt.ClientID {
					return store.ErrIdempotencyConflict
				}
				out = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		slot, err := tx.GetSlot(ctx, providerID, in.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if !slot.IsAvailable {
			return ErrSlotUnavailable
		}

		overlapping, err := tx.ListSlots(ctx, providerID, slot.StartTime, slot.EndTime)
		if err != nil {
			return fmt.Errorf("list overlapping slots: %w", err)
		}
		for _, o := range overlapping {
			if o.ID != slot.ID && !o.IsAvailable {
				return fmt.Errorf("%w: overlaps %s", ErrSlotUnavailable, o.StartTime.Format(time.RFC3339))
			}
		}

		if _, err := tx.UpdateSlot(ctx, slot.Occupy(appt.ExternalID())); err != nil {
			return fmt.Errorf("occupy slot: %w", err)
		}

		appt.History = []domain.StatusChange{{To: domain.AppointmentStatusScheduled, At: s.now()}}
		out, err = tx.CreateAppointment(ctx, appt)
		return err
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.InfoContext(ctx, "appointment booked",
		slog.String("provider_id", providerID),
		slog.String("appointment_id", out.ID.String()),
		slog.String("slot_id", out.SlotID.String()),
	)
	return out, nil
}

type UpdateStatusInput struct {
	ProviderID    string
	AppointmentID uuid.UUID
	Status        string
	Reason        string
}

// UpdateStatus moves an appointment to a new status. Cancelling or rescheduling hands the
// slot back to the bookable pool.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (domain.Appointment, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return domain.Appointment{}, service.NewValidationError("provider_id is required")
	}
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, service.NewValidationError("appointment_id is required")
	}
	to, ok := domain.ParseAppointmentStatus(strings.TrimSpace(in.Status))
	if !ok {
		return domain.Appointment{}, service.NewValidationError("invalid status")
	}

	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return domain.Appointment{}, err
	}
	defer unlock()

	var out domain.Appointment
	err = s.store.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
		appt, err := tx.GetAppointment(ctx, providerID, in.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}

		next, err := appt.Transition(to, strings.TrimSpace(in.Reason), s.now())
		if errors.Is(err, domain.ErrInvalidTransition) {
			return service.NewValidationError(fmt.Sprintf("cannot move appointment from %s to %s", appt.Status, to))
		}
		if err != nil {
			return err
		}

		out, err = tx.UpdateAppointment(ctx, next)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if !next.ReleasesSlot() {
			return nil
		}

		slot, err := tx.GetSlot(ctx, providerID, next.SlotID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if _, err := tx.UpdateSlot(ctx, slot.Release()); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.InfoContext(ctx, "appointment status changed",
		slog.String("provider_id", providerID),
		slog.String("appointment_id", out.ID.String()),
		slog.String("status", string(out.Status)),
	)
	return out, nil
}
