package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

type ProviderStore struct {
	db bun.IDB
}

var _ store.ProviderStore = (*ProviderStore)(nil)

func NewProviderStore(db bun.IDB) *ProviderStore {
	return &ProviderStore{db: db}
}

type providerTx struct {
	tx bun.Tx
}

func (s *ProviderStore) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProvider(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, providerTx{tx: tx})
	})
}

func (s *ProviderStore) ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	return listSlots(ctx, s.db, providerID, from, to)
}

func lockProvider(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx)
	return err
}

func listSlots(ctx context.Context, db bun.IDB, providerID string, from, to time.Time) ([]domain.Slot, error) {
	var rows []domain.Slot
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_time < ?", to).
		Where("end_time > ?", from).
		OrderExpr("start_time ASC, end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r providerTx) ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	return listSlots(ctx, r.tx, providerID, from, to)
}

func (r providerTx) GetSlot(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Slot, error) {
	var m domain.Slot
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Slot{}, mapReadError(err)
	}
	return m, nil
}

func (r providerTx) FindSlotByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Slot, error) {
	var m domain.Slot
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("external_event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Slot{}, mapReadError(err)
	}
	return m, nil
}

func (r providerTx) FindSlotByTime(ctx context.Context, providerID string, start, end time.Time) (domain.Slot, error) {
	var m domain.Slot
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("start_time = ?", start.UTC()).
		Where("end_time = ?", end.UTC()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Slot{}, mapReadError(err)
	}
	return m, nil
}

func (r providerTx) InsertSlotIfAbsent(ctx context.Context, slot domain.Slot) (domain.Slot, bool, error) {
	m := slot
	m.StartTime = slot.StartTime.UTC()
	m.EndTime = slot.EndTime.UTC()

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (provider_id, start_time, end_time) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Slot{}, false, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Slot{}, false, err
	}
	if affected == 0 {
		existing, err := r.FindSlotByTime(ctx, slot.ProviderID, slot.StartTime, slot.EndTime)
		if err != nil {
			return domain.Slot{}, false, err
		}
		return existing, false, nil
	}
	return m, true, nil
}

func (r providerTx) InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	m := slot
	m.StartTime = slot.StartTime.UTC()
	m.EndTime = slot.EndTime.UTC()

	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Slot{}, mapWriteError(err)
	}
	return m, nil
}

func (r providerTx) UpdateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	m := slot
	m.StartTime = slot.StartTime.UTC()
	m.EndTime = slot.EndTime.UTC()

	res, err := r.tx.NewUpdate().
		Model(&m).
		ExcludeColumn("id", "provider_id", "created_at").
		Where("id = ?", m.ID).
		Where("provider_id = ?", m.ProviderID).
		Exec(ctx)
	if err != nil {
		return domain.Slot{}, mapWriteError(err)
	}
	if err := checkAffected(res); err != nil {
		return domain.Slot{}, err
	}
	return m, nil
}

func (r providerTx) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error {
	res, err := r.tx.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", slotID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r providerTx) GetAppointment(ctx context.Context, providerID string, appointmentID uuid.UUID) (domain.Appointment, error) {
	var m domain.Appointment
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapReadError(err)
	}
	return m, nil
}

func (r providerTx) FindAppointmentByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Appointment, error) {
	var m domain.Appointment
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("external_event_id = ?", eventID).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapReadError(err)
	}
	return m, nil
}

func (r providerTx) FindActiveAppointmentBySlotID(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Appointment, error) {
	var m domain.Appointment
	err := r.tx.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("slot_id = ?", slotID).
		Where("status IN (?)", bun.In(domain.ActiveStatuses())).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapReadError(err)
	}
	return m, nil
}

// CreateAppointment is idempotent on the appointment id: replaying the same booking returns the
// stored row, while reusing the id for a different booking fails with ErrIdempotencyConflict.
func (r providerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID != uuid.Nil {
		existing, err := r.GetAppointment(ctx, appt.ProviderID, appt.ID)
		switch {
		case err == nil:
			if existing.SlotID != appt.SlotID || existing.ClientID != appt.ClientID {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return domain.Appointment{}, err
		}
	}

	m := appt
	if m.History == nil {
		m.History = []domain.StatusChange{}
	}
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	return m, nil
}

func (r providerTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	res, err := r.tx.NewUpdate().
		Model(&m).
		ExcludeColumn("id", "provider_id", "created_at").
		Where("id = ?", m.ID).
		Where("provider_id = ?", m.ProviderID).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	if err := checkAffected(res); err != nil {
		return domain.Appointment{}, err
	}
	return m, nil
}
