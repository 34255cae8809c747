// Package storetest provides an in-memory ProviderStore for service tests. It enforces the
// same uniqueness rules as the Postgres schema and rolls back a transaction whose callback
// returns an error.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

type Memory struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]domain.Slot
	appointments map[uuid.UUID]domain.Appointment

	// Commits counts transactions that returned nil.
	Commits int
	// FailNext, when set, is returned by the next write inside a transaction.
	FailNext error
}

var _ store.ProviderStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		slots:        make(map[uuid.UUID]domain.Slot),
		appointments: make(map[uuid.UUID]domain.Appointment),
	}
}

// Seed stores slots directly, assigning ids where missing.
func (m *Memory) Seed(slots ...domain.Slot) []domain.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Slot, 0, len(slots))
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		m.slots[s.ID] = s
		out = append(out, s)
	}
	return out
}

func (m *Memory) SeedAppointment(a domain.Appointment) domain.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.appointments[a.ID] = a
	return a
}

// Slots returns every slot of providerID ordered by start time.
func (m *Memory) Slots(providerID string) []domain.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return listSlots(m.slots, providerID, time.Time{}, time.Time{})
}

func (m *Memory) Appointment(id uuid.UUID) (domain.Appointment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	return a, ok
}

func (m *Memory) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:            m,
		slots:        make(map[uuid.UUID]domain.Slot, len(m.slots)),
		appointments: make(map[uuid.UUID]domain.Appointment, len(m.appointments)),
	}
	for k, v := range m.slots {
		tx.slots[k] = v
	}
	for k, v := range m.appointments {
		tx.appointments[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.slots = tx.slots
	m.appointments = tx.appointments
	m.Commits++
	return nil
}

func (m *Memory) ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return listSlots(m.slots, providerID, from, to), nil
}

type memTx struct {
	m            *Memory
	slots        map[uuid.UUID]domain.Slot
	appointments map[uuid.UUID]domain.Appointment
}

func (t *memTx) failure() error {
	err := t.m.FailNext
	t.m.FailNext = nil
	return err
}

func (t *memTx) ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	return listSlots(t.slots, providerID, from, to), nil
}

func (t *memTx) GetSlot(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Slot, error) {
	s, ok := t.slots[slotID]
	if !ok || s.ProviderID != providerID {
		return domain.Slot{}, store.ErrNotFound
	}
	return s, nil
}

func (t *memTx) FindSlotByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Slot, error) {
	for _, s := range t.slots {
		if s.ProviderID == providerID && s.ExternalID() == eventID {
			return s, nil
		}
	}
	return domain.Slot{}, store.ErrNotFound
}

func (t *memTx) FindSlotByTime(ctx context.Context, providerID string, start, end time.Time) (domain.Slot, error) {
	key := domain.KeyOf(start, end)
	for _, s := range t.slots {
		if s.ProviderID == providerID && s.Key() == key {
			return s, nil
		}
	}
	return domain.Slot{}, store.ErrNotFound
}

func (t *memTx) InsertSlotIfAbsent(ctx context.Context, slot domain.Slot) (domain.Slot, bool, error) {
	if existing, err := t.FindSlotByTime(ctx, slot.ProviderID, slot.StartTime, slot.EndTime); err == nil {
		return existing, false, nil
	}
	out, err := t.InsertSlot(ctx, slot)
	if err != nil {
		return domain.Slot{}, false, err
	}
	return out, true, nil
}

func (t *memTx) InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if err := t.failure(); err != nil {
		return domain.Slot{}, err
	}
	if err := t.checkUnique(slot); err != nil {
		return domain.Slot{}, err
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	t.slots[slot.ID] = slot
	return slot, nil
}

func (t *memTx) UpdateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if err := t.failure(); err != nil {
		return domain.Slot{}, err
	}
	if cur, ok := t.slots[slot.ID]; !ok || cur.ProviderID != slot.ProviderID {
		return domain.Slot{}, store.ErrNotFound
	}
	if err := t.checkUnique(slot); err != nil {
		return domain.Slot{}, err
	}
	t.slots[slot.ID] = slot
	return slot, nil
}

func (t *memTx) checkUnique(slot domain.Slot) error {
	for id, s := range t.slots {
		if id == slot.ID || s.ProviderID != slot.ProviderID {
			continue
		}
		if s.Key() == slot.Key() {
			return store.ErrConflict
		}
		if ext := slot.ExternalID(); ext != "" && s.ExternalID() == ext {
			return store.ErrConflict
		}
	}
	return nil
}

func (t *memTx) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error {
	if err := t.failure(); err != nil {
		return err
	}
	s, ok := t.slots[slotID]
	if !ok || s.ProviderID != providerID {
		return store.ErrNotFound
	}
	delete(t.slots, slotID)
	return nil
}

func (t *memTx) GetAppointment(ctx context.Context, providerID string, appointmentID uuid.UUID) (domain.Appointment, error) {
	a, ok := t.appointments[appointmentID]
	if !ok || a.ProviderID != providerID {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t *memTx) FindAppointmentByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Appointment, error) {
	var found *domain.Appointment
	for _, a := range t.appointments {
		if a.ProviderID != providerID || a.ExternalEventID == nil || *a.ExternalEventID != eventID {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			a := a
			found = &a
		}
	}
	if found == nil {
		return domain.Appointment{}, store.ErrNotFound
	}
	return *found, nil
}

func (t *memTx) FindActiveAppointmentBySlotID(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Appointment, error) {
	for _, a := range t.appointments {
		if a.ProviderID == providerID && a.SlotID == slotID && !a.Status.IsTerminal() {
			return a, nil
		}
	}
	return domain.Appointment{}, store.ErrNotFound
}

func (t *memTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if err := t.failure(); err != nil {
		return domain.Appointment{}, err
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if existing, ok := t.appointments[appt.ID]; ok {
		if existing.SlotID != appt.SlotID || existing.ClientID != appt.ClientID {
			return domain.Appointment{}, store.ErrIdempotencyConflict
		}
		return existing, nil
	}
	for _, a := range t.appointments {
		if a.SlotID == appt.SlotID && !a.Status.IsTerminal() {
			return domain.Appointment{}, store.ErrConflict
		}
	}
	t.appointments[appt.ID] = appt
	return appt, nil
}

func (t *memTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if err := t.failure(); err != nil {
		return domain.Appointment{}, err
	}
	cur, ok := t.appointments[appt.ID]
	if !ok || cur.ProviderID != appt.ProviderID {
		return domain.Appointment{}, store.ErrNotFound
	}
	t.appointments[appt.ID] = appt
	return appt, nil
}

func listSlots(slots map[uuid.UUID]domain.Slot, providerID string, from, to time.Time) []domain.Slot {
	out := make([]domain.Slot, 0)
	for _, s := range slots {
		if s.ProviderID != providerID {
			continue
		}
		if !from.IsZero() && !s.EndTime.After(from) {
			continue
		}
		if !to.IsZero() && !s.StartTime.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
