package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
)

// ProviderTx is a write transaction scoped to one provider. Implementations serialize
// transactions for the same provider across processes.
type ProviderTx interface {
	ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error)
	GetSlot(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Slot, error)
	FindSlotByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Slot, error)
	FindSlotByTime(ctx context.Context, providerID string, start, end time.Time) (domain.Slot, error)
	// InsertSlotIfAbsent inserts slot unless one with the same (provider, start, end) exists.
	// inserted is false when the existing row was kept.
	InsertSlotIfAbsent(ctx context.Context, slot domain.Slot) (out domain.Slot, inserted bool, err error)
	InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	UpdateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error

	GetAppointment(ctx context.Context, providerID string, appointmentID uuid.UUID) (domain.Appointment, error)
	FindAppointmentByExternalEventID(ctx context.Context, providerID, eventID string) (domain.Appointment, error)
	// FindActiveAppointmentBySlotID returns the non-terminal appointment holding slotID, or ErrNotFound.
	FindActiveAppointmentBySlotID(ctx context.Context, providerID string, slotID uuid.UUID) (domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}

type ProviderStore interface {
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx ProviderTx) error) error
	ListSlots(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error)
}

type AvailabilityRepository interface {
	// ListAvailabilityRules returns the provider's rules in insertion order.
	ListAvailabilityRules(ctx context.Context, providerID string) ([]domain.AvailabilityRule, error)
	GetAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) (domain.AppointmentType, error)
	// GetBookingRules returns ErrNotFound when the provider never configured any.
	GetBookingRules(ctx context.Context, providerID string) (domain.BookingRules, error)
	// ListBlockedIntervals returns one-off intervals intersecting [from, to) and every
	// recurring interval that starts before to.
	ListBlockedIntervals(ctx context.Context, providerID string, from, to time.Time) ([]domain.BlockedInterval, error)
}

// AvailabilityStore adds the provider-scoped writes behind the availability admin API. Upserts
// keyed by id fail with ErrNotFound when the id belongs to another provider.
type AvailabilityStore interface {
	AvailabilityRepository

	UpsertAvailabilityRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error)
	DeleteAvailabilityRule(ctx context.Context, providerID string, ruleID uuid.UUID) error

	ListAppointmentTypes(ctx context.Context, providerID string) ([]domain.AppointmentType, error)
	UpsertAppointmentType(ctx context.Context, t domain.AppointmentType) (domain.AppointmentType, error)
	DeleteAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) error

	UpsertBookingRules(ctx context.Context, rules domain.BookingRules) (domain.BookingRules, error)

	UpsertBlockedInterval(ctx context.Context, b domain.BlockedInterval) (domain.BlockedInterval, error)
	DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error
}

type SyncStateRepository interface {
	UpsertSyncState(ctx context.Context, state domain.SyncState) (domain.SyncState, error)
	GetSyncState(ctx context.Context, providerID string) (domain.SyncState, error)
	GetSyncStateByChannel(ctx context.Context, channelID string) (domain.SyncState, error)
	// UpdateSyncToken advances the cursor only while channelID is still the provider's channel.
	UpdateSyncToken(ctx context.Context, providerID, channelID, token string, syncedAt time.Time) error
	DeleteSyncState(ctx context.Context, providerID string) error
	ListExpiringSyncStates(ctx context.Context, before time.Time) ([]domain.SyncState, error)
}

type CredentialRepository interface {
	GetCredential(ctx context.Context, providerID string) (domain.CalendarCredential, error)
}

type CredentialStore interface {
	CredentialRepository
	UpsertCredential(ctx context.Context, cred domain.CalendarCredential) (domain.CalendarCredential, error)
	DeleteCredential(ctx context.Context, providerID string) error
}
