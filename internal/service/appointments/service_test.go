package appointments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
	"slotsync/backend/internal/store/storetest"
)

var testNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func newTestService(mem *storetest.Memory) *Service {
	s := NewService(mem, providerlock.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	return s
}

func seedSlot(mem *storetest.Memory, h int, available bool) domain.Slot {
	start := time.Date(2026, 1, 6, h, 0, 0, 0, time.UTC)
	return mem.Seed(domain.Slot{
		ProviderID: "p1", StartTime: start, EndTime: start.Add(30 * time.Minute), DurationMinutes: 30,
		Type: "Consultation", IsAvailable: available, Origin: domain.SlotOriginGenerated,
	})[0]
}

func TestServiceBook_ValidationErrorType(t *testing.T) {
	svc := newTestService(storetest.NewMemory())

	_, err := svc.Book(context.Background(), BookInput{ProviderID: "p1", SlotID: uuid.New()})
	if err == nil {
		t.Fatalf("expected error")
	}
	var vErr *service.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *service.ValidationError", err)
	}
	if vErr.Error() != "client_id is required" {
		t.Fatalf("error = %q, want %q", vErr.Error(), "client_id is required")
	}
}

func TestServiceBook_OccupiesSlot(t *testing.T) {
	mem := storetest.NewMemory()
	slot := seedSlot(mem, 10, true)

	appt, err := newTestService(mem).Book(context.Background(), BookInput{
		ProviderID: "p1", SlotID: slot.ID, ClientID: "c1", ExternalEventID: "ev-1",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != domain.AppointmentStatusScheduled || appt.ExternalID() != "ev-1" {
		t.Fatalf("appointment = %+v", appt)
	}
	if len(appt.History) != 1 || appt.History[0].To != domain.AppointmentStatusScheduled {
		t.Fatalf("history = %+v", appt.History)
	}

	got := mem.Slots("p1")[0]
	if got.IsAvailable || got.ExternalID() != "ev-1" {
		t.Fatalf("slot = %+v, want occupied and bound to ev-1", got)
	}
}

func TestServiceBook_IdempotencyKeyDeterministicUUID(t *testing.T) {
	mem := storetest.NewMemory()
	slot := seedSlot(mem, 10, true)
	svc := newTestService(mem)
	in := BookInput{ProviderID: "p1", SlotID: slot.ID, ClientID: "c1", IdempotencyKey: "  k1 "}

	first, err := svc.Book(context.Background(), in)
	if err != nil {
		t.Fatalf("first Book: %v", err)
	}
	want := uuid.NewSHA1(uuid.NameSpaceOID, []byte("slotsync:book:p1:k1"))
	if first.ID != want {
		t.Fatalf("id = %s, want %s", first.ID, want)
	}

	second, err := svc.Book(context.Background(), in)
	if err != nil {
		t.Fatalf("replayed Book: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay id = %s, want %s", second.ID, first.ID)
	}

	other := seedSlot(mem, 11, true)
	in.SlotID = other.ID
	if _, err := svc.Book(context.Background(), in); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}
}

func TestServiceBook_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mem *storetest.Memory) uuid.UUID
		wantErr error
	}{
		{
			name:    "unknown slot",
			setup:   func(mem *storetest.Memory) uuid.UUID { return uuid.New() },
			wantErr: store.ErrNotFound,
		},
		{
			name:    "slot taken",
			setup:   func(mem *storetest.Memory) uuid.UUID { return seedSlot(mem, 10, false).ID },
			wantErr: store.ErrConflict,
		},
		{
			name: "overlapping external block",
			setup: func(mem *storetest.Memory) uuid.UUID {
				ext := "ev-busy"
				start := time.Date(2026, 1, 6, 10, 15, 0, 0, time.UTC)
				mem.Seed(domain.Slot{
					ProviderID: "p1", StartTime: start, EndTime: start.Add(time.Hour), DurationMinutes: 60,
					Type: "Busy", ExternalEventID: &ext, Origin: domain.SlotOriginExternal,
				})
				return seedSlot(mem, 10, true).ID
			},
			wantErr: store.ErrConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			slotID := tt.setup(mem)

			_, err := newTestService(mem).Book(context.Background(), BookInput{ProviderID: "p1", SlotID: slotID, ClientID: "c1"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServiceUpdateStatus_CancelReleasesSlot(t *testing.T) {
	mem := storetest.NewMemory()
	slot := seedSlot(mem, 10, true)
	svc := newTestService(mem)

	appt, err := svc.Book(context.Background(), BookInput{ProviderID: "p1", SlotID: slot.ID, ClientID: "c1", ExternalEventID: "ev-1"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	got, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		ProviderID: "p1", AppointmentID: appt.ID, Status: "cancelled", Reason: "client request",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != domain.AppointmentStatusCancelled || got.CancellationReason != "client request" {
		t.Fatalf("appointment = %+v", got)
	}
	if len(got.History) != 2 || got.History[1].From != domain.AppointmentStatusScheduled {
		t.Fatalf("history = %+v", got.History)
	}

	s := mem.Slots("p1")[0]
	if !s.IsAvailable || s.ExternalEventID != nil {
		t.Fatalf("slot = %+v, want released", s)
	}
}

func TestServiceUpdateStatus_ConfirmKeepsSlot(t *testing.T) {
	mem := storetest.NewMemory()
	slot := seedSlot(mem, 10, true)
	svc := newTestService(mem)

	appt, err := svc.Book(context.Background(), BookInput{ProviderID: "p1", SlotID: slot.ID, ClientID: "c1"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{ProviderID: "p1", AppointmentID: appt.ID, Status: "confirmed"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if mem.Slots("p1")[0].IsAvailable {
		t.Fatalf("slot released on confirm")
	}
}

func TestServiceUpdateStatus_Invalid(t *testing.T) {
	mem := storetest.NewMemory()
	slot := seedSlot(mem, 10, false)
	appt := mem.SeedAppointment(domain.Appointment{
		ProviderID: "p1", SlotID: slot.ID, ClientID: "c1", Status: domain.AppointmentStatusCompleted,
	})
	svc := newTestService(mem)

	tests := []struct {
		name string
		in   UpdateStatusInput
	}{
		{name: "unknown status", in: UpdateStatusInput{ProviderID: "p1", AppointmentID: appt.ID, Status: "done"}},
		{name: "terminal appointment", in: UpdateStatusInput{ProviderID: "p1", AppointmentID: appt.ID, Status: "cancelled"}},
		{name: "missing id", in: UpdateStatusInput{ProviderID: "p1", Status: "cancelled"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateStatus(context.Background(), tt.in)
			var vErr *service.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want *service.ValidationError", err)
			}
		})
	}

	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{ProviderID: "p1", AppointmentID: uuid.New(), Status: "confirmed"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
