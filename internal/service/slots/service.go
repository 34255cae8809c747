// Package slots generates bookable slots from a provider's availability model.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
)

type Service struct {
	slots        store.ProviderStore
	availability store.AvailabilityRepository
	locks        *providerlock.Locker
	metrics      metrics.Recorder
	log          *slog.Logger

	now func() time.Time
}

func NewService(
	slots store.ProviderStore,
	availability store.AvailabilityRepository,
	locks *providerlock.Locker,
	rec metrics.Recorder,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		slots:        slots,
		availability: availability,
		locks:        locks,
		metrics:      rec,
		log:          log.With(slog.String("component", "slots")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type GenerateInput struct {
	ProviderID        string
	StartDate         string
	EndDate           string
	AppointmentTypeID uuid.UUID
	IncludeWeekends   bool
}

type GenerateResult struct {
	Slots   []domain.Slot            `json:"slots"`
	Summary domain.GenerationSummary `json:"summary"`
}

// Generate creates the available slots for every day in [StartDate, EndDate]. Dates are
// calendar days in the provider's time zone. Slots that already exist are counted as
// duplicates, never replaced.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return GenerateResult{}, service.NewValidationError("provider_id is required")
	}
	if in.AppointmentTypeID == uuid.Nil {
		return GenerateResult{}, service.NewValidationError("appointment_type_id is required")
	}

	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return GenerateResult{}, err
	}
	defer unlock()

	rules, err := s.availability.GetBookingRules(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		rules = domain.DefaultBookingRules(providerID)
	} else if err != nil {
		return GenerateResult{}, fmt.Errorf("load booking rules: %w", err)
	}
	loc, err := rules.Location()
	if err != nil {
		return GenerateResult{}, service.NewConfigError(providerID, "booking rules", err)
	}

	startDate, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(in.StartDate), loc)
	if err != nil {
		return GenerateResult{}, service.NewValidationError("start_date must be YYYY-MM-DD")
	}
	endDate, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(in.EndDate), loc)
	if err != nil {
		return GenerateResult{}, service.NewValidationError("end_date must be YYYY-MM-DD")
	}
	if endDate.Before(startDate) {
		return GenerateResult{}, service.NewValidationError("end_date must not be before start_date")
	}

	apptType, err := s.availability.GetAppointmentType(ctx, providerID, in.AppointmentTypeID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("load appointment type: %w", err)
	}
	availability, err := s.availability.ListAvailabilityRules(ctx, providerID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("load availability rules: %w", err)
	}

	req := domain.GenerationRequest{
		ProviderID:      providerID,
		StartDate:       startDate,
		EndDate:         endDate,
		AppointmentType: apptType,
		Rules:           availability,
		BookingRules:    rules,
		IncludeWeekends: in.IncludeWeekends,
		Now:             s.now(),
		Location:        loc,
	}
	from, to := req.Window()

	req.Blocks, err = s.availability.ListBlockedIntervals(ctx, providerID, from, to)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("load blocked intervals: %w", err)
	}

	var out GenerateResult
	err = s.slots.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
		existing, err := tx.ListSlots(ctx, providerID, from, to)
		if err != nil {
			return fmt.Errorf("list existing slots: %w", err)
		}
		req.Existing = existing

		plan, err := domain.PlanSlots(req)
		if err != nil {
			return planError(err)
		}

		created := make([]domain.Slot, 0, len(plan.Slots))
		for _, slot := range plan.Slots {
			saved, inserted, err := tx.InsertSlotIfAbsent(ctx, slot)
			if err != nil {
				return fmt.Errorf("insert slot %s: %w", slot.StartTime.Format(time.RFC3339), err)
			}
			if !inserted {
				plan.Summary.DuplicateSlots++
				continue
			}
			created = append(created, saved)
		}
		plan.Summary.Generated = len(created)

		out = GenerateResult{Slots: created, Summary: plan.Summary}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}

	s.record(out.Summary)
	s.log.InfoContext(ctx, "slots generated",
		slog.String("provider_id", providerID),
		slog.String("appointment_type", apptType.Name),
		slog.Int("generated", out.Summary.Generated),
		slog.Int("blocked", out.Summary.BlockedSlots),
		slog.Int("duplicates", out.Summary.DuplicateSlots),
		slog.Int("skipped_days", len(out.Summary.SkippedDays)),
	)
	return out, nil
}

// List returns the provider's slots intersecting [from, to).
func (s *Service) List(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, service.NewValidationError("provider_id is required")
	}
	start := from.UTC()
	end := to.UTC()
	if !end.After(start) {
		return nil, service.NewValidationError("to must be after from")
	}
	if end.Sub(start) > domain.MaxGenerationDays*24*time.Hour {
		return nil, service.NewValidationError("range too long")
	}
	return s.slots.ListSlots(ctx, providerID, start, end)
}

func (s *Service) record(sum domain.GenerationSummary) {
	s.metrics.SlotsGenerated(sum.Generated)
	s.metrics.SlotsSkipped("blocked", sum.BlockedSlots)
	s.metrics.SlotsSkipped("duplicate", sum.DuplicateSlots)

	byReason := make(map[domain.SkipReason]int)
	for _, d := range sum.SkippedDays {
		byReason[d.Reason]++
	}
	for reason, n := range byReason {
		s.metrics.SlotsSkipped(string(reason), n)
	}
}

func planError(err error) error {
	switch {
	case errors.Is(err, domain.ErrAppointmentTypeDisabled):
		return service.NewValidationError("appointment type is disabled")
	case errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidTimeOfDay):
		return service.NewValidationError(err.Error())
	}
	return err
}
