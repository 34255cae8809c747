// Package availability manages the provider-owned inputs of slot generation: weekly rules,
// appointment types, booking rules, blocked intervals and the calendar credential.
package availability

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
	"slotsync/backend/internal/store"
)

type Service struct {
	store store.AvailabilityStore
	creds store.CredentialStore
	log   *slog.Logger
}

func NewService(st store.AvailabilityStore, creds store.CredentialStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: st,
		creds: creds,
		log:   log.With(slog.String("component", "availability")),
	}
}

type RuleInput struct {
	ProviderID string
	// ID selects the rule to replace. uuid.Nil creates a new rule.
	ID        uuid.UUID
	DayOfWeek int
	StartTime string
	EndTime   string
	Enabled   bool
}

func (s *Service) ListRules(ctx context.Context, providerID string) ([]domain.AvailabilityRule, error) {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAvailabilityRules(ctx, providerID)
}

func (s *Service) PutRule(ctx context.Context, in RuleInput) (domain.AvailabilityRule, error) {
	providerID, err := requireProvider(in.ProviderID)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	if in.DayOfWeek < 0 || in.DayOfWeek > 6 {
		return domain.AvailabilityRule{}, service.NewValidationError("day_of_week must be between 0 (Sunday) and 6 (Saturday)")
	}
	if err := validateWindow(in.StartTime, in.EndTime); err != nil {
		return domain.AvailabilityRule{}, err
	}

	rule, err := s.store.UpsertAvailabilityRule(ctx, domain.AvailabilityRule{
		ID:         in.ID,
		ProviderID: providerID,
		DayOfWeek:  int16(in.DayOfWeek),
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Enabled:    in.Enabled,
	})
	if err != nil {
		return domain.AvailabilityRule{}, fmt.Errorf("upsert availability rule: %w", err)
	}
	s.log.InfoContext(ctx, "availability rule saved",
		slog.String("provider_id", providerID),
		slog.String("rule_id", rule.ID.String()),
		slog.Int("day_of_week", in.DayOfWeek),
	)
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return err
	}
	return s.store.DeleteAvailabilityRule(ctx, providerID, ruleID)
}

type AppointmentTypeInput struct {
	ProviderID          string
	ID                  uuid.UUID
	Name                string
	DurationMinutes     int
	BufferBeforeMinutes int
	BufferAfterMinutes  int
	Enabled             bool
	EarliestStart       *string
	LatestEnd           *string
}

func (s *Service) ListAppointmentTypes(ctx context.Context, providerID string) ([]domain.AppointmentType, error) {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAppointmentTypes(ctx, providerID)
}

func (s *Service) PutAppointmentType(ctx context.Context, in AppointmentTypeInput) (domain.AppointmentType, error) {
	providerID, err := requireProvider(in.ProviderID)
	if err != nil {
		return domain.AppointmentType{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.AppointmentType{}, service.NewValidationError("name is required")
	}
	if in.DurationMinutes <= 0 {
		return domain.AppointmentType{}, service.NewValidationError("duration_minutes must be positive")
	}
	if in.BufferBeforeMinutes < 0 || in.BufferAfterMinutes < 0 {
		return domain.AppointmentType{}, service.NewValidationError("buffers must not be negative")
	}
	earliest, err := optionalTimeOfDay("earliest_start", in.EarliestStart)
	if err != nil {
		return domain.AppointmentType{}, err
	}
	latest, err := optionalTimeOfDay("latest_end", in.LatestEnd)
	if err != nil {
		return domain.AppointmentType{}, err
	}
	if earliest != nil && latest != nil {
		if err := validateWindow(*earliest, *latest); err != nil {
			return domain.AppointmentType{}, err
		}
	}

	t, err := s.store.UpsertAppointmentType(ctx, domain.AppointmentType{
		ID:                  in.ID,
		ProviderID:          providerID,
		Name:                name,
		DurationMinutes:     in.DurationMinutes,
		BufferBeforeMinutes: in.BufferBeforeMinutes,
		BufferAfterMinutes:  in.BufferAfterMinutes,
		Enabled:             in.Enabled,
		EarliestStart:       earliest,
		LatestEnd:           latest,
	})
	if err != nil {
		return domain.AppointmentType{}, fmt.Errorf("upsert appointment type: %w", err)
	}
	s.log.InfoContext(ctx, "appointment type saved",
		slog.String("provider_id", providerID),
		slog.String("appointment_type_id", t.ID.String()),
	)
	return t, nil
}

func (s *Service) DeleteAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) error {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return err
	}
	return s.store.DeleteAppointmentType(ctx, providerID, typeID)
}

// GetBookingRules returns the stored rules, or the defaults for a provider that never set any.
func (s *Service) GetBookingRules(ctx context.Context, providerID string) (domain.BookingRules, error) {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return domain.BookingRules{}, err
	}
	rules, err := s.store.GetBookingRules(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultBookingRules(providerID), nil
	}
	return rules, err
}

func (s *Service) PutBookingRules(ctx context.Context, in domain.BookingRules) (domain.BookingRules, error) {
	providerID, err := requireProvider(in.ProviderID)
	if err != nil {
		return domain.BookingRules{}, err
	}
	if in.MinLeadTimeHours < 0 || in.MaxAdvanceDays < 0 || in.MinNoticeHours < 0 {
		return domain.BookingRules{}, service.NewValidationError("booking rule values must not be negative")
	}
	in.ProviderID = providerID
	in.Timezone = strings.TrimSpace(in.Timezone)
	if in.Timezone == "" {
		in.Timezone = domain.DefaultProviderTimezone
	}
	if _, err := in.Location(); err != nil {
		return domain.BookingRules{}, service.NewValidationError(fmt.Sprintf("unknown timezone %q", in.Timezone))
	}

	rules, err := s.store.UpsertBookingRules(ctx, in)
	if err != nil {
		return domain.BookingRules{}, fmt.Errorf("upsert booking rules: %w", err)
	}
	return rules, nil
}

type BlockedIntervalInput struct {
	ProviderID string
	ID         uuid.UUID
	Start      time.Time
	End        time.Time
	Reason     string
	Recurring  bool
}

func (s *Service) ListBlockedIntervals(ctx context.Context, providerID string, from, to time.Time) ([]domain.BlockedInterval, error) {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, service.NewValidationError("to must be after from")
	}
	return s.store.ListBlockedIntervals(ctx, providerID, from, to)
}

func (s *Service) PutBlockedInterval(ctx context.Context, in BlockedIntervalInput) (domain.BlockedInterval, error) {
	providerID, err := requireProvider(in.ProviderID)
	if err != nil {
		return domain.BlockedInterval{}, err
	}
	if in.Start.IsZero() || !in.End.After(in.Start) {
		return domain.BlockedInterval{}, service.NewValidationError("end must be after start")
	}

	b, err := s.store.UpsertBlockedInterval(ctx, domain.BlockedInterval{
		ID:         in.ID,
		ProviderID: providerID,
		StartTime:  in.Start.UTC(),
		EndTime:    in.End.UTC(),
		Reason:     strings.TrimSpace(in.Reason),
		Recurring:  in.Recurring,
	})
	if err != nil {
		return domain.BlockedInterval{}, fmt.Errorf("upsert blocked interval: %w", err)
	}
	return b, nil
}

func (s *Service) DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return err
	}
	return s.store.DeleteBlockedInterval(ctx, providerID, intervalID)
}

type CredentialInput struct {
	ProviderID   string
	CalendarID   string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

func (s *Service) PutCredential(ctx context.Context, in CredentialInput) (domain.CalendarCredential, error) {
	providerID, err := requireProvider(in.ProviderID)
	if err != nil {
		return domain.CalendarCredential{}, err
	}
	cred := domain.CalendarCredential{
		ProviderID:   providerID,
		CalendarID:   strings.TrimSpace(in.CalendarID),
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		TokenExpiry:  in.TokenExpiry,
	}
	if !cred.Usable() {
		return domain.CalendarCredential{}, service.NewValidationError("calendar_id and an access or refresh token are required")
	}

	out, err := s.creds.UpsertCredential(ctx, cred)
	if err != nil {
		return domain.CalendarCredential{}, fmt.Errorf("upsert credential: %w", err)
	}
	s.log.InfoContext(ctx, "calendar credential saved",
		slog.String("provider_id", providerID),
		slog.String("calendar_id", out.CalendarID),
	)
	return out, nil
}

func (s *Service) DeleteCredential(ctx context.Context, providerID string) error {
	providerID, err := requireProvider(providerID)
	if err != nil {
		return err
	}
	return s.creds.DeleteCredential(ctx, providerID)
}

func requireProvider(providerID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", service.NewValidationError("provider_id is required")
	}
	return providerID, nil
}

func validateWindow(start, end string) error {
	from, err := domain.ParseTimeOfDay(start)
	if err != nil {
		return service.NewValidationError(fmt.Sprintf("start time %q must be HH:MM", start))
	}
	to, err := domain.ParseTimeOfDay(end)
	if err != nil {
		return service.NewValidationError(fmt.Sprintf("end time %q must be HH:MM", end))
	}
	if to <= from {
		return service.NewValidationError("end time must be after start time")
	}
	return nil
}

func optionalTimeOfDay(field string, v *string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if _, err := domain.ParseTimeOfDay(s); err != nil {
		return nil, service.NewValidationError(fmt.Sprintf("%s %q must be HH:MM", field, s))
	}
	return &s, nil
}
