package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const TimeOfDayLayout = "15:04"

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock offset from midnight, parsed from "HH:MM".
type TimeOfDay time.Duration

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(TimeOfDayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// On returns the instant at this time of day on the calendar date of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := time.Duration(t)
	y, m, dd := day.Date()
	return time.Date(y, m, dd, int(d/time.Hour), int(d%time.Hour/time.Minute), 0, 0, loc)
}

type AvailabilityRule struct {
	bun.BaseModel `bun:"table:availability_rules"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	DayOfWeek  int16     `bun:"day_of_week,notnull"`
	StartTime  string    `bun:"start_time,notnull"`
	EndTime    string    `bun:"end_time,notnull"`
	Enabled    bool      `bun:"enabled,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (r *AvailabilityRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &r.ID, &r.CreatedAt, &r.UpdatedAt)
}

// RuleForWeekday returns the first enabled rule for wd in the given order.
// Rules are expected in insertion order, which makes the choice deterministic when
// several enabled rules share a weekday.
func RuleForWeekday(rules []AvailabilityRule, wd time.Weekday) (AvailabilityRule, bool) {
	for _, r := range rules {
		if r.Enabled && time.Weekday(r.DayOfWeek) == wd {
			return r, true
		}
	}
	return AvailabilityRule{}, false
}

type AppointmentType struct {
	bun.BaseModel `bun:"table:appointment_types"`

	ID                  uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID          string    `bun:"provider_id,notnull"`
	Name                string    `bun:"name,notnull"`
	DurationMinutes     int       `bun:"duration_minutes,notnull"`
	BufferBeforeMinutes int       `bun:"buffer_before_minutes,notnull"`
	BufferAfterMinutes  int       `bun:"buffer_after_minutes,notnull"`
	Enabled             bool      `bun:"enabled,notnull"`
	EarliestStart       *string   `bun:"earliest_start"`
	LatestEnd           *string   `bun:"latest_end"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

func (t *AppointmentType) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Step is the distance between consecutive candidate starts.
func (t AppointmentType) Step() time.Duration {
	return time.Duration(t.DurationMinutes+t.BufferBeforeMinutes+t.BufferAfterMinutes) * time.Minute
}

const (
	DefaultMinLeadTimeHours  = 2
	DefaultMaxAdvanceDays    = 60
	DefaultMinNoticeHours    = 24
	DefaultProviderTimezone  = "UTC"
	DefaultEventBlockMinutes = 30
)

type BookingRules struct {
	bun.BaseModel `bun:"table:booking_rules"`

	ProviderID       string    `bun:"provider_id,pk"`
	MinLeadTimeHours int       `bun:"min_lead_time_hours,notnull"`
	MaxAdvanceDays   int       `bun:"max_advance_days,notnull"`
	MinNoticeHours   int       `bun:"min_notice_hours,notnull"`
	Timezone         string    `bun:"timezone,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

func (r *BookingRules) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, nil, &r.CreatedAt, &r.UpdatedAt)
}

func DefaultBookingRules(providerID string) BookingRules {
	return BookingRules{
		ProviderID:       providerID,
		MinLeadTimeHours: DefaultMinLeadTimeHours,
		MaxAdvanceDays:   DefaultMaxAdvanceDays,
		MinNoticeHours:   DefaultMinNoticeHours,
		Timezone:         DefaultProviderTimezone,
	}
}

func (r BookingRules) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}
	return loc, nil
}

type BlockedInterval struct {
	bun.BaseModel `bun:"table:blocked_intervals"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	StartTime  time.Time `bun:"start_time,notnull"`
	EndTime    time.Time `bun:"end_time,notnull"`
	Reason     string    `bun:"reason"`
	Recurring  bool      `bun:"recurring,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (b *BlockedInterval) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &b.ID, &b.CreatedAt, &b.UpdatedAt)
}
