package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout        = "2006-01-02"
	MaxGenerationDays = 366
)

var (
	ErrAppointmentTypeDisabled = errors.New("appointment type is disabled")
	ErrInvalidDuration         = errors.New("appointment type duration must be positive")
	ErrInvalidDateRange        = errors.New("invalid date range")
)

type SkipReason string

const (
	SkipReasonWeekend         SkipReason = "weekend"
	SkipReasonNoAvailability  SkipReason = "no availability configured"
	SkipReasonNoTimeRemaining SkipReason = "no time remaining"
	SkipReasonPast            SkipReason = "date in the past"
	SkipReasonBeyondHorizon   SkipReason = "beyond booking horizon"
	SkipReasonInvalidRule     SkipReason = "invalid availability rule"
)

type SkippedDay struct {
	Date    string     `json:"date"`
	Weekday string     `json:"weekday"`
	Reason  SkipReason `json:"reason"`
}

// GenerationSummary explains a generation run. Callers rely on it to tell
// "nothing to generate" apart from "everything conflicted".
type GenerationSummary struct {
	Generated           int          `json:"generated"`
	SkippedWeekends     int          `json:"skipped_weekends"`
	UnconfiguredDays    []string     `json:"unconfigured_days"`
	NoTimeRemainingDays int          `json:"no_time_remaining_days"`
	PastDays            int          `json:"past_days"`
	BeyondHorizonDays   int          `json:"beyond_horizon_days"`
	InvalidRuleDays     int          `json:"invalid_rule_days"`
	BlockedSlots        int          `json:"blocked_slots"`
	DuplicateSlots      int          `json:"duplicate_slots"`
	SkippedDays         []SkippedDay `json:"skipped_days"`
}

type GenerationRequest struct {
	ProviderID      string
	StartDate       time.Time
	EndDate         time.Time
	AppointmentType AppointmentType
	Rules           []AvailabilityRule
	BookingRules    BookingRules
	Blocks          []BlockedInterval
	Existing        []Slot
	IncludeWeekends bool
	Now             time.Time
	Location        *time.Location
}

type GenerationPlan struct {
	Slots   []Slot
	Summary GenerationSummary
}

// Window returns the instants covering every calendar day in the request.
func (r GenerationRequest) Window() (time.Time, time.Time) {
	loc := r.location()
	first := startOfDay(r.StartDate, loc)
	last := startOfDay(r.EndDate, loc)
	return first, last.AddDate(0, 0, 1)
}

func (r GenerationRequest) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// PlanSlots computes the new available slots for the request. It reads only the blocked
// intervals and existing slots carried by the request and performs no I/O.
func PlanSlots(req GenerationRequest) (GenerationPlan, error) {
	apptType := req.AppointmentType
	if !apptType.Enabled {
		return GenerationPlan{}, ErrAppointmentTypeDisabled
	}
	if apptType.DurationMinutes <= 0 || apptType.BufferBeforeMinutes < 0 || apptType.BufferAfterMinutes < 0 {
		return GenerationPlan{}, ErrInvalidDuration
	}

	loc := req.location()
	first, end := req.Window()
	if !end.After(first) {
		return GenerationPlan{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidDateRange)
	}
	if days := daysBetween(first, end); days > MaxGenerationDays {
		return GenerationPlan{}, fmt.Errorf("%w: range spans %d days, max %d", ErrInvalidDateRange, days, MaxGenerationDays)
	}

	var earliestStart, latestEnd *TimeOfDay
	if apptType.EarliestStart != nil {
		t, err := ParseTimeOfDay(*apptType.EarliestStart)
		if err != nil {
			return GenerationPlan{}, err
		}
		earliestStart = &t
	}
	if apptType.LatestEnd != nil {
		t, err := ParseTimeOfDay(*apptType.LatestEnd)
		if err != nil {
			return GenerationPlan{}, err
		}
		latestEnd = &t
	}

	blocked := ExpandBlockedIntervals(req.Blocks, first, end, loc)

	taken := make(map[SlotKey]struct{}, len(req.Existing))
	for _, s := range req.Existing {
		taken[s.Key()] = struct{}{}
	}

	duration := apptType.Duration()
	step := apptType.Step()
	now := req.Now.In(loc)
	today := startOfDay(now, loc)
	horizon := today.AddDate(0, 0, req.BookingRules.MaxAdvanceDays)
	earliest := now.Add(time.Duration(req.BookingRules.MinLeadTimeHours) * time.Hour)

	plan := GenerationPlan{
		Slots:   make([]Slot, 0, 16),
		Summary: GenerationSummary{UnconfiguredDays: []string{}, SkippedDays: []SkippedDay{}},
	}
	summary := &plan.Summary
	seenUnconfigured := make(map[time.Weekday]struct{})

	skip := func(day time.Time, reason SkipReason) {
		summary.SkippedDays = append(summary.SkippedDays, SkippedDay{
			Date:    day.Format(DateLayout),
			Weekday: day.Weekday().String(),
			Reason:  reason,
		})
	}

	for day := first; day.Before(end); day = day.AddDate(0, 0, 1) {
		if day.Before(today) {
			summary.PastDays++
			skip(day, SkipReasonPast)
			continue
		}
		if req.BookingRules.MaxAdvanceDays > 0 && day.After(horizon) {
			summary.BeyondHorizonDays++
			skip(day, SkipReasonBeyondHorizon)
			continue
		}

		wd := day.Weekday()
		if !req.IncludeWeekends && (wd == time.Saturday || wd == time.Sunday) {
			summary.SkippedWeekends++
			skip(day, SkipReasonWeekend)
			continue
		}

		rule, ok := RuleForWeekday(req.Rules, wd)
		if !ok {
			if _, seen := seenUnconfigured[wd]; !seen {
				seenUnconfigured[wd] = struct{}{}
				summary.UnconfiguredDays = append(summary.UnconfiguredDays, wd.String())
			}
			skip(day, SkipReasonNoAvailability)
			continue
		}

		dayStart, dayEnd, err := ruleBounds(rule, day, loc)
		if err != nil {
			summary.InvalidRuleDays++
			skip(day, SkipReasonInvalidRule)
			continue
		}
		if earliestStart != nil {
			if t := earliestStart.On(day, loc); t.After(dayStart) {
				dayStart = t
			}
		}
		if latestEnd != nil {
			if t := latestEnd.On(day, loc); t.Before(dayEnd) {
				dayEnd = t
			}
		}

		if earliest.After(dayStart) {
			dayStart = roundUpToGrid(earliest, duration, loc)
		}
		if !dayStart.Before(dayEnd) {
			summary.NoTimeRemainingDays++
			skip(day, SkipReasonNoTimeRemaining)
			continue
		}

		for cursor := dayStart; ; cursor = cursor.Add(step) {
			candidate := TimeSpan{Start: cursor, End: cursor.Add(duration)}
			if candidate.End.After(dayEnd) {
				break
			}
			if overlapsAny(candidate, blocked) {
				summary.BlockedSlots++
				continue
			}
			key := KeyOf(candidate.Start, candidate.End)
			if _, dup := taken[key]; dup {
				summary.DuplicateSlots++
				continue
			}
			taken[key] = struct{}{}

			plan.Slots = append(plan.Slots, Slot{
				ProviderID:      req.ProviderID,
				StartTime:       candidate.Start.UTC(),
				EndTime:         candidate.End.UTC(),
				DurationMinutes: apptType.DurationMinutes,
				Type:            apptType.Name,
				IsAvailable:     true,
				Origin:          SlotOriginGenerated,
			})
		}
	}

	summary.Generated = len(plan.Slots)
	return plan, nil
}

func ruleBounds(rule AvailabilityRule, day time.Time, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseTimeOfDay(rule.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseTimeOfDay(rule.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end <= start {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s not after start %s", ErrInvalidTimeOfDay, rule.EndTime, rule.StartTime)
	}
	return start.On(day, loc), end.On(day, loc), nil
}

// roundUpToGrid moves t forward to the next multiple of step counted from the top of its hour.
func roundUpToGrid(t time.Time, step time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	offset := local.Sub(hour)
	n := (offset + step - 1) / step
	return hour.Add(n * step)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func daysBetween(from, to time.Time) int {
	n := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}
