package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

type AvailabilityRepo struct {
	db bun.IDB
}

var _ store.AvailabilityStore = (*AvailabilityRepo)(nil)

func NewAvailabilityRepo(db bun.IDB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) ListAvailabilityRules(ctx context.Context, providerID string) ([]domain.AvailabilityRule, error) {
	var rows []domain.AvailabilityRule
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AvailabilityRepo) GetAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) (domain.AppointmentType, error) {
	var m domain.AppointmentType
	err := r.db.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Where("id = ?", typeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AppointmentType{}, mapReadError(err)
	}
	return m, nil
}

func (r *AvailabilityRepo) GetBookingRules(ctx context.Context, providerID string) (domain.BookingRules, error) {
	var m domain.BookingRules
	err := r.db.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.BookingRules{}, mapReadError(err)
	}
	return m, nil
}

func (r *AvailabilityRepo) ListBlockedIntervals(ctx context.Context, providerID string, from, to time.Time) ([]domain.BlockedInterval, error) {
	var rows []domain.BlockedInterval
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_time < ?", to).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("recurring").
				WhereOr("end_time > ?", from)
		}).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertAvailabilityRule inserts the rule or replaces the provider's rule with the same id.
func (r *AvailabilityRepo) UpsertAvailabilityRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error) {
	m := rule
	res, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("day_of_week = EXCLUDED.day_of_week").
		Set("start_time = EXCLUDED.start_time").
		Set("end_time = EXCLUDED.end_time").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_at = EXCLUDED.updated_at").
		Where("?TableAlias.provider_id = EXCLUDED.provider_id").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityRule{}, mapWriteError(err)
	}
	if err := checkAffected(res); err != nil {
		return domain.AvailabilityRule{}, err
	}
	return m, nil
}

func (r *AvailabilityRepo) DeleteAvailabilityRule(ctx context.Context, providerID string, ruleID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.AvailabilityRule)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", ruleID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r *AvailabilityRepo) ListAppointmentTypes(ctx context.Context, providerID string) ([]domain.AppointmentType, error) {
	rows := make([]domain.AppointmentType, 0)
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("name ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AvailabilityRepo) UpsertAppointmentType(ctx context.Context, t domain.AppointmentType) (domain.AppointmentType, error) {
	m := t
	res, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("duration_minutes = EXCLUDED.duration_minutes").
		Set("buffer_before_minutes = EXCLUDED.buffer_before_minutes").
		Set("buffer_after_minutes = EXCLUDED.buffer_after_minutes").
		Set("enabled = EXCLUDED.enabled").
		Set("earliest_start = EXCLUDED.earliest_start").
		Set("latest_end = EXCLUDED.latest_end").
		Set("updated_at = EXCLUDED.updated_at").
		Where("?TableAlias.provider_id = EXCLUDED.provider_id").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.AppointmentType{}, mapWriteError(err)
	}
	if err := checkAffected(res); err != nil {
		return domain.AppointmentType{}, err
	}
	return m, nil
}

func (r *AvailabilityRepo) DeleteAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.AppointmentType)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", typeID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r *AvailabilityRepo) UpsertBookingRules(ctx context.Context, rules domain.BookingRules) (domain.BookingRules, error) {
	m := rules
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("min_lead_time_hours = EXCLUDED.min_lead_time_hours").
		Set("max_advance_days = EXCLUDED.max_advance_days").
		Set("min_notice_hours = EXCLUDED.min_notice_hours").
		Set("timezone = EXCLUDED.timezone").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.BookingRules{}, mapWriteError(err)
	}
	return m, nil
}

func (r *AvailabilityRepo) UpsertBlockedInterval(ctx context.Context, b domain.BlockedInterval) (domain.BlockedInterval, error) {
	m := b
	m.StartTime = b.StartTime.UTC()
	m.EndTime = b.EndTime.UTC()
	res, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("start_time = EXCLUDED.start_time").
		Set("end_time = EXCLUDED.end_time").
		Set("reason = EXCLUDED.reason").
		Set("recurring = EXCLUDED.recurring").
		Set("updated_at = EXCLUDED.updated_at").
		Where("?TableAlias.provider_id = EXCLUDED.provider_id").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.BlockedInterval{}, mapWriteError(err)
	}
	if err := checkAffected(res); err != nil {
		return domain.BlockedInterval{}, err
	}
	return m, nil
}

func (r *AvailabilityRepo) DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.BlockedInterval)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", intervalID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}
