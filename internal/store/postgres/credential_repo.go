package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

type CredentialRepo struct {
	db bun.IDB
}

var _ store.CredentialStore = (*CredentialRepo)(nil)

func NewCredentialRepo(db bun.IDB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) GetCredential(ctx context.Context, providerID string) (domain.CalendarCredential, error) {
	var m domain.CalendarCredential
	err := r.db.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.CalendarCredential{}, mapReadError(err)
	}
	return m, nil
}

func (r *CredentialRepo) UpsertCredential(ctx context.Context, cred domain.CalendarCredential) (domain.CalendarCredential, error) {
	m := cred
	if !m.TokenExpiry.IsZero() {
		m.TokenExpiry = m.TokenExpiry.UTC()
	}
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("calendar_id = EXCLUDED.calendar_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expiry = EXCLUDED.token_expiry").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.CalendarCredential{}, mapWriteError(err)
	}
	return m, nil
}

func (r *CredentialRepo) DeleteCredential(ctx context.Context, providerID string) error {
	res, err := r.db.NewDelete().
		Model((*domain.CalendarCredential)(nil)).
		Where("provider_id = ?", providerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}
