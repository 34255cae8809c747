package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/store"
)

type SyncStateRepo struct {
	db bun.IDB
}

var _ store.SyncStateRepository = (*SyncStateRepo)(nil)

func NewSyncStateRepo(db bun.IDB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

func (r *SyncStateRepo) UpsertSyncState(ctx context.Context, state domain.SyncState) (domain.SyncState, error) {
	m := state
	m.ChannelExpiration = state.ChannelExpiration.UTC()
	m.LastSyncTime = state.LastSyncTime.UTC()

	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (provider_id) DO UPDATE").
		Set("channel_id = EXCLUDED.channel_id").
		Set("resource_id = EXCLUDED.resource_id").
		Set("sync_token = EXCLUDED.sync_token").
		Set("channel_expiration = EXCLUDED.channel_expiration").
		Set("last_sync_time = EXCLUDED.last_sync_time").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return domain.SyncState{}, mapWriteError(err)
	}
	return m, nil
}

func (r *SyncStateRepo) GetSyncState(ctx context.Context, providerID string) (domain.SyncState, error) {
	var m domain.SyncState
	err := r.db.NewSelect().
		Model(&m).
		Where("provider_id = ?", providerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.SyncState{}, mapReadError(err)
	}
	return m, nil
}

func (r *SyncStateRepo) GetSyncStateByChannel(ctx context.Context, channelID string) (domain.SyncState, error) {
	var m domain.SyncState
	err := r.db.NewSelect().
		Model(&m).
		Where("channel_id = ?", channelID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.SyncState{}, mapReadError(err)
	}
	return m, nil
}

func (r *SyncStateRepo) UpdateSyncToken(ctx context.Context, providerID, channelID, token string, syncedAt time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*domain.SyncState)(nil)).
		Set("sync_token = ?", token).
		Set("last_sync_time = ?", syncedAt.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider_id = ?", providerID).
		Where("channel_id = ?", channelID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := checkAffected(res); err != nil {
		return store.ErrStaleChannel
	}
	return nil
}

func (r *SyncStateRepo) DeleteSyncState(ctx context.Context, providerID string) error {
	res, err := r.db.NewDelete().
		Model((*domain.SyncState)(nil)).
		Where("provider_id = ?", providerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r *SyncStateRepo) ListExpiringSyncStates(ctx context.Context, before time.Time) ([]domain.SyncState, error) {
	var rows []domain.SyncState
	err := r.db.NewSelect().
		Model(&rows).
		Where("channel_expiration < ?", before.UTC()).
		OrderExpr("channel_expiration ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
