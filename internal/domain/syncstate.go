package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// SyncState tracks one provider's push channel and incremental sync cursor.
type SyncState struct {
	bun.BaseModel `bun:"table:sync_states"`

	ProviderID        string    `bun:"provider_id,pk"`
	ChannelID         string    `bun:"channel_id,notnull"`
	ResourceID        string    `bun:"resource_id,notnull"`
	SyncToken         string    `bun:"sync_token,notnull"`
	ChannelExpiration time.Time `bun:"channel_expiration,notnull"`
	LastSyncTime      time.Time `bun:"last_sync_time,notnull"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
	UpdatedAt         time.Time `bun:"updated_at,notnull"`
}

func (s *SyncState) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, nil, &s.CreatedAt, &s.UpdatedAt)
}

// ExpiresWithin reports whether the channel expires before now+threshold.
// An already expired channel counts as expiring.
func (s SyncState) ExpiresWithin(now time.Time, threshold time.Duration) bool {
	return s.ChannelExpiration.Before(now.Add(threshold))
}
