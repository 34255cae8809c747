package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type CalendarCredential struct {
	bun.BaseModel `bun:"table:calendar_credentials"`

	ProviderID   string    `bun:"provider_id,pk"`
	CalendarID   string    `bun:"calendar_id,notnull"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	TokenExpiry  time.Time `bun:"token_expiry"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (c *CalendarCredential) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, nil, &c.CreatedAt, &c.UpdatedAt)
}

// Usable reports whether the credential can authenticate calls against a calendar.
func (c CalendarCredential) Usable() bool {
	return c.CalendarID != "" && (c.AccessToken != "" || c.RefreshToken != "")
}
