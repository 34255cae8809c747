package service

import (
	"context"
	"errors"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/store"
)

// LoadCredential resolves the calendar credential of a provider. A missing or incomplete
// credential is a *ConfigError.
func LoadCredential(ctx context.Context, repo store.CredentialRepository, providerID string) (calendar.Credential, error) {
	if providerID == "" {
		return calendar.Credential{}, NewValidationError("provider_id is required")
	}
	c, err := repo.GetCredential(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return calendar.Credential{}, NewConfigError(providerID, "missing calendar credential", nil)
	}
	if err != nil {
		return calendar.Credential{}, err
	}
	if c.CalendarID == "" {
		return calendar.Credential{}, NewConfigError(providerID, "missing calendar id", nil)
	}
	if !c.Usable() {
		return calendar.Credential{}, NewConfigError(providerID, "calendar credential has no token", nil)
	}
	return calendar.Credential{
		ProviderID:   c.ProviderID,
		CalendarID:   c.CalendarID,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.TokenExpiry,
	}, nil
}
