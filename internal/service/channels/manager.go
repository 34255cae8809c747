package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
)

const (
	DefaultChannelTTL     = 7 * 24 * time.Hour
	DefaultRenewThreshold = 48 * time.Hour
	renewalResultRenewed  = "renewed"
	renewalResultFailed   = "failed"
)

type Config struct {
	CallbackURL string
	// ChannelToken is echoed back on every notification so the webhook can check its origin.
	ChannelToken string
	ChannelTTL   time.Duration
}

type Manager struct {
	provider calendar.Provider
	states   store.SyncStateRepository
	creds    store.CredentialRepository
	locks    *providerlock.Locker
	metrics  metrics.Recorder
	log      *slog.Logger
	cfg      Config

	now       func() time.Time
	channelID func() string
}

func NewManager(
	provider calendar.Provider,
	states store.SyncStateRepository,
	creds store.CredentialRepository,
	locks *providerlock.Locker,
	rec metrics.Recorder,
	log *slog.Logger,
	cfg Config,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.ChannelTTL <= 0 {
		cfg.ChannelTTL = DefaultChannelTTL
	}
	return &Manager{
		provider:  provider,
		states:    states,
		creds:     creds,
		locks:     locks,
		metrics:   rec,
		log:       log.With(slog.String("component", "channels")),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		channelID: uuid.NewString,
	}
}

// SetupChannel subscribes to the provider's calendar and records the new channel together
// with a baseline sync token. Nothing is persisted when any step fails.
func (m *Manager) SetupChannel(ctx context.Context, providerID string) (domain.SyncState, error) {
	unlock, err := m.locks.Lock(ctx, providerID)
	if err != nil {
		return domain.SyncState{}, err
	}
	defer unlock()
	return m.setup(ctx, providerID)
}

// RenewChannel replaces the provider's channel. Stopping the old channel is best-effort.
func (m *Manager) RenewChannel(ctx context.Context, providerID string) (domain.SyncState, error) {
	unlock, err := m.locks.Lock(ctx, providerID)
	if err != nil {
		return domain.SyncState{}, err
	}
	defer unlock()

	log := m.log.With(slog.String("provider_id", providerID))

	state, err := m.states.GetSyncState(ctx, providerID)
	switch {
	case err == nil:
		m.stopBestEffort(ctx, log, state)
	case errors.Is(err, store.ErrNotFound):
		log.InfoContext(ctx, "no channel to stop before renewal")
	default:
		return domain.SyncState{}, fmt.Errorf("load sync state: %w", err)
	}

	out, err := m.setup(ctx, providerID)
	if err != nil {
		m.metrics.ChannelRenewal(renewalResultFailed)
		return domain.SyncState{}, err
	}
	m.metrics.ChannelRenewal(renewalResultRenewed)
	log.InfoContext(ctx, "channel renewed",
		slog.String("channel_id", out.ChannelID),
		slog.Time("expiration", out.ChannelExpiration),
	)
	return out, nil
}

type RenewalFailure struct {
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
	err        error
}

func (f RenewalFailure) Unwrap() error { return f.err }

type SweepResult struct {
	Checked int              `json:"checked"`
	Renewed int              `json:"renewed"`
	Failed  []RenewalFailure `json:"failed"`
}

// CheckAndRenewExpiring renews every channel expiring within threshold. A failing provider is
// recorded in the result and the sweep moves on.
func (m *Manager) CheckAndRenewExpiring(ctx context.Context, threshold time.Duration) (SweepResult, error) {
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	states, err := m.states.ListExpiringSyncStates(ctx, m.now().Add(threshold))
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expiring channels: %w", err)
	}

	res := SweepResult{Checked: len(states), Failed: []RenewalFailure{}}
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := m.RenewChannel(ctx, st.ProviderID); err != nil {
			m.log.WarnContext(ctx, "channel renewal failed",
				slog.String("provider_id", st.ProviderID),
				slog.Any("error", err),
			)
			res.Failed = append(res.Failed, RenewalFailure{ProviderID: st.ProviderID, Error: err.Error(), err: err})
			continue
		}
		res.Renewed++
	}

	m.log.InfoContext(ctx, "channel renewal sweep finished",
		slog.Int("checked", res.Checked),
		slog.Int("renewed", res.Renewed),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// StopChannel unsubscribes the provider's channel and forgets it. Stopping a provider without
// a channel is a no-op.
func (m *Manager) StopChannel(ctx context.Context, providerID string) error {
	return m.locks.Do(ctx, providerID, func(ctx context.Context) error {
		return m.stop(ctx, providerID)
	})
}

func (m *Manager) stop(ctx context.Context, providerID string) error {
	log := m.log.With(slog.String("provider_id", providerID))

	state, err := m.states.GetSyncState(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	m.stopBestEffort(ctx, log, state)

	if err := m.states.DeleteSyncState(ctx, providerID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete sync state: %w", err)
	}
	log.InfoContext(ctx, "channel stopped", slog.String("channel_id", state.ChannelID))
	return nil
}

func (m *Manager) setup(ctx context.Context, providerID string) (domain.SyncState, error) {
	if m.cfg.CallbackURL == "" {
		return domain.SyncState{}, service.NewConfigError(providerID, "callback url is not configured", nil)
	}
	cred, err := service.LoadCredential(ctx, m.creds, providerID)
	if err != nil {
		return domain.SyncState{}, err
	}

	log := m.log.With(slog.String("provider_id", providerID))
	now := m.now()
	channelID := m.channelID()

	watch, err := m.provider.Watch(ctx, cred, calendar.WatchRequest{
		ChannelID:   channelID,
		CallbackURL: m.cfg.CallbackURL,
		Token:       m.cfg.ChannelToken,
		Expiration:  now.Add(m.cfg.ChannelTTL),
	})
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("watch calendar: %w", mapProviderError(providerID, err))
	}

	expiration := watch.Expiration
	if expiration.IsZero() {
		expiration = now.Add(m.cfg.ChannelTTL)
	}

	page, err := m.provider.ListChangesSince(ctx, cred, "")
	if err == nil && page.NextToken == "" {
		err = errors.New("provider returned no sync token")
	}
	if err != nil {
		if stopErr := m.provider.StopWatch(ctx, cred, channelID, watch.ResourceID); stopErr != nil {
			log.WarnContext(ctx, "failed to stop channel after initial sync failure",
				slog.String("channel_id", channelID),
				slog.Any("error", stopErr),
			)
		}
		return domain.SyncState{}, fmt.Errorf("initial sync token: %w", mapProviderError(providerID, err))
	}

	state, err := m.states.UpsertSyncState(ctx, domain.SyncState{
		ProviderID:        providerID,
		ChannelID:         channelID,
		ResourceID:        watch.ResourceID,
		SyncToken:         page.NextToken,
		ChannelExpiration: expiration,
		LastSyncTime:      now,
	})
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("persist sync state: %w", err)
	}

	log.InfoContext(ctx, "channel established",
		slog.String("channel_id", channelID),
		slog.String("resource_id", watch.ResourceID),
		slog.Time("expiration", expiration),
	)
	return state, nil
}

func (m *Manager) stopBestEffort(ctx context.Context, log *slog.Logger, state domain.SyncState) {
	cred, err := service.LoadCredential(ctx, m.creds, state.ProviderID)
	if err != nil {
		log.WarnContext(ctx, "cannot stop channel", slog.String("channel_id", state.ChannelID), slog.Any("error", err))
		return
	}
	if err := m.provider.StopWatch(ctx, cred, state.ChannelID, state.ResourceID); err != nil {
		log.WarnContext(ctx, "failed to stop channel, continuing",
			slog.String("channel_id", state.ChannelID),
			slog.Any("error", err),
		)
	}
}

func mapProviderError(providerID string, err error) error {
	if errors.Is(err, calendar.ErrNotConfigured) {
		return service.NewConfigError(providerID, "calendar rejected the credential", err)
	}
	return err
}
