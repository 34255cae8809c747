// Package calsync turns calendar push notifications into incremental syncs of a provider's
// slots and appointments.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
)

// Resource states sent with push notifications.
const (
	ResourceStateSync      = "sync"
	ResourceStateExists    = "exists"
	ResourceStateNotExists = "not_exists"
)

const (
	DefaultResyncWindow     = 90 * 24 * time.Hour
	DefaultResyncMaxResults = 2500
	DefaultRenewThreshold   = 48 * time.Hour
)

const (
	SkipSyncHandshake = "sync handshake"
	SkipTokenMismatch = "channel token mismatch"
	SkipDuplicate     = "duplicate notification"
	SkipUnknown       = "unknown channel"
	SkipStale         = "stale channel"
)

type Notification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	MessageNumber string
	ChannelToken  string
}

// Deduper remembers notifications already accepted by some replica.
type Deduper interface {
	Claim(ctx context.Context, channelID, messageNumber string) (bool, error)
	Release(ctx context.Context, channelID, messageNumber string) error
}

type Renewer interface {
	RenewChannel(ctx context.Context, providerID string) (domain.SyncState, error)
}

type Config struct {
	// ChannelToken, when set, must match the token echoed by the vendor.
	ChannelToken     string
	RenewThreshold   time.Duration
	ResyncWindow     time.Duration
	ResyncMaxResults int
}

type Result struct {
	ProviderID   string          `json:"provider_id,omitempty"`
	Skipped      string          `json:"skipped,omitempty"`
	FullResync   bool            `json:"full_resync"`
	Events       int             `json:"events"`
	Outcomes     map[Outcome]int `json:"outcomes"`
	Failed       int             `json:"failed"`
	Renewed      bool            `json:"renewed"`
	RenewalError string          `json:"renewal_error,omitempty"`
}

type Processor struct {
	provider   calendar.Provider
	states     store.SyncStateRepository
	creds      store.CredentialRepository
	reconciler *Reconciler
	renewer    Renewer
	locks      *providerlock.Locker
	dedup      Deduper
	metrics    metrics.Recorder
	log        *slog.Logger
	cfg        Config

	now func() time.Time
}

func NewProcessor(
	provider calendar.Provider,
	states store.SyncStateRepository,
	creds store.CredentialRepository,
	reconciler *Reconciler,
	renewer Renewer,
	locks *providerlock.Locker,
	dedup Deduper,
	rec metrics.Recorder,
	log *slog.Logger,
	cfg Config,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.RenewThreshold <= 0 {
		cfg.RenewThreshold = DefaultRenewThreshold
	}
	if cfg.ResyncWindow <= 0 {
		cfg.ResyncWindow = DefaultResyncWindow
	}
	if cfg.ResyncMaxResults <= 0 {
		cfg.ResyncMaxResults = DefaultResyncMaxResults
	}
	return &Processor{
		provider:   provider,
		states:     states,
		creds:      creds,
		reconciler: reconciler,
		renewer:    renewer,
		locks:      locks,
		dedup:      dedup,
		metrics:    rec,
		log:        log.With(slog.String("component", "sync")),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification pulls the changes announced by n and reconciles them. A notification that
// cannot be attributed to a live channel is dropped with Result.Skipped set and a nil error.
// An error means the vendor should redeliver.
func (p *Processor) HandleNotification(ctx context.Context, n Notification) (Result, error) {
	if n.ChannelID == "" {
		return Result{}, service.NewValidationError("channel id is required")
	}
	log := p.log.With(slog.String("channel_id", n.ChannelID), slog.String("message_number", n.MessageNumber))

	if n.ResourceState == ResourceStateSync {
		log.DebugContext(ctx, "sync handshake acknowledged")
		return p.skip(SkipSyncHandshake), nil
	}
	if p.cfg.ChannelToken != "" && n.ChannelToken != p.cfg.ChannelToken {
		log.WarnContext(ctx, "notification dropped, channel token mismatch")
		return p.skip(SkipTokenMismatch), nil
	}

	claimed := false
	if p.dedup != nil && n.MessageNumber != "" {
		first, err := p.dedup.Claim(ctx, n.ChannelID, n.MessageNumber)
		switch {
		case err != nil:
			log.WarnContext(ctx, "dedup unavailable, processing anyway", slog.Any("error", err))
		case !first:
			log.DebugContext(ctx, "duplicate notification dropped")
			return p.skip(SkipDuplicate), nil
		default:
			claimed = true
		}
	}

	res, err := p.process(ctx, log, n)
	if err != nil {
		p.metrics.SyncRun("failed")
		if claimed {
			if relErr := p.dedup.Release(context.WithoutCancel(ctx), n.ChannelID, n.MessageNumber); relErr != nil {
				log.WarnContext(ctx, "failed to release notification claim", slog.Any("error", relErr))
			}
		}
		return res, err
	}
	if res.Skipped != "" {
		p.metrics.SyncRun("ignored")
	} else {
		p.metrics.SyncRun("ok")
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, n Notification) (Result, error) {
	state, err := p.states.GetSyncStateByChannel(ctx, n.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		log.InfoContext(ctx, "notification for unknown channel dropped")
		return Result{Skipped: SkipUnknown}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load sync state: %w", err)
	}

	providerID := state.ProviderID
	log = log.With(slog.String("provider_id", providerID))

	res, expiring, err := p.syncLocked(ctx, log, providerID, n.ChannelID)
	if err != nil || res.Skipped != "" {
		return res, err
	}

	// renewal takes the provider lock itself, so it runs after syncLocked released it
	if expiring && p.renewer != nil {
		if _, err := p.renewer.RenewChannel(ctx, providerID); err != nil {
			log.WarnContext(ctx, "channel renewal after sync failed", slog.Any("error", err))
			res.RenewalError = err.Error()
		} else {
			res.Renewed = true
		}
	}
	return res, nil
}

func (p *Processor) syncLocked(ctx context.Context, log *slog.Logger, providerID, channelID string) (Result, bool, error) {
	unlock, err := p.locks.Lock(ctx, providerID)
	if err != nil {
		return Result{}, false, err
	}
	defer unlock()

	res := Result{ProviderID: providerID, Outcomes: make(map[Outcome]int)}

	state, err := p.states.GetSyncState(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && state.ChannelID != channelID) {
		log.InfoContext(ctx, "notification for replaced channel dropped")
		return Result{ProviderID: providerID, Skipped: SkipStale}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("load sync state: %w", err)
	}

	cred, err := service.LoadCredential(ctx, p.creds, providerID)
	if err != nil {
		return Result{}, false, err
	}

	page, err := p.provider.ListChangesSince(ctx, cred, state.SyncToken)
	if errors.Is(err, calendar.ErrTokenInvalid) {
		log.WarnContext(ctx, "sync token rejected, running bounded full resync")
		p.metrics.FullResync()
		res.FullResync = true
		now := p.now()
		page, err = p.provider.ListEventsInRange(ctx, cred, now, now.Add(p.cfg.ResyncWindow), p.cfg.ResyncMaxResults)
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("fetch changes: %w", err)
	}
	if page.NextToken == "" {
		return Result{}, false, errors.New("provider returned no sync token")
	}

	res.Events = len(page.Events)
	for _, ev := range page.Events {
		out, err := p.reconciler.Reconcile(ctx, providerID, ev)
		if err != nil {
			log.WarnContext(ctx, "event reconciliation failed",
				slog.String("event_id", ev.ID),
				slog.Any("error", err),
			)
			res.Failed++
			p.metrics.EventReconciled(string(OutcomeFailed))
			continue
		}
		res.Outcomes[out]++
		p.metrics.EventReconciled(string(out))
	}

	now := p.now()
	if err := p.states.UpdateSyncToken(ctx, providerID, channelID, page.NextToken, now); err != nil {
		if errors.Is(err, store.ErrStaleChannel) {
			log.WarnContext(ctx, "channel replaced during sync, token not stored")
			return res, false, nil
		}
		return Result{}, false, fmt.Errorf("store sync token: %w", err)
	}

	log.InfoContext(ctx, "sync finished",
		slog.Int("events", res.Events),
		slog.Int("failed", res.Failed),
		slog.Bool("full_resync", res.FullResync),
	)
	return res, state.ExpiresWithin(now, p.cfg.RenewThreshold), nil
}

func (p *Processor) skip(reason string) Result {
	p.metrics.SyncRun("ignored")
	return Result{Skipped: reason}
}
