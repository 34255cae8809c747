package channels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/store"
)

var testNow = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	watchFn       func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error)
	stopWatchFn   func(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error
	listChangesFn func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error)
}

func (f *fakeProvider) Watch(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
	if f.watchFn == nil {
		panic("Watch not configured")
	}
	return f.watchFn(ctx, cred, req)
}

func (f *fakeProvider) StopWatch(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
	if f.stopWatchFn == nil {
		panic("StopWatch not configured")
	}
	return f.stopWatchFn(ctx, cred, channelID, resourceID)
}

func (f *fakeProvider) ListChangesSince(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
	if f.listChangesFn == nil {
		panic("ListChangesSince not configured")
	}
	return f.listChangesFn(ctx, cred, token)
}

func (f *fakeProvider) ListEventsInRange(ctx context.Context, cred calendar.Credential, from, to time.Time, maxResults int) (calendar.EventPage, error) {
	panic("ListEventsInRange not configured")
}

// memStates is an in-memory SyncStateRepository.
type memStates struct {
	byProvider map[string]domain.SyncState
	listErr    error
}

func newMemStates(states ...domain.SyncState) *memStates {
	m := &memStates{byProvider: make(map[string]domain.SyncState)}
	for _, s := range states {
		m.byProvider[s.ProviderID] = s
	}
	return m
}

func (m *memStates) UpsertSyncState(ctx context.Context, state domain.SyncState) (domain.SyncState, error) {
	m.byProvider[state.ProviderID] = state
	return state, nil
}

func (m *memStates) GetSyncState(ctx context.Context, providerID string) (domain.SyncState, error) {
	s, ok := m.byProvider[providerID]
	if !ok {
		return domain.SyncState{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memStates) GetSyncStateByChannel(ctx context.Context, channelID string) (domain.SyncState, error) {
	for _, s := range m.byProvider {
		if s.ChannelID == channelID {
			return s, nil
		}
	}
	return domain.SyncState{}, store.ErrNotFound
}

func (m *memStates) UpdateSyncToken(ctx context.Context, providerID, channelID, token string, syncedAt time.Time) error {
	panic("UpdateSyncToken not configured")
}

func (m *memStates) DeleteSyncState(ctx context.Context, providerID string) error {
	if _, ok := m.byProvider[providerID]; !ok {
		return store.ErrNotFound
	}
	delete(m.byProvider, providerID)
	return nil
}

func (m *memStates) ListExpiringSyncStates(ctx context.Context, before time.Time) ([]domain.SyncState, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.SyncState
	for _, s := range m.byProvider {
		if s.ChannelExpiration.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeCreds map[string]domain.CalendarCredential

func (f fakeCreds) GetCredential(ctx context.Context, providerID string) (domain.CalendarCredential, error) {
	c, ok := f[providerID]
	if !ok {
		return domain.CalendarCredential{}, store.ErrNotFound
	}
	return c, nil
}

func usableCreds(providerIDs ...string) fakeCreds {
	out := make(fakeCreds)
	for _, id := range providerIDs {
		out[id] = domain.CalendarCredential{ProviderID: id, CalendarID: "primary", AccessToken: "tok"}
	}
	return out
}

func newTestManager(p calendar.Provider, states store.SyncStateRepository, creds store.CredentialRepository) *Manager {
	m := NewManager(p, states, creds, providerlock.New(), metrics.Nop{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{CallbackURL: "https://example.test/webhooks/calendar"})
	m.now = func() time.Time { return testNow }
	n := 0
	m.channelID = func() string {
		n++
		return "ch-" + string(rune('0'+n))
	}
	return m
}

func TestSetupChannel_PersistsState(t *testing.T) {
	states := newMemStates()
	var gotReq calendar.WatchRequest
	p := &fakeProvider{
		watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
			gotReq = req
			return calendar.WatchResult{ResourceID: "res-1"}, nil
		},
		listChangesFn: func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
			if token != "" {
				t.Fatalf("initial token = %q, want empty", token)
			}
			return calendar.EventPage{NextToken: "tok-1"}, nil
		},
	}

	m := newTestManager(p, states, usableCreds("p1"))
	st, err := m.SetupChannel(context.Background(), "p1")
	if err != nil {
		t.Fatalf("SetupChannel: %v", err)
	}

	if gotReq.CallbackURL != "https://example.test/webhooks/calendar" || gotReq.ChannelID != "ch-1" {
		t.Fatalf("watch request = %+v", gotReq)
	}
	if !gotReq.Expiration.Equal(testNow.Add(DefaultChannelTTL)) {
		t.Fatalf("requested expiration = %s, want now+7d", gotReq.Expiration)
	}
	if st.ChannelID != "ch-1" || st.ResourceID != "res-1" || st.SyncToken != "tok-1" {
		t.Fatalf("state = %+v", st)
	}
	if !st.ChannelExpiration.Equal(testNow.Add(DefaultChannelTTL)) || !st.LastSyncTime.Equal(testNow) {
		t.Fatalf("state times = %+v", st)
	}
	if _, err := states.GetSyncState(context.Background(), "p1"); err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
}

func TestSetupChannel_UsesVendorExpiration(t *testing.T) {
	vendorExpiry := testNow.Add(24 * time.Hour)
	p := &fakeProvider{
		watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
			return calendar.WatchResult{ResourceID: "res-1", Expiration: vendorExpiry}, nil
		},
		listChangesFn: func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
			return calendar.EventPage{NextToken: "tok-1"}, nil
		},
	}

	st, err := newTestManager(p, newMemStates(), usableCreds("p1")).SetupChannel(context.Background(), "p1")
	if err != nil {
		t.Fatalf("SetupChannel: %v", err)
	}
	if !st.ChannelExpiration.Equal(vendorExpiry) {
		t.Fatalf("expiration = %s, want %s", st.ChannelExpiration, vendorExpiry)
	}
}

func TestSetupChannel_Failures(t *testing.T) {
	watchErr := errors.New("watch refused")

	t.Run("missing credential is a config error", func(t *testing.T) {
		states := newMemStates()
		_, err := newTestManager(&fakeProvider{}, states, fakeCreds{}).SetupChannel(context.Background(), "p1")
		var cfgErr *service.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("err = %v, want *ConfigError", err)
		}
		if len(states.byProvider) != 0 {
			t.Fatalf("state written on config error")
		}
	})

	t.Run("missing callback url is a config error", func(t *testing.T) {
		m := newTestManager(&fakeProvider{}, newMemStates(), usableCreds("p1"))
		m.cfg.CallbackURL = ""
		_, err := m.SetupChannel(context.Background(), "p1")
		var cfgErr *service.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("err = %v, want *ConfigError", err)
		}
	})

	t.Run("watch failure writes nothing", func(t *testing.T) {
		states := newMemStates()
		p := &fakeProvider{
			watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
				return calendar.WatchResult{}, watchErr
			},
		}
		_, err := newTestManager(p, states, usableCreds("p1")).SetupChannel(context.Background(), "p1")
		if !errors.Is(err, watchErr) {
			t.Fatalf("err = %v, want %v", err, watchErr)
		}
		if len(states.byProvider) != 0 {
			t.Fatalf("state written after watch failure")
		}
	})

	t.Run("initial token failure stops the new channel", func(t *testing.T) {
		states := newMemStates()
		stopped := ""
		p := &fakeProvider{
			watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
				return calendar.WatchResult{ResourceID: "res-1"}, nil
			},
			listChangesFn: func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
				return calendar.EventPage{}, calendar.ErrTransient
			},
			stopWatchFn: func(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
				stopped = channelID
				return nil
			},
		}
		_, err := newTestManager(p, states, usableCreds("p1")).SetupChannel(context.Background(), "p1")
		if !errors.Is(err, calendar.ErrTransient) {
			t.Fatalf("err = %v, want ErrTransient", err)
		}
		if stopped != "ch-1" {
			t.Fatalf("stopped channel = %q, want ch-1", stopped)
		}
		if len(states.byProvider) != 0 {
			t.Fatalf("state written after token failure")
		}
	})
}

func TestRenewChannel_IgnoresStopFailure(t *testing.T) {
	states := newMemStates(domain.SyncState{
		ProviderID:        "p1",
		ChannelID:         "old",
		ResourceID:        "res-old",
		SyncToken:         "tok-old",
		ChannelExpiration: testNow.Add(time.Hour),
	})
	p := &fakeProvider{
		stopWatchFn: func(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
			if channelID != "old" || resourceID != "res-old" {
				t.Fatalf("stop %s/%s, want old/res-old", channelID, resourceID)
			}
			return errors.New("channel already expired")
		},
		watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
			return calendar.WatchResult{ResourceID: "res-new"}, nil
		},
		listChangesFn: func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
			return calendar.EventPage{NextToken: "tok-new"}, nil
		},
	}

	st, err := newTestManager(p, states, usableCreds("p1")).RenewChannel(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RenewChannel: %v", err)
	}
	if st.ChannelID != "ch-1" || st.SyncToken != "tok-new" {
		t.Fatalf("state = %+v, want fresh channel", st)
	}
	if got := states.byProvider["p1"]; got.ChannelID != "ch-1" {
		t.Fatalf("persisted channel = %q, want ch-1", got.ChannelID)
	}
}

func TestCheckAndRenewExpiring_ContinuesPastFailures(t *testing.T) {
	states := newMemStates(
		domain.SyncState{ProviderID: "p1", ChannelID: "c1", ChannelExpiration: testNow.Add(time.Hour)},
		domain.SyncState{ProviderID: "p2", ChannelID: "c2", ChannelExpiration: testNow.Add(2 * time.Hour)},
		domain.SyncState{ProviderID: "p3", ChannelID: "c3", ChannelExpiration: testNow.Add(30 * 24 * time.Hour)},
	)
	p := &fakeProvider{
		stopWatchFn: func(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
			return nil
		},
		watchFn: func(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
			if cred.ProviderID == "p1" {
				return calendar.WatchResult{}, calendar.ErrTransient
			}
			return calendar.WatchResult{ResourceID: "res"}, nil
		},
		listChangesFn: func(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
			return calendar.EventPage{NextToken: "tok"}, nil
		},
	}

	res, err := newTestManager(p, states, usableCreds("p1", "p2", "p3")).CheckAndRenewExpiring(context.Background(), 48*time.Hour)
	if err != nil {
		t.Fatalf("CheckAndRenewExpiring: %v", err)
	}
	if res.Checked != 2 || res.Renewed != 1 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v, want checked=2 renewed=1 failed=1", res)
	}
	if res.Failed[0].ProviderID != "p1" || !errors.Is(res.Failed[0].Unwrap(), calendar.ErrTransient) {
		t.Fatalf("failure = %+v, want p1 transient", res.Failed[0])
	}
	if states.byProvider["p3"].ChannelID != "c3" {
		t.Fatalf("channel outside threshold was renewed")
	}
}

func TestCheckAndRenewExpiring_ListError(t *testing.T) {
	states := newMemStates()
	states.listErr = errors.New("db down")
	if _, err := newTestManager(&fakeProvider{}, states, fakeCreds{}).CheckAndRenewExpiring(context.Background(), time.Hour); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStopChannel(t *testing.T) {
	states := newMemStates(domain.SyncState{ProviderID: "p1", ChannelID: "c1", ResourceID: "r1"})
	stops := 0
	p := &fakeProvider{
		stopWatchFn: func(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
			stops++
			return errors.New("gone")
		},
	}
	m := newTestManager(p, states, usableCreds("p1"))

	if err := m.StopChannel(context.Background(), "p1"); err != nil {
		t.Fatalf("StopChannel: %v", err)
	}
	if _, ok := states.byProvider["p1"]; ok {
		t.Fatalf("sync state not deleted")
	}
	if err := m.StopChannel(context.Background(), "p1"); err != nil {
		t.Fatalf("second StopChannel: %v", err)
	}
	if stops != 1 {
		t.Fatalf("stop calls = %d, want 1", stops)
	}
}
