package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"slotsync/backend/internal/calendar"
)

var testCred = calendar.Credential{ProviderID: "p1", CalendarID: "primary", AccessToken: "tok"}

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListChangesSince_PagesUntilSyncToken(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		assert.Equal(t, "old-token", q.Get("syncToken"))
		assert.Equal(t, "true", q.Get("showDeleted"))

		if q.Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"items": []map[string]any{{
					"id":      "evt-1",
					"status":  "confirmed",
					"summary": "Dentist",
					"start":   map[string]string{"dateTime": "2026-01-05T10:00:00Z"},
					"end":     map[string]string{"dateTime": "2026-01-05T11:00:00Z"},
				}},
				"nextPageToken": "page-2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": "evt-2", "status": "cancelled"},
				{"id": "evt-3", "status": "confirmed", "start": map[string]string{"date": "2026-01-06"}, "end": map[string]string{"date": "2026-01-07"}},
			},
			"nextSyncToken": "new-token",
		})
	})

	p := newTestProvider(t, mux)
	page, err := p.ListChangesSince(context.Background(), testCred, "old-token")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, "new-token", page.NextToken)
	require.Len(t, page.Events, 3)

	assert.Equal(t, "Dentist", page.Events[0].Summary)
	require.NotNil(t, page.Events[0].Start)
	assert.True(t, page.Events[0].Start.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))
	assert.True(t, page.Events[1].Cancelled())
	assert.Nil(t, page.Events[1].Start)
	assert.True(t, page.Events[2].AllDay)
}

func TestListChangesSince_GoneIsTokenInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, map[string]any{
			"error": map[string]any{
				"code":    http.StatusGone,
				"message": "Sync token is no longer valid, a full sync is required.",
				"errors":  []map[string]string{{"reason": "fullSyncRequired"}},
			},
		})
	})

	p := newTestProvider(t, mux)
	_, err := p.ListChangesSince(context.Background(), testCred, "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, calendar.ErrTokenInvalid), "err = %v", err)
}

func TestListChangesSince_ServerErrorIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{"code": http.StatusServiceUnavailable, "message": "backend error"},
		})
	})

	p := newTestProvider(t, mux)
	_, err := p.ListChangesSince(context.Background(), testCred, "tok")
	assert.True(t, errors.Is(err, calendar.ErrTransient), "err = %v", err)
}

func TestWatchAndStop(t *testing.T) {
	expiry := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events/watch", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ch-1", body["id"])
		assert.Equal(t, "web_hook", body["type"])
		assert.Equal(t, "https://example.test/webhooks/calendar", body["address"])

		writeJSON(w, http.StatusOK, map[string]any{
			"id":         "ch-1",
			"resourceId": "res-1",
			"expiration": expiry.UnixMilli(),
		})
	})
	stopped := false
	mux.HandleFunc("/channels/stop", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ch-1", body["id"])
		assert.Equal(t, "res-1", body["resourceId"])
		stopped = true
		w.WriteHeader(http.StatusNoContent)
	})

	p := newTestProvider(t, mux)
	res, err := p.Watch(context.Background(), testCred, calendar.WatchRequest{
		ChannelID:   "ch-1",
		CallbackURL: "https://example.test/webhooks/calendar",
		Expiration:  expiry,
	})
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ResourceID)
	assert.True(t, res.Expiration.Equal(expiry))

	require.NoError(t, p.StopWatch(context.Background(), testCred, "ch-1", "res-1"))
	assert.True(t, stopped)
}

func TestListEventsInRange_FallsBackToBaselineToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("timeMin") != "" {
			assert.Equal(t, "2026-01-05T00:00:00Z", q.Get("timeMin"))
			assert.Equal(t, "1", q.Get("maxResults"))
			writeJSON(w, http.StatusOK, map[string]any{
				"items": []map[string]any{{
					"id":    "evt-1",
					"start": map[string]string{"dateTime": "2026-01-05T10:00:00Z"},
				}},
				"nextPageToken": "more",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"nextSyncToken": "baseline"})
	})

	p := newTestProvider(t, mux)
	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	page, err := p.ListEventsInRange(context.Background(), testCred, from, from.AddDate(0, 0, 90), 1)
	require.NoError(t, err)
	assert.Len(t, page.Events, 1)
	assert.Equal(t, "baseline", page.NextToken)
}

func TestMissingCalendarID(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.ListChangesSince(context.Background(), calendar.Credential{ProviderID: "p1"}, "")
	assert.True(t, errors.Is(err, calendar.ErrNotConfigured), "err = %v", err)
}
