// Package gcal implements calendar.Provider on top of the Google Calendar v3 API.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarv3 "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"slotsync/backend/internal/calendar"
)

const (
	channelType = "web_hook"
	// Google caps a single events.list page at 2500 items.
	maxPageSize = 2500
)

type Config struct {
	ClientID     string
	ClientSecret string
	// ClientOptions are appended after the per-provider token source, e.g. a custom endpoint.
	ClientOptions []option.ClientOption
}

type Provider struct {
	oauth *oauth2.Config
	opts  []option.ClientOption
	log   *slog.Logger
}

var _ calendar.Provider = (*Provider)(nil)

func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendarv3.CalendarScope},
		},
		opts: cfg.ClientOptions,
		log:  log.With(slog.String("component", "gcal")),
	}
}

func (p *Provider) service(ctx context.Context, cred calendar.Credential) (*calendarv3.Service, error) {
	if cred.CalendarID == "" {
		return nil, fmt.Errorf("%w: missing calendar id for provider %s", calendar.ErrNotConfigured, cred.ProviderID)
	}
	ts := p.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
	})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, p.opts...)
	svc, err := calendarv3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func (p *Provider) Watch(ctx context.Context, cred calendar.Credential, req calendar.WatchRequest) (calendar.WatchResult, error) {
	svc, err := p.service(ctx, cred)
	if err != nil {
		return calendar.WatchResult{}, err
	}

	ch := &calendarv3.Channel{
		Id:      req.ChannelID,
		Type:    channelType,
		Address: req.CallbackURL,
		Token:   req.Token,
	}
	if !req.Expiration.IsZero() {
		ch.Expiration = req.Expiration.UnixMilli()
	}

	out, err := svc.Events.Watch(cred.CalendarID, ch).Context(ctx).Do()
	if err != nil {
		return calendar.WatchResult{}, mapError("watch events", err)
	}

	res := calendar.WatchResult{ResourceID: out.ResourceId}
	if out.Expiration > 0 {
		res.Expiration = time.UnixMilli(out.Expiration).UTC()
	}
	return res, nil
}

func (p *Provider) StopWatch(ctx context.Context, cred calendar.Credential, channelID, resourceID string) error {
	svc, err := p.service(ctx, cred)
	if err != nil {
		return err
	}
	err = svc.Channels.Stop(&calendarv3.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		return mapError("stop channel", err)
	}
	return nil
}

func (p *Provider) ListChangesSince(ctx context.Context, cred calendar.Credential, token string) (calendar.EventPage, error) {
	svc, err := p.service(ctx, cred)
	if err != nil {
		return calendar.EventPage{}, err
	}

	var page calendar.EventPage
	pageToken := ""
	for {
		call := svc.Events.List(cred.CalendarID).
			ShowDeleted(true).
			SingleEvents(true).
			MaxResults(maxPageSize).
			Context(ctx)
		if token != "" {
			call = call.SyncToken(token)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return calendar.EventPage{}, mapError("list changes", err)
		}
		page.Events = appendEvents(page.Events, res.Items)

		if res.NextPageToken == "" {
			page.NextToken = res.NextSyncToken
			return page, nil
		}
		pageToken = res.NextPageToken
	}
}

func (p *Provider) ListEventsInRange(ctx context.Context, cred calendar.Credential, from, to time.Time, maxResults int) (calendar.EventPage, error) {
	svc, err := p.service(ctx, cred)
	if err != nil {
		return calendar.EventPage{}, err
	}
	if maxResults <= 0 {
		maxResults = maxPageSize
	}

	var page calendar.EventPage
	pageToken := ""
	for {
		call := svc.Events.List(cred.CalendarID).
			SingleEvents(true).
			TimeMin(from.UTC().Format(time.RFC3339)).
			TimeMax(to.UTC().Format(time.RFC3339)).
			MaxResults(int64(min(maxResults-len(page.Events), maxPageSize))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return calendar.EventPage{}, mapError("list events", err)
		}
		page.Events = appendEvents(page.Events, res.Items)

		if res.NextPageToken == "" {
			page.NextToken = res.NextSyncToken
			break
		}
		if len(page.Events) >= maxResults {
			break
		}
		pageToken = res.NextPageToken
	}

	if page.NextToken == "" {
		// the listing was truncated; take a fresh cursor so the next delta starts from now
		tok, err := p.baselineToken(ctx, svc, cred.CalendarID)
		if err != nil {
			return calendar.EventPage{}, err
		}
		page.NextToken = tok
	}
	return page, nil
}

func (p *Provider) baselineToken(ctx context.Context, svc *calendarv3.Service, calendarID string) (string, error) {
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			ShowDeleted(true).
			SingleEvents(true).
			MaxResults(maxPageSize).
			Fields(googleapi.Field("nextPageToken,nextSyncToken")).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return "", mapError("baseline sync token", err)
		}
		if res.NextPageToken == "" {
			p.log.DebugContext(ctx, "baseline sync token fetched", slog.String("calendar_id", calendarID))
			return res.NextSyncToken, nil
		}
		pageToken = res.NextPageToken
	}
}

func appendEvents(dst []calendar.Event, items []*calendarv3.Event) []calendar.Event {
	for _, item := range items {
		if item == nil {
			continue
		}
		dst = append(dst, toEvent(item))
	}
	return dst
}

func toEvent(item *calendarv3.Event) calendar.Event {
	ev := calendar.Event{
		ID:          item.Id,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
	}
	if item.Start != nil && item.Start.DateTime == "" && item.Start.Date != "" {
		ev.AllDay = true
	}
	ev.Start = parseDateTime(item.Start)
	ev.End = parseDateTime(item.End)
	return ev
}

func parseDateTime(dt *calendarv3.EventDateTime) *time.Time {
	if dt == nil {
		return nil
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return nil
		}
		return &t
	}
	if dt.Date != "" {
		t, err := time.Parse(time.DateOnly, dt.Date)
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusGone:
			return fmt.Errorf("%s: %w: %w", op, calendar.ErrTokenInvalid, err)
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: %w", op, calendar.ErrTransient, err)
		case gerr.Code == http.StatusForbidden && rateLimited(gerr):
			return fmt.Errorf("%s: %w: %w", op, calendar.ErrTransient, err)
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, calendar.ErrNotConfigured, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, calendar.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
