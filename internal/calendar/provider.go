package calendar

import (
	"context"
	"time"
)

// Credential scopes every provider call to one provider's calendar.
type Credential struct {
	ProviderID   string
	CalendarID   string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type WatchRequest struct {
	ChannelID   string
	CallbackURL string
	// Token is echoed back by the vendor on every notification for the channel.
	Token      string
	Expiration time.Time
}

type WatchResult struct {
	ResourceID string
	// Expiration is the vendor's expiry for the channel; zero when the vendor did not report one.
	Expiration time.Time
}

// EventPage holds a batch of changes plus the cursor to resume from. NextToken is only
// set once the last page of a listing was read.
type EventPage struct {
	Events    []Event
	NextToken string
}

// Provider is the external calendar capability the engine depends on.
type Provider interface {
	Watch(ctx context.Context, cred Credential, req WatchRequest) (WatchResult, error)
	StopWatch(ctx context.Context, cred Credential, channelID, resourceID string) error
	// ListChangesSince returns every change after token. An empty token lists the current
	// state and returns a baseline token. It fails with ErrTokenInvalid when the vendor
	// no longer accepts token.
	ListChangesSince(ctx context.Context, cred Credential, token string) (EventPage, error)
	ListEventsInRange(ctx context.Context, cred Credential, from, to time.Time, maxResults int) (EventPage, error)
}
