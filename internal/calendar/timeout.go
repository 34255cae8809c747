package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. A call that runs out of time fails with ErrTransient.
func WithTimeout(next Provider, d time.Duration) Provider {
	if d <= 0 {
		return next
	}
	return &timeoutProvider{next: next, timeout: d}
}

func (p *timeoutProvider) Watch(ctx context.Context, cred Credential, req WatchRequest) (WatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	res, err := p.next.Watch(ctx, cred, req)
	return res, p.mapErr(ctx, "watch", err)
}

func (p *timeoutProvider) StopWatch(ctx context.Context, cred Credential, channelID, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.mapErr(ctx, "stop watch", p.next.StopWatch(ctx, cred, channelID, resourceID))
}

func (p *timeoutProvider) ListChangesSince(ctx context.Context, cred Credential, token string) (EventPage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	page, err := p.next.ListChangesSince(ctx, cred, token)
	return page, p.mapErr(ctx, "list changes", err)
}

func (p *timeoutProvider) ListEventsInRange(ctx context.Context, cred Credential, from, to time.Time, maxResults int) (EventPage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	page, err := p.next.ListEventsInRange(ctx, cred, from, to, maxResults)
	return page, p.mapErr(ctx, "list events", err)
}

func (p *timeoutProvider) mapErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, ErrTransient) {
			return err
		}
		return fmt.Errorf("%s timed out after %s: %w: %w", op, p.timeout, ErrTransient, err)
	}
	return err
}
