package calendar

import "errors"

var (
	// ErrTokenInvalid signals that a sync token was rejected and a full resync is required.
	ErrTokenInvalid = errors.New("calendar: sync token invalid")
	// ErrTransient marks failures worth retrying: timeouts, throttling and vendor outages.
	ErrTransient     = errors.New("calendar: transient failure")
	ErrNotConfigured = errors.New("calendar: provider not configured")
)
