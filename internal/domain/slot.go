package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SlotOrigin records how a slot entered the store. Cancelling the external event behind an
// imported block deletes it, while a generated slot is handed back to the bookable pool.
type SlotOrigin string

const (
	SlotOriginGenerated SlotOrigin = "generated"
	SlotOriginExternal  SlotOrigin = "external"
)

const DefaultBlockedLabel = "blocked"

type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid"`
	ProviderID      string     `bun:"provider_id,notnull"`
	StartTime       time.Time  `bun:"start_time,notnull"`
	EndTime         time.Time  `bun:"end_time,notnull"`
	DurationMinutes int        `bun:"duration_minutes,notnull"`
	Type            string     `bun:"type,notnull"`
	IsAvailable     bool       `bun:"is_available,notnull"`
	ExternalEventID *string    `bun:"external_event_id"`
	Origin          SlotOrigin `bun:"origin,notnull"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func (s *Slot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// SlotKey is the natural key of a slot within one provider.
type SlotKey struct {
	Start int64
	End   int64
}

func KeyOf(start, end time.Time) SlotKey {
	return SlotKey{Start: start.UTC().UnixNano(), End: end.UTC().UnixNano()}
}

func (s Slot) Key() SlotKey {
	return KeyOf(s.StartTime, s.EndTime)
}

// Release returns the slot back in the bookable pool with its external binding cleared.
func (s Slot) Release() Slot {
	s.IsAvailable = true
	s.ExternalEventID = nil
	return s
}

// Occupy marks the slot as taken, bound to eventID when one is given.
func (s Slot) Occupy(eventID string) Slot {
	s.IsAvailable = false
	if eventID != "" {
		id := eventID
		s.ExternalEventID = &id
	}
	return s
}

func (s Slot) ExternalID() string {
	if s.ExternalEventID == nil {
		return ""
	}
	return *s.ExternalEventID
}
