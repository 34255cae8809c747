package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/service"
	"slotsync/backend/internal/service/calsync"
)

const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerChannelToken  = "X-Goog-Channel-Token"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
	headerMessageNumber = "X-Goog-Message-Number"
)

// calendarWebhook receives push notifications. Dropped notifications are acknowledged with 200;
// a 503 asks the vendor to redeliver.
func (a *api) calendarWebhook(w http.ResponseWriter, r *http.Request) {
	n := calsync.Notification{
		ChannelID:     strings.TrimSpace(r.Header.Get(headerChannelID)),
		ResourceID:    strings.TrimSpace(r.Header.Get(headerResourceID)),
		ResourceState: strings.TrimSpace(r.Header.Get(headerResourceState)),
		MessageNumber: strings.TrimSpace(r.Header.Get(headerMessageNumber)),
		ChannelToken:  r.Header.Get(headerChannelToken),
	}
	if n.ChannelID == "" || n.ResourceID == "" || n.ResourceState == "" {
		a.log.WarnContext(r.Context(), "notification missing headers",
			slog.String("channel_id", n.ChannelID),
			slog.String("resource_state", n.ResourceState),
		)
		respondError(w, http.StatusBadRequest, "missing notification headers")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.syncTimeout)
	defer cancel()
	res, err := a.sync.HandleNotification(ctx, n)
	if err != nil {
		var vErr *service.ValidationError
		switch {
		case errors.As(err, &vErr):
			respondError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, calendar.ErrTransient), errors.Is(err, context.DeadlineExceeded):
			a.log.WarnContext(r.Context(), "sync deferred, asking for redelivery",
				slog.String("channel_id", n.ChannelID),
				slog.Any("err", err),
			)
			respondError(w, http.StatusServiceUnavailable, "sync temporarily unavailable")
		default:
			a.log.ErrorContext(r.Context(), "sync failed",
				slog.String("channel_id", n.ChannelID),
				slog.Any("err", err),
			)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusOK, res)
}
