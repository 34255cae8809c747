package rest

import (
	"net/http"
	"strconv"
	"time"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service/channels"
)

type channelResponse struct {
	ProviderID   string    `json:"provider_id"`
	ChannelID    string    `json:"channel_id"`
	ResourceID   string    `json:"resource_id"`
	SyncToken    string    `json:"sync_token"`
	Expiration   time.Time `json:"expiration"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

func toChannelResponse(s domain.SyncState) channelResponse {
	return channelResponse{
		ProviderID:   s.ProviderID,
		ChannelID:    s.ChannelID,
		ResourceID:   s.ResourceID,
		SyncToken:    s.SyncToken,
		Expiration:   s.ChannelExpiration,
		LastSyncTime: s.LastSyncTime,
	}
}

// POST /api/v1/providers/{providerId}/channel
func (a *api) setupChannel(w http.ResponseWriter, r *http.Request) {
	id := providerID(r)
	st, err := a.channels.SetupChannel(r.Context(), id)
	if err != nil {
		a.fail(w, r, "setup_channel", err)
		return
	}
	respondJSON(w, http.StatusCreated, toChannelResponse(st))
}

// POST /api/v1/providers/{providerId}/channel/renew
func (a *api) renewChannel(w http.ResponseWriter, r *http.Request) {
	st, err := a.channels.RenewChannel(r.Context(), providerID(r))
	if err != nil {
		a.fail(w, r, "renew_channel", err)
		return
	}
	respondJSON(w, http.StatusOK, toChannelResponse(st))
}

// DELETE /api/v1/providers/{providerId}/channel
func (a *api) stopChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.channels.StopChannel(r.Context(), providerID(r)); err != nil {
		a.fail(w, r, "stop_channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/channels/renew-expiring?threshold_hours=48
func (a *api) renewExpiring(w http.ResponseWriter, r *http.Request) {
	threshold := channels.DefaultRenewThreshold
	if raw := r.URL.Query().Get("threshold_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			respondError(w, http.StatusBadRequest, "threshold_hours must be a positive integer")
			return
		}
		threshold = time.Duration(hours) * time.Hour
	}

	res, err := a.channels.CheckAndRenewExpiring(r.Context(), threshold)
	if err != nil {
		a.fail(w, r, "renew_expiring", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
