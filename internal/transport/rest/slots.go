package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service/slots"
)

type slotResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      string    `json:"provider_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	IsAvailable     bool      `json:"is_available"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	Origin          string    `json:"origin"`
}

func toSlotResponses(in []domain.Slot) []slotResponse {
	out := make([]slotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, slotResponse{
			ID:              s.ID,
			ProviderID:      s.ProviderID,
			StartTime:       s.StartTime.UTC(),
			EndTime:         s.EndTime.UTC(),
			DurationMinutes: s.DurationMinutes,
			Type:            s.Type,
			IsAvailable:     s.IsAvailable,
			ExternalEventID: s.ExternalEventID,
			Origin:          string(s.Origin),
		})
	}
	return out
}

type generateSlotsRequest struct {
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	AppointmentTypeID string `json:"appointment_type_id"`
	IncludeWeekends   bool   `json:"include_weekends"`
}

type generateSlotsResponse struct {
	Slots   []slotResponse           `json:"slots"`
	Summary domain.GenerationSummary `json:"summary"`
}

// POST /api/v1/providers/{providerId}/slots/generate
func (a *api) generateSlots(w http.ResponseWriter, r *http.Request) {
	var req generateSlotsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typeID, ok := parseUUID(req.AppointmentTypeID)
	if !ok {
		respondError(w, http.StatusBadRequest, "appointment_type_id must be a uuid")
		return
	}

	res, err := a.slots.Generate(r.Context(), slots.GenerateInput{
		ProviderID:        providerID(r),
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		AppointmentTypeID: typeID,
		IncludeWeekends:   req.IncludeWeekends,
	})
	if err != nil {
		a.fail(w, r, "generate_slots", err)
		return
	}
	respondJSON(w, http.StatusOK, generateSlotsResponse{Slots: toSlotResponses(res.Slots), Summary: res.Summary})
}

// GET /api/v1/providers/{providerId}/slots?from=...&to=...
func (a *api) listSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
		return
	}

	out, err := a.slots.List(r.Context(), providerID(r), from, to)
	if err != nil {
		a.fail(w, r, "list_slots", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"slots": toSlotResponses(out)})
}
