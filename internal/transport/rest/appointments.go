package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service/appointments"
)

type appointmentResponse struct {
	ID                 uuid.UUID             `json:"id"`
	ProviderID         string                `json:"provider_id"`
	SlotID             uuid.UUID             `json:"slot_id"`
	ClientID           string                `json:"client_id"`
	Status             string                `json:"status"`
	ExternalEventID    *string               `json:"external_event_id,omitempty"`
	CancellationReason string                `json:"cancellation_reason,omitempty"`
	History            []domain.StatusChange `json:"history"`
	CreatedAt          time.Time             `json:"created_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	history := a.History
	if history == nil {
		history = []domain.StatusChange{}
	}
	return appointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		SlotID:             a.SlotID,
		ClientID:           a.ClientID,
		Status:             string(a.Status),
		ExternalEventID:    a.ExternalEventID,
		CancellationReason: a.CancellationReason,
		History:            history,
		CreatedAt:          a.CreatedAt,
	}
}

type bookRequest struct {
	SlotID          string `json:"slot_id"`
	ClientID        string `json:"client_id"`
	ExternalEventID string `json:"external_event_id"`
}

func idempotencyKey(r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = r.Header.Get("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

// POST /api/v1/providers/{providerId}/appointments
func (a *api) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slotID, ok := parseUUID(req.SlotID)
	if !ok {
		respondError(w, http.StatusBadRequest, "slot_id must be a uuid")
		return
	}

	appt, err := a.appointments.Book(r.Context(), appointments.BookInput{
		ProviderID:      providerID(r),
		SlotID:          slotID,
		ClientID:        req.ClientID,
		ExternalEventID: req.ExternalEventID,
		IdempotencyKey:  idempotencyKey(r),
	})
	if err != nil {
		a.fail(w, r, "book_appointment", err)
		return
	}
	respondJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// POST /api/v1/providers/{providerId}/appointments/{appointmentId}/status
func (a *api) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	apptID, ok := parseUUID(mux.Vars(r)["appointmentId"])
	if !ok {
		respondError(w, http.StatusBadRequest, "appointment id must be a uuid")
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	appt, err := a.appointments.UpdateStatus(r.Context(), appointments.UpdateStatusInput{
		ProviderID:    providerID(r),
		AppointmentID: apptID,
		Status:        req.Status,
		Reason:        req.Reason,
	})
	if err != nil {
		a.fail(w, r, "update_appointment_status", err)
		return
	}
	respondJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
