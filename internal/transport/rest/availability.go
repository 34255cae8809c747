package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/service/availability"
)

type AvailabilityService interface {
	ListRules(ctx context.Context, providerID string) ([]domain.AvailabilityRule, error)
	PutRule(ctx context.Context, in availability.RuleInput) (domain.AvailabilityRule, error)
	DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error
	ListAppointmentTypes(ctx context.Context, providerID string) ([]domain.AppointmentType, error)
	PutAppointmentType(ctx context.Context, in availability.AppointmentTypeInput) (domain.AppointmentType, error)
	DeleteAppointmentType(ctx context.Context, providerID string, typeID uuid.UUID) error
	GetBookingRules(ctx context.Context, providerID string) (domain.BookingRules, error)
	PutBookingRules(ctx context.Context, in domain.BookingRules) (domain.BookingRules, error)
	ListBlockedIntervals(ctx context.Context, providerID string, from, to time.Time) ([]domain.BlockedInterval, error)
	PutBlockedInterval(ctx context.Context, in availability.BlockedIntervalInput) (domain.BlockedInterval, error)
	DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error
	PutCredential(ctx context.Context, in availability.CredentialInput) (domain.CalendarCredential, error)
	DeleteCredential(ctx context.Context, providerID string) error
}

// Blocked intervals listed without a range cover this far either side of now.
const defaultIntervalWindow = 365 * 24 * time.Hour

type ruleRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   *bool  `json:"enabled"`
}

type ruleResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID string    `json:"provider_id"`
	DayOfWeek  int       `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Enabled    bool      `json:"enabled"`
}

func toRuleResponse(r domain.AvailabilityRule) ruleResponse {
	return ruleResponse{
		ID:         r.ID,
		ProviderID: r.ProviderID,
		DayOfWeek:  int(r.DayOfWeek),
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Enabled:    r.Enabled,
	}
}

type appointmentTypeRequest struct {
	Name                string  `json:"name"`
	DurationMinutes     int     `json:"duration_minutes"`
	BufferBeforeMinutes int     `json:"buffer_before_minutes"`
	BufferAfterMinutes  int     `json:"buffer_after_minutes"`
	Enabled             *bool   `json:"enabled"`
	EarliestStart       *string `json:"earliest_start"`
	LatestEnd           *string `json:"latest_end"`
}

type appointmentTypeResponse struct {
	ID                  uuid.UUID `json:"id"`
	ProviderID          string    `json:"provider_id"`
	Name                string    `json:"name"`
	DurationMinutes     int       `json:"duration_minutes"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes"`
	Enabled             bool      `json:"enabled"`
	EarliestStart       *string   `json:"earliest_start,omitempty"`
	LatestEnd           *string   `json:"latest_end,omitempty"`
}

func toAppointmentTypeResponse(t domain.AppointmentType) appointmentTypeResponse {
	return appointmentTypeResponse{
		ID:                  t.ID,
		ProviderID:          t.ProviderID,
		Name:                t.Name,
		DurationMinutes:     t.DurationMinutes,
		BufferBeforeMinutes: t.BufferBeforeMinutes,
		BufferAfterMinutes:  t.BufferAfterMinutes,
		Enabled:             t.Enabled,
		EarliestStart:       t.EarliestStart,
		LatestEnd:           t.LatestEnd,
	}
}

type bookingRulesBody struct {
	MinLeadTimeHours int    `json:"min_lead_time_hours"`
	MaxAdvanceDays   int    `json:"max_advance_days"`
	MinNoticeHours   int    `json:"min_notice_hours"`
	Timezone         string `json:"timezone"`
}

type blockedIntervalRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
	Recurring bool      `json:"recurring"`
}

type blockedIntervalResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID string    `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Reason     string    `json:"reason,omitempty"`
	Recurring  bool      `json:"recurring"`
}

func toBlockedIntervalResponse(b domain.BlockedInterval) blockedIntervalResponse {
	return blockedIntervalResponse{
		ID:         b.ID,
		ProviderID: b.ProviderID,
		StartTime:  b.StartTime.UTC(),
		EndTime:    b.EndTime.UTC(),
		Reason:     b.Reason,
		Recurring:  b.Recurring,
	}
}

type credentialRequest struct {
	CalendarID   string    `json:"calendar_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// credentialResponse never echoes tokens.
type credentialResponse struct {
	ProviderID  string    `json:"provider_id"`
	CalendarID  string    `json:"calendar_id"`
	TokenExpiry time.Time `json:"token_expiry"`
}

// enabledOr defaults an omitted enabled flag to true.
func enabledOr(v *bool) bool {
	return v == nil || *v
}

// pathUUID reads a uuid route variable, answering 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, ok := parseUUID(mux.Vars(r)[name])
	if !ok {
		respondError(w, http.StatusBadRequest, name+" must be a uuid")
	}
	return id, ok
}

// GET /api/v1/providers/{providerId}/availability-rules
func (a *api) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.availability.ListRules(r.Context(), providerID(r))
	if err != nil {
		a.fail(w, r, "list_availability_rules", err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	respondJSON(w, http.StatusOK, map[string]any{"availability_rules": out})
}

// POST /api/v1/providers/{providerId}/availability-rules
// PUT  /api/v1/providers/{providerId}/availability-rules/{ruleId}
func (a *api) putRule(w http.ResponseWriter, r *http.Request) {
	id, status, ok := a.targetID(w, r, "ruleId")
	if !ok {
		return
	}
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := a.availability.PutRule(r.Context(), availability.RuleInput{
		ProviderID: providerID(r),
		ID:         id,
		DayOfWeek:  req.DayOfWeek,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Enabled:    enabledOr(req.Enabled),
	})
	if err != nil {
		a.fail(w, r, "put_availability_rule", err)
		return
	}
	respondJSON(w, status, toRuleResponse(rule))
}

// DELETE /api/v1/providers/{providerId}/availability-rules/{ruleId}
func (a *api) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "ruleId")
	if !ok {
		return
	}
	if err := a.availability.DeleteRule(r.Context(), providerID(r), id); err != nil {
		a.fail(w, r, "delete_availability_rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/providers/{providerId}/appointment-types
func (a *api) listAppointmentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := a.availability.ListAppointmentTypes(r.Context(), providerID(r))
	if err != nil {
		a.fail(w, r, "list_appointment_types", err)
		return
	}
	out := make([]appointmentTypeResponse, 0, len(types))
	for _, t := range types {
		out = append(out, toAppointmentTypeResponse(t))
	}
	respondJSON(w, http.StatusOK, map[string]any{"appointment_types": out})
}

// POST /api/v1/providers/{providerId}/appointment-types
// PUT  /api/v1/providers/{providerId}/appointment-types/{typeId}
func (a *api) putAppointmentType(w http.ResponseWriter, r *http.Request) {
	id, status, ok := a.targetID(w, r, "typeId")
	if !ok {
		return
	}
	var req appointmentTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := a.availability.PutAppointmentType(r.Context(), availability.AppointmentTypeInput{
		ProviderID:          providerID(r),
		ID:                  id,
		Name:                req.Name,
		DurationMinutes:     req.DurationMinutes,
		BufferBeforeMinutes: req.BufferBeforeMinutes,
		BufferAfterMinutes:  req.BufferAfterMinutes,
		Enabled:             enabledOr(req.Enabled),
		EarliestStart:       req.EarliestStart,
		LatestEnd:           req.LatestEnd,
	})
	if err != nil {
		a.fail(w, r, "put_appointment_type", err)
		return
	}
	respondJSON(w, status, toAppointmentTypeResponse(t))
}

// DELETE /api/v1/providers/{providerId}/appointment-types/{typeId}
func (a *api) deleteAppointmentType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "typeId")
	if !ok {
		return
	}
	if err := a.availability.DeleteAppointmentType(r.Context(), providerID(r), id); err != nil {
		a.fail(w, r, "delete_appointment_type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/providers/{providerId}/booking-rules
func (a *api) getBookingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.availability.GetBookingRules(r.Context(), providerID(r))
	if err != nil {
		a.fail(w, r, "get_booking_rules", err)
		return
	}
	respondJSON(w, http.StatusOK, toBookingRulesBody(rules))
}

// PUT /api/v1/providers/{providerId}/booking-rules
func (a *api) putBookingRules(w http.ResponseWriter, r *http.Request) {
	var req bookingRulesBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rules, err := a.availability.PutBookingRules(r.Context(), domain.BookingRules{
		ProviderID:       providerID(r),
		MinLeadTimeHours: req.MinLeadTimeHours,
		MaxAdvanceDays:   req.MaxAdvanceDays,
		MinNoticeHours:   req.MinNoticeHours,
		Timezone:         req.Timezone,
	})
	if err != nil {
		a.fail(w, r, "put_booking_rules", err)
		return
	}
	respondJSON(w, http.StatusOK, toBookingRulesBody(rules))
}

func toBookingRulesBody(r domain.BookingRules) bookingRulesBody {
	return bookingRulesBody{
		MinLeadTimeHours: r.MinLeadTimeHours,
		MaxAdvanceDays:   r.MaxAdvanceDays,
		MinNoticeHours:   r.MinNoticeHours,
		Timezone:         r.Timezone,
	}
}

// GET /api/v1/providers/{providerId}/blocked-intervals?from=...&to=...
func (a *api) listBlockedIntervals(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from, ok := optionalTime(w, r, "from", now.Add(-defaultIntervalWindow))
	if !ok {
		return
	}
	to, ok := optionalTime(w, r, "to", now.Add(defaultIntervalWindow))
	if !ok {
		return
	}

	blocks, err := a.availability.ListBlockedIntervals(r.Context(), providerID(r), from, to)
	if err != nil {
		a.fail(w, r, "list_blocked_intervals", err)
		return
	}
	out := make([]blockedIntervalResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockedIntervalResponse(b))
	}
	respondJSON(w, http.StatusOK, map[string]any{"blocked_intervals": out})
}

// POST /api/v1/providers/{providerId}/blocked-intervals
// PUT  /api/v1/providers/{providerId}/blocked-intervals/{intervalId}
func (a *api) putBlockedInterval(w http.ResponseWriter, r *http.Request) {
	id, status, ok := a.targetID(w, r, "intervalId")
	if !ok {
		return
	}
	var req blockedIntervalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := a.availability.PutBlockedInterval(r.Context(), availability.BlockedIntervalInput{
		ProviderID: providerID(r),
		ID:         id,
		Start:      req.StartTime,
		End:        req.EndTime,
		Reason:     req.Reason,
		Recurring:  req.Recurring,
	})
	if err != nil {
		a.fail(w, r, "put_blocked_interval", err)
		return
	}
	respondJSON(w, status, toBlockedIntervalResponse(b))
}

// DELETE /api/v1/providers/{providerId}/blocked-intervals/{intervalId}
func (a *api) deleteBlockedInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "intervalId")
	if !ok {
		return
	}
	if err := a.availability.DeleteBlockedInterval(r.Context(), providerID(r), id); err != nil {
		a.fail(w, r, "delete_blocked_interval", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/v1/providers/{providerId}/calendar-credential
func (a *api) putCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cred, err := a.availability.PutCredential(r.Context(), availability.CredentialInput{
		ProviderID:   providerID(r),
		CalendarID:   req.CalendarID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenExpiry:  req.TokenExpiry,
	})
	if err != nil {
		a.fail(w, r, "put_calendar_credential", err)
		return
	}
	respondJSON(w, http.StatusOK, credentialResponse{
		ProviderID:  cred.ProviderID,
		CalendarID:  cred.CalendarID,
		TokenExpiry: cred.TokenExpiry.UTC(),
	})
}

// DELETE /api/v1/providers/{providerId}/calendar-credential
func (a *api) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.availability.DeleteCredential(r.Context(), providerID(r)); err != nil {
		a.fail(w, r, "delete_calendar_credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// targetID resolves the record a write addresses. Collection routes create (201) and item
// routes replace (200).
func (a *api) targetID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, int, bool) {
	if _, ok := mux.Vars(r)[name]; !ok {
		return uuid.Nil, http.StatusCreated, true
	}
	id, ok := pathUUID(w, r, name)
	return id, http.StatusOK, ok
}

func optionalTime(w http.ResponseWriter, r *http.Request, name string, def time.Time) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		respondError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}
