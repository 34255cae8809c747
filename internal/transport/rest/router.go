// Package rest exposes the engine over HTTP: the calendar push webhook plus admin endpoints for
// channels, provider availability, slot generation and bookings.
package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service/appointments"
	"slotsync/backend/internal/service/calsync"
	"slotsync/backend/internal/service/channels"
	"slotsync/backend/internal/service/slots"
)

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n calsync.Notification) (calsync.Result, error)
}

type ChannelManager interface {
	SetupChannel(ctx context.Context, providerID string) (domain.SyncState, error)
	RenewChannel(ctx context.Context, providerID string) (domain.SyncState, error)
	StopChannel(ctx context.Context, providerID string) error
	CheckAndRenewExpiring(ctx context.Context, threshold time.Duration) (channels.SweepResult, error)
}

type SlotService interface {
	Generate(ctx context.Context, in slots.GenerateInput) (slots.GenerateResult, error)
	List(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error)
}

type AppointmentService interface {
	Book(ctx context.Context, in appointments.BookInput) (domain.Appointment, error)
	UpdateStatus(ctx context.Context, in appointments.UpdateStatusInput) (domain.Appointment, error)
}

// DefaultSyncTimeout bounds a webhook-triggered sync when Deps.SyncTimeout is unset.
const DefaultSyncTimeout = 2 * time.Minute

type Deps struct {
	Sync         NotificationHandler
	Channels     ChannelManager
	Availability AvailabilityService
	Slots        SlotService
	Appointments AppointmentService
	// SyncTimeout bounds the sync a notification triggers. The sync is detached from the
	// request so a vendor hanging up does not abort it halfway.
	SyncTimeout time.Duration
	// Ping reports whether the backing store is reachable.
	Ping    func(ctx context.Context) error
	Metrics metrics.Recorder
	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string
	Log            *slog.Logger
}

type api struct {
	sync         NotificationHandler
	channels     ChannelManager
	availability AvailabilityService
	slots        SlotService
	appointments AppointmentService
	syncTimeout  time.Duration
	ping         func(ctx context.Context) error
	log          *slog.Logger
}

func NewRouter(d Deps) *mux.Router {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	rec := d.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	syncTimeout := d.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}

	a := &api{
		sync:         d.Sync,
		channels:     d.Channels,
		availability: d.Availability,
		slots:        d.Slots,
		appointments: d.Appointments,
		syncTimeout:  syncTimeout,
		ping:         d.Ping,
		log:          log,
	}

	r := mux.NewRouter()
	r.Use(recoverMiddleware(log), metricsMiddleware(rec))

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	if d.MetricsHandler != nil && d.MetricsPath != "" {
		r.Handle(d.MetricsPath, d.MetricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/webhooks/calendar", a.calendarWebhook).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/channels/renew-expiring", a.renewExpiring).Methods(http.MethodPost)

	p := v1.PathPrefix("/providers/{providerId}").Subrouter()
	p.HandleFunc("/channel", a.setupChannel).Methods(http.MethodPost)
	p.HandleFunc("/channel", a.stopChannel).Methods(http.MethodDelete)
	p.HandleFunc("/channel/renew", a.renewChannel).Methods(http.MethodPost)
	p.HandleFunc("/calendar-credential", a.putCredential).Methods(http.MethodPut)
	p.HandleFunc("/calendar-credential", a.deleteCredential).Methods(http.MethodDelete)
	p.HandleFunc("/availability-rules", a.listRules).Methods(http.MethodGet)
	p.HandleFunc("/availability-rules", a.putRule).Methods(http.MethodPost)
	p.HandleFunc("/availability-rules/{ruleId}", a.putRule).Methods(http.MethodPut)
	p.HandleFunc("/availability-rules/{ruleId}", a.deleteRule).Methods(http.MethodDelete)
	p.HandleFunc("/appointment-types", a.listAppointmentTypes).Methods(http.MethodGet)
	p.HandleFunc("/appointment-types", a.putAppointmentType).Methods(http.MethodPost)
	p.HandleFunc("/appointment-types/{typeId}", a.putAppointmentType).Methods(http.MethodPut)
	p.HandleFunc("/appointment-types/{typeId}", a.deleteAppointmentType).Methods(http.MethodDelete)
	p.HandleFunc("/booking-rules", a.getBookingRules).Methods(http.MethodGet)
	p.HandleFunc("/booking-rules", a.putBookingRules).Methods(http.MethodPut)
	p.HandleFunc("/blocked-intervals", a.listBlockedIntervals).Methods(http.MethodGet)
	p.HandleFunc("/blocked-intervals", a.putBlockedInterval).Methods(http.MethodPost)
	p.HandleFunc("/blocked-intervals/{intervalId}", a.putBlockedInterval).Methods(http.MethodPut)
	p.HandleFunc("/blocked-intervals/{intervalId}", a.deleteBlockedInterval).Methods(http.MethodDelete)
	p.HandleFunc("/slots", a.listSlots).Methods(http.MethodGet)
	p.HandleFunc("/slots/generate", a.generateSlots).Methods(http.MethodPost)
	p.HandleFunc("/appointments", a.bookAppointment).Methods(http.MethodPost)
	p.HandleFunc("/appointments/{appointmentId}/status", a.updateAppointmentStatus).Methods(http.MethodPost)

	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.ping != nil {
		if err := a.ping(r.Context()); err != nil {
			a.log.WarnContext(r.Context(), "health check failed", slog.Any("err", err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func providerID(r *http.Request) string {
	return mux.Vars(r)["providerId"]
}

func parseUUID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
