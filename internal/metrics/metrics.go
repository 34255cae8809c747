// Package metrics exposes engine counters. Services take a Recorder so tests can pass Nop.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Recorder interface {
	SlotsGenerated(n int)
	SlotsSkipped(reason string, n int)
	SyncRun(result string)
	EventReconciled(outcome string)
	FullResync()
	ChannelRenewal(result string)
	HTTPRequest(route, method string, status int, elapsed time.Duration)
}

type Nop struct{}

func (Nop) SlotsGenerated(int)                             {}
func (Nop) SlotsSkipped(string, int)                       {}
func (Nop) SyncRun(string)                                 {}
func (Nop) EventReconciled(string)                         {}
func (Nop) FullResync()                                    {}
func (Nop) ChannelRenewal(string)                          {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}

type Prometheus struct {
	slotsGenerated  prometheus.Counter
	slotsSkipped    *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	syncEvents      *prometheus.CounterVec
	fullResyncs     prometheus.Counter
	channelRenewals *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the engine collectors on reg.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		slotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_generated_total",
			Help:      "Slots created by generation runs.",
		}),
		slotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_skipped_total",
			Help:      "Days or candidate slots skipped during generation, by reason.",
		}, []string{"reason"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Processed push notifications, by result.",
		}, []string{"result"}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      "Reconciled external events, by outcome.",
		}, []string{"outcome"}),
		fullResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_resyncs_total",
			Help:      "Full resyncs triggered by an invalidated sync token.",
		}),
		channelRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_renewals_total",
			Help:      "Push channel renewals, by result.",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	for _, c := range []prometheus.Collector{
		p.slotsGenerated, p.slotsSkipped, p.syncRuns, p.syncEvents,
		p.fullResyncs, p.channelRenewals, p.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) SlotsGenerated(n int) {
	if n > 0 {
		p.slotsGenerated.Add(float64(n))
	}
}

func (p *Prometheus) SlotsSkipped(reason string, n int) {
	if n > 0 {
		p.slotsSkipped.WithLabelValues(reason).Add(float64(n))
	}
}

func (p *Prometheus) SyncRun(result string) {
	p.syncRuns.WithLabelValues(result).Inc()
}

func (p *Prometheus) EventReconciled(outcome string) {
	p.syncEvents.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) FullResync() {
	p.fullResyncs.Inc()
}

func (p *Prometheus) ChannelRenewal(result string) {
	p.channelRenewals.WithLabelValues(result).Inc()
}

func (p *Prometheus) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	p.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
