// Package metrics holds the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "barriers"

type Metrics struct {
	barriersCreated    prometheus.Counter
	barriersSubmitted  prometheus.Counter
	statusTransitions  *prometheus.CounterVec
	historyEntries     prometheus.Counter
	conflicts          prometheus.Counter
	notifications      *prometheus.CounterVec
	savedSearchDeltas  *prometheus.CounterVec
	events             *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		barriersCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_created_total",
			Help:      "Draft barriers created.",
		}),
		barriersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barriers_submitted_total",
			Help:      "Drafts submitted as barriers.",
		}),
		statusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions by target status.",
		}, []string{"status"}),
		historyEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_entries_total",
			Help:      "History entries written.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_conflicts_total",
			Help:      "Mutations that lost the barrier row lock.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		savedSearchDeltas: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_search_deltas_total",
			Help:      "Saved-search deltas computed by cursor.",
		}, []string{"cursor"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Change events published by outcome.",
		}, []string{"outcome"}),
		httpRequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

func (m *Metrics) ReportCreated() {
	if m != nil {
		m.barriersCreated.Inc()
	}
}

func (m *Metrics) BarrierSubmitted() {
	if m != nil {
		m.barriersSubmitted.Inc()
	}
}

func (m *Metrics) StatusTransition(status string) {
	if m != nil {
		m.statusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) HistoryWritten(n int) {
	if m != nil && n > 0 {
		m.historyEntries.Add(float64(n))
	}
}

func (m *Metrics) Conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

// Notification records one delivery attempt; err == nil counts as sent.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SavedSearchDelta(cursor string) {
	if m != nil {
		m.savedSearchDeltas.WithLabelValues(cursor).Inc()
	}
}

func (m *Metrics) EventPublished(err error) {
	if m == nil {
		return
	}
	outcome := "published"
	if err != nil {
		outcome = "failed"
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m != nil {
		m.httpRequestSeconds.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
	}
}
