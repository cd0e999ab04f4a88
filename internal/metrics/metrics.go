package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordination core collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	LockAcquisitions   *prometheus.CounterVec
	LockReleaseErrors  prometheus.Counter
	Transfers          *prometheus.CounterVec
	TransferDuration   prometheus.Histogram
	RateLimitDecisions *prometheus.CounterVec
	SweepRemovals      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
}

// New builds the collectors and registers them on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_lock_acquisitions_total",
				Help: "Balance lock acquisition attempts by result.",
			},
			[]string{"result"},
		),
		LockReleaseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "balance_lock_release_errors_total",
				Help: "Lock releases that failed and were left to the sweeper.",
			},
		),
		Transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transfers_total",
				Help: "Transfers processed by outcome.",
			},
			[]string{"outcome"},
		),
		TransferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_transfer_duration_seconds",
				Help:    "Time spent applying a transfer, including lock acquisition.",
				Buckets: prometheus.DefBuckets,
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Cooldown gate decisions by action and result.",
			},
			[]string{"action", "result"},
		),
		SweepRemovals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeper_removed_total",
				Help: "Expired coordination records removed by the sweeper.",
			},
			[]string{"kind"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		m.LockAcquisitions,
		m.LockReleaseErrors,
		m.Transfers,
		m.TransferDuration,
		m.RateLimitDecisions,
		m.SweepRemovals,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry over HTTP.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncLockAcquisition(result string) {
	if m == nil {
		return
	}
	m.LockAcquisitions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncLockReleaseError() {
	if m == nil {
		return
	}
	m.LockReleaseErrors.Inc()
}

func (m *Metrics) ObserveTransfer(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(outcome).Inc()
	m.TransferDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncRateLimitDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.RateLimitDecisions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) AddSweepRemovals(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepRemovals.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncHTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, status).Inc()
}
