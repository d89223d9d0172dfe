package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourusername/gallop/pkg/gallop/http11"
)

// Request outcomes recorded in gallop_requests_total
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeBadRequest  = "bad_request"
	OutcomeTooLarge    = "too_large"
	OutcomeAborted     = "aborted"
	OutcomeHandlerFail = "handler_panic"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	requests      *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	limitExceeded *prometheus.CounterVec
	headerBytes   prometheus.Histogram
	activeConns   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gallop",
				Name:      "requests_total",
				Help:      "Total number of requests by outcome",
			},
			[]string{"outcome"},
		),
		parseErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gallop",
				Name:      "parse_errors_total",
				Help:      "Total number of request heads rejected by the parser",
			},
			[]string{"kind"},
		),
		limitExceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gallop",
				Name:      "limit_exceeded_total",
				Help:      "Total number of request elements over their size limit",
			},
			[]string{"field"},
		),
		headerBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gallop",
				Name:      "header_bytes",
				Help:      "Size of parsed request heads in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 7),
			},
		),
		activeConns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gallop",
				Name:      "active_connections",
				Help:      "Number of connections currently being served",
			},
		),
	}
}

func (m *Metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordParseError(err error) {
	if m == nil {
		return
	}
	if le, ok := http11.IsLimitError(err); ok {
		m.parseErrors.WithLabelValues("limit").Inc()
		m.limitExceeded.WithLabelValues(le.Field.String()).Inc()
		return
	}
	m.parseErrors.WithLabelValues("malformed").Inc()
}

func (m *Metrics) observeHead(n int) {
	if m == nil {
		return
	}
	m.headerBytes.Observe(float64(n))
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.activeConns.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.activeConns.Dec()
	}
}
