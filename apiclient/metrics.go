package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh cycle results.
const (
	refreshSucceeded = "success"
	refreshFailed    = "failure"
)

// metrics holds the client's collectors. With a nil registerer the
// collectors still count but are not exported.
type metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	queuedWaiters   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vytara_client_requests_total",
				Help: "Total number of API requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vytara_client_request_duration_seconds",
				Help:    "Duration of API request attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vytara_client_token_refreshes_total",
				Help: "Total number of token refresh cycles by result",
			},
			[]string{"result"},
		),
		queuedWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vytara_client_refresh_waiters",
				Help: "Number of requests waiting for an in-flight token refresh",
			},
		),
	}
}

// outcomeLabel maps an error to the outcome label of vytara_client_requests_total.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	k := KindOf(err)
	if k == 0 {
		return "error"
	}
	return k.String()
}
