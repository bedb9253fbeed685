package httphandler

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the collectors of one intake server. Each server registers
// them on its own registry, so concurrent runs in one process report
// independently.
type metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	screenshotsAccepted prometheus.Counter
	screenshotsRejected *prometheus.CounterVec
	screenshotBytes     prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotrun_intake_requests_total",
				Help: "Total number of intake requests received.",
			},
			[]string{"path", "method", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shotrun_intake_request_duration_seconds",
				Help:    "Latency of intake requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		screenshotsAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shotrun_screenshots_accepted_total",
				Help: "Total number of screenshots attached to a build.",
			},
		),
		screenshotsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotrun_screenshots_rejected_total",
				Help: "Total number of screenshot submissions rejected.",
			},
			[]string{"reason"},
		),
		screenshotBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shotrun_screenshot_bytes",
				Help:    "Size of accepted screenshot payloads.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpLatency,
		m.screenshotsAccepted,
		m.screenshotsRejected,
		m.screenshotBytes,
	)
	return m
}
