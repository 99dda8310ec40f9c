package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	waitsTotal      *prometheus.CounterVec
	waitDuration    *prometheus.HistogramVec
	checksTotal     *prometheus.CounterVec
	serviceTimeouts *prometheus.CounterVec
	foreground      *prometheus.CounterVec
}

// NewPrometheusRecorder registers the uisync collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		waitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uisync_waits_total",
				Help: "Total number of finished waits by condition kind and outcome",
			},
			[]string{"condition", "outcome"},
		),
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uisync_wait_duration_seconds",
				Help:    "Time spent waiting for a condition",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"condition", "outcome"},
		),
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uisync_checks_total",
				Help: "Total number of condition checks performed",
			},
			[]string{"condition"},
		),
		serviceTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uisync_service_timeouts_total",
				Help: "Total number of accessibility service calls that timed out or failed",
			},
			[]string{"operation"},
		),
		foreground: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uisync_foreground_changes_total",
				Help: "Total number of foreground activity changes observed",
			},
			[]string{"package"},
		),
	}
}

// ObserveWait records metrics for a finished wait.
func (p *PrometheusRecorder) ObserveWait(kind, outcome string, checks int, elapsed time.Duration) {
	p.waitsTotal.WithLabelValues(kind, outcome).Inc()
	p.waitDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
	p.checksTotal.WithLabelValues(kind).Add(float64(checks))
}

// IncServiceTimeout increments the service timeout counter.
func (p *PrometheusRecorder) IncServiceTimeout(operation string) {
	p.serviceTimeouts.WithLabelValues(operation).Inc()
}

// IncForegroundChange counts a foreground change to an activity of pkg. An
// empty pkg means nothing is resumed.
func (p *PrometheusRecorder) IncForegroundChange(pkg string) {
	if pkg == "" {
		pkg = "none"
	}
	p.foreground.WithLabelValues(pkg).Inc()
}
