// Package metrics exposes Prometheus metrics for enrollment operations.
//
// Metrics are registered with a private registry and served over HTTP for
// scraping. All recorder methods are safe to call on a nil *Recorder so that
// tests and tools can run without instrumentation.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
)

const namespace = "enrollment"

// OutcomeOK labels a successful operation.
const OutcomeOK = "ok"

// Recorder records operation outcomes, latencies and counter drift.
type Recorder struct {
	prom       *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      *prometheus.CounterVec
	lastAudit  prometheus.Gauge
}

// NewRecorder creates a Recorder backed by a fresh registry that also
// carries the standard Go and process collectors.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	r := &Recorder{
		prom: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Enrollment operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Enrollment operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_drift_total",
			Help:      "Participant counters found out of step with their registrations.",
		}, []string{"repaired"}),
		lastAudit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "counter_audit_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed counter audit.",
		}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration, r.drift, r.lastAudit} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering enrollment metrics: %w", err)
		}
	}
	return r, nil
}

// Handler returns an http.Handler for the /metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Observe records one call of operation that took d and ended with err.
func (r *Recorder) Observe(operation string, err error, d time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, Outcome(err)).Inc()
	r.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// Drift records counters found by an audit.
func (r *Recorder) Drift(found int, repaired bool) {
	if r == nil || found == 0 {
		return
	}
	label := "false"
	if repaired {
		label = "true"
	}
	r.drift.WithLabelValues(label).Add(float64(found))
}

// AuditCompleted stamps the time of the last finished audit.
func (r *Recorder) AuditCompleted(at time.Time) {
	if r == nil {
		return
	}
	r.lastAudit.Set(float64(at.Unix()))
}

// Outcome maps err to a metric label: "ok" for nil, otherwise the lowercase
// failure kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}
