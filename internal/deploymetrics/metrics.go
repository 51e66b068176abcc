package deploymetrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded by ObserveDeployment.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var durationBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200}

// Metrics holds the worker's collectors.
type Metrics struct {
	deployments   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	uploadedFiles prometheus.Counter
	inFlight      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Collectors that are already
// registered are reused.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staticdeploy",
			Subsystem: "worker",
			Name:      "deployments_total",
			Help:      "Number of processed deployment jobs by outcome",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "staticdeploy",
			Subsystem: "worker",
			Name:      "deployment_duration_seconds",
			Help:      "Duration of deployment pipeline runs",
			Buckets:   durationBuckets,
		}, []string{"outcome"}),
		uploadedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staticdeploy",
			Subsystem: "worker",
			Name:      "uploaded_files_total",
			Help:      "Number of files uploaded to object storage",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "staticdeploy",
			Subsystem: "worker",
			Name:      "deployments_in_flight",
			Help:      "Number of deployments currently running",
		}),
		gatherer: gatherer,
	}

	m.deployments = register(reg, m.deployments)
	m.duration = register(reg, m.duration)
	m.uploadedFiles = register(reg, m.uploadedFiles)
	m.inFlight = register(reg, m.inFlight)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Start marks one deployment as running. The returned func records it as
// finished with outcome, the error kind (empty on success) and the number
// of uploaded files.
func (m *Metrics) Start() func(outcome, kind string, uploadedFiles int) {
	start := time.Now()
	m.inFlight.Inc()
	return func(outcome, kind string, uploadedFiles int) {
		m.inFlight.Dec()
		m.ObserveDeployment(outcome, kind, time.Since(start))
		m.uploadedFiles.Add(float64(uploadedFiles))
	}
}

// ObserveDeployment records one finished or rejected job.
func (m *Metrics) ObserveDeployment(outcome, kind string, duration time.Duration) {
	m.deployments.With(prometheus.Labels{"outcome": outcome, "kind": kind}).Inc()
	if outcome != OutcomeRejected {
		m.duration.With(prometheus.Labels{"outcome": outcome}).Observe(duration.Seconds())
	}
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
