package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provider lifecycle metrics
	ProvidersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_providers_running",
			Help: "Number of providers currently in the running state",
		},
	)

	ProviderHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_provider_healthy",
			Help: "Provider health by service (1 = healthy, 0 = unhealthy)",
		},
		[]string{"service"},
	)

	ModelDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_model_drift",
			Help: "Whether the deployment model changed on disk since boot (1 = drifted)",
		},
	)

	// Per-service request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_requests_total",
			Help: "Total number of service requests by service and action",
		},
		[]string{"service", "action"},
	)

	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_request_errors_total",
			Help: "Total number of failed service requests by service and error code",
		},
		[]string{"service", "code"},
	)

	// Event-fabric metrics
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_events_dispatched_total",
			Help: "Total number of events dispatched by fabric and outcome",
		},
		[]string{"fabric", "outcome"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_events_dropped_total",
			Help: "Total number of events dropped on full buffers by fabric",
		},
		[]string{"fabric"},
	)

	StreamBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_stream_batch_size",
			Help:    "Records per flushed change-stream batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"table"},
	)

	// Workflow metrics
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_workflow_executions_total",
			Help: "Total number of workflow executions by final status",
		},
		[]string{"status"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state_machine"},
	)

	// Compute metrics
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_invocations_total",
			Help: "Total number of compute invocations by function and outcome",
		},
		[]string{"function", "outcome"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_invocation_duration_seconds",
			Help:    "Compute invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)
)

func init() {
	prometheus.MustRegister(ProvidersRunning)
	prometheus.MustRegister(ProviderHealthy)
	prometheus.MustRegister(ModelDrift)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestErrors)
	prometheus.MustRegister(EventsDispatched)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(StreamBatchSize)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(InvocationDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
