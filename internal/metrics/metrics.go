package metrics

import (
	"net/http"

	"vpngw/internal/ippool"
	"vpngw/internal/saga"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpngw"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	poolPairs = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pairs",
			Help:      "IP pairs in the pool by state.",
		},
		[]string{"state"},
	)

	sagaRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "runs_total",
			Help:      "Finished transaction chain runs by outcome.",
		},
		[]string{"chain", "outcome"},
	)

	sagaStepFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "step_failures_total",
			Help:      "Steps that broke a chain and triggered rollback.",
		},
		[]string{"chain", "step"},
	)

	sagaRollbackFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "rollback_failures_total",
			Help:      "Compensations that failed and left external state inconsistent.",
		},
		[]string{"chain", "step"},
	)

	httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObservePool publishes an allocator status. It is used as the allocator's
// observer and must stay cheap.
func ObservePool(status ippool.Status) {
	poolPairs.WithLabelValues("total").Set(float64(status.Size))
	poolPairs.WithLabelValues("allocated").Set(float64(status.Allocated))
	poolPairs.WithLabelValues("pending").Set(float64(status.Pending))
	poolPairs.WithLabelValues("free").Set(float64(status.Free))
}

// ObserveSaga counts terminal transitions of transaction chain runs.
func ObserveSaga(t saga.Transition) {
	switch t.Phase {
	case saga.PhaseCommitted:
		sagaRuns.WithLabelValues(t.Chain, string(t.Phase)).Inc()
	case saga.PhaseRolledBack:
		sagaRuns.WithLabelValues(t.Chain, string(t.Phase)).Inc()
		sagaStepFailures.WithLabelValues(t.Chain, t.Step).Inc()
	case saga.PhaseRollbackFailed:
		sagaRuns.WithLabelValues(t.Chain, string(t.Phase)).Inc()
		sagaRollbackFailures.WithLabelValues(t.Chain, t.Step).Inc()
	}
}

// Instrument wraps an API handler with request counting and latency.
func Instrument(route string, next http.Handler) http.Handler {
	counted := promhttp.InstrumentHandlerCounter(httpRequests.MustCurryWith(prometheus.Labels{"route": route}), next)
	return promhttp.InstrumentHandlerDuration(httpDuration.MustCurryWith(prometheus.Labels{"route": route}), counted)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
