package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// StepsTotal counts recorded timeline steps by step name and outcome.
	StepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dharani",
		Subsystem: "lifecycle",
		Name:      "steps_total",
		Help:      "Timeline steps recorded, labeled by step and result (ok, error).",
	}, []string{"step", "result"})

	// FallbacksTotal counts every locally substituted value, by kind
	// (message, analysis, address).
	FallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dharani",
		Subsystem: "lifecycle",
		Name:      "fallbacks_total",
		Help:      "Collaborator failures replaced by a fallback value, labeled by kind.",
	}, []string{"kind"})

	// RunsInFlight is the number of lifecycle runs currently executing.
	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dharani",
		Subsystem: "lifecycle",
		Name:      "runs_in_flight",
		Help:      "Lifecycle runs currently executing in this process.",
	})

	// RunDurationSeconds is the wall time of one lifecycle run, by final status.
	RunDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dharani",
		Subsystem: "lifecycle",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a lifecycle run including pacing.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"status"})

	// DispatchTotal counts lifecycle hand-offs by dispatcher and result.
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dharani",
		Subsystem: "lifecycle",
		Name:      "dispatch_total",
		Help:      "Lifecycle tasks handed to a dispatcher, labeled by dispatcher (pool, asynq) and result.",
	}, []string{"dispatcher", "result"})

	// BinsGeneratedTotal counts cold-start bins written.
	BinsGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dharani",
		Subsystem: "bins",
		Name:      "generated_total",
		Help:      "Collection points created by cold-start generation.",
	})

	// CollectionConflictsTotal counts compare-and-swap collections that lost.
	CollectionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dharani",
		Subsystem: "bins",
		Name:      "collection_conflicts_total",
		Help:      "Mark-collected calls rejected because the fill level changed underneath them.",
	})
)

// Register registers all collectors with the default registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			StepsTotal,
			FallbacksTotal,
			RunsInFlight,
			RunDurationSeconds,
			DispatchTotal,
			BinsGeneratedTotal,
			CollectionConflictsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
