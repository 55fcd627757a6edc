package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelsLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "speechd",
			Name:      "models_loaded",
			Help:      "Model instances currently resident",
		},
		[]string{"family"},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speechd",
			Name:      "model_loads_total",
			Help:      "Total model loads by result",
		},
		[]string{"family", "result"},
	)

	modelUnloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speechd",
			Name:      "model_unloads_total",
			Help:      "Total model unloads by reason",
		},
		[]string{"family", "reason"},
	)

	modelLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "speechd",
			Name:      "model_load_seconds",
			Help:      "Duration of model loads in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(modelsLoaded, modelLoadsTotal, modelUnloadsTotal, modelLoadSeconds)
}

// Unload reasons.
const (
	reasonIdle     = "idle"
	reasonExplicit = "explicit"
)
