package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "engine",
			Name:      "predictions_total",
			Help:      "Total predictions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	filteredImagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "engine",
			Name:      "filtered_images_total",
			Help:      "Generated images dropped by the safety filter",
		},
	)

	predictDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diffusiond",
			Subsystem: "engine",
			Name:      "predict_duration_seconds",
			Help:      "Duration of predictions in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, filteredImagesTotal, predictDuration)
}

// outcome maps a Predict error to a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInvalidInput(err):
		return "invalid"
	case IsNoSafeOutput(err):
		return "filtered"
	case IsTooBusy(err):
		return "busy"
	default:
		return "error"
	}
}
