package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// VerdictFail labels predictions above the decision threshold.
	VerdictFail = "fail"
	// VerdictOK labels predictions at or below the decision threshold.
	VerdictOK = "ok"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failcast",
			Name:      "predictions_total",
			Help:      "Total number of predictions served, partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	inferenceSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "failcast",
			Name:      "inference_seconds",
			Help:      "Normalize and forward-pass latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	inferenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failcast",
			Name:      "inference_errors_total",
			Help:      "Total number of failed classifier forward passes.",
		},
	)

	shapeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failcast",
			Name:      "shape_errors_total",
			Help:      "Total number of windows rejected for an invalid shape.",
		},
	)

	syntheticRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failcast",
			Name:      "synthetic_rows_total",
			Help:      "Total number of telemetry rows zero-filled after an acquisition failure.",
		},
	)

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failcast",
			Name:      "output_dropped_total",
			Help:      "Total number of predictions shed by a full output queue, partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	lastProbability = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "failcast",
			Name:      "last_probability",
			Help:      "Failure probability of the most recent prediction.",
		},
	)
)

// Register attaches failcast collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		inferenceSeconds,
		inferenceErrorsTotal,
		shapeErrorsTotal,
		syntheticRowsTotal,
		droppedTotal,
		lastProbability,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInference records forward-pass latency and counts failures.
func ObserveInference(duration time.Duration, err error) {
	if err != nil {
		inferenceErrorsTotal.Inc()
		return
	}
	if duration < 0 {
		duration = 0
	}
	inferenceSeconds.Observe(duration.Seconds())
}

// ObservePrediction records a served prediction.
func ObservePrediction(probability float64, willFail bool) {
	label := VerdictOK
	if willFail {
		label = VerdictFail
	}
	predictionsTotal.WithLabelValues(label).Inc()
	lastProbability.Set(probability)
}

// ObserveShapeError counts a rejected window.
func ObserveShapeError() {
	shapeErrorsTotal.Inc()
}

// ObserveSyntheticRow counts one zero-filled telemetry row.
func ObserveSyntheticRow() {
	syntheticRowsTotal.Inc()
}

// ObserveDroppedPrediction counts a prediction shed by a full output queue.
func ObserveDroppedPrediction(willFail bool) {
	label := VerdictOK
	if willFail {
		label = VerdictFail
	}
	droppedTotal.WithLabelValues(label).Inc()
}
