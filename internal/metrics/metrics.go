// Package metrics exposes Prometheus collectors for palm reading sessions.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "palmreader"

var (
	// sessionsTotal counts finished sessions by outcome.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished reading sessions",
		},
		[]string{"outcome"}, // done, camera, capture, prediction, canceled
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of reading sessions currently running",
		},
	)

	// detectorFrames counts detector invocations by result.
	detectorFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_frames_total",
			Help:      "Total number of frames submitted to the hand detector",
		},
		[]string{"result"}, // open, closed, none, error
	)

	predictDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_request_duration_seconds",
			Help:      "Duration of prediction requests in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"}, // success, error
	)
)

// Register adds all collectors to reg. Collectors already present in reg
// are left alone, so registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{sessionsTotal, sessionsActive, detectorFrames, predictDuration} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// SessionStarted marks a session as running.
func SessionStarted() {
	sessionsActive.Inc()
}

// SessionFinished records the outcome of a session.
func SessionFinished(outcome string) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// DetectorFrame records one detector invocation.
func DetectorFrame(result string) {
	detectorFrames.WithLabelValues(result).Inc()
}

// PredictRequest records one prediction request.
func PredictRequest(seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	predictDuration.WithLabelValues(status).Observe(seconds)
}
