// Package metrics defines the Prometheus collectors exported by tmaster.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tmaster"

var (
	controllerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "requests_total",
			Help:      "Control requests answered, by operation and HTTP status code.",
		},
		[]string{"op", "code"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "master",
			Name:      "transitions_total",
			Help:      "Topology state transitions attempted, by operation and outcome.",
		},
		[]string{"op", "status"},
	)
	transitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "master",
			Name:      "transition_duration_seconds",
			Help:      "Time from a transition request to its completion.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)
	inflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "inflight_requests",
			Help:      "Control requests accepted but not yet released.",
		},
	)
)

var registerMetrics sync.Once

// Register adds all collectors to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(controllerRequests)
		reg.MustRegister(transitions)
		reg.MustRegister(transitionDuration)
		reg.MustRegister(inflightRequests)
	})
}

// RecordControllerRequest counts one answered control request
func RecordControllerRequest(op string, code int) {
	controllerRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// RecordTransition counts one completed transition and observes its latency
func RecordTransition(op, status string, d time.Duration) {
	transitions.WithLabelValues(op, status).Inc()
	transitionDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncInflight marks a request as owned by a handler
func IncInflight() {
	inflightRequests.Inc()
}

// DecInflight marks a request as released
func DecInflight() {
	inflightRequests.Dec()
}
