package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordControllerRequest(t *testing.T) {
	before := testutil.ToFloat64(controllerRequests.WithLabelValues("activate", "400"))
	RecordControllerRequest("activate", 400)
	RecordControllerRequest("activate", 400)
	after := testutil.ToFloat64(controllerRequests.WithLabelValues("activate", "400"))

	assert.Equal(t, 2.0, after-before)
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("deactivate", "ok"))
	RecordTransition("deactivate", "ok", 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(transitions.WithLabelValues("deactivate", "ok"))-before)
}

func TestInflightGauge(t *testing.T) {
	before := testutil.ToFloat64(inflightRequests)
	IncInflight()
	IncInflight()
	DecInflight()
	assert.Equal(t, 1.0, testutil.ToFloat64(inflightRequests)-before)
	DecInflight()
}

func TestRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})
}
