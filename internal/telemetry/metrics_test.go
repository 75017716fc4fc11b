package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRPCIncrementsCounterAndHistogram(t *testing.T) {
	m := NewMetrics()
	m.ObserveRPC("Directory", "RegisterActionServer", "ok", 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RPCRequestsTotal.WithLabelValues("Directory", "RegisterActionServer", "ok")))
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	families, err := m.Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
