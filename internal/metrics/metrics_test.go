package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserve(t *testing.T) {
	m := NewPaymentMetrics(prometheus.NewRegistry())

	m.ObserveInitiate("ok")
	m.ObserveInitiate("ok")
	m.ObserveReconcile("credited", 30*time.Millisecond)
	m.ObserveJob("purchase_email", "retry")

	assert.Equal(t, 2.0, counterValue(t, m.InitiateTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, counterValue(t, m.ReconcileTotal.WithLabelValues("credited")))
	assert.Equal(t, 0.0, counterValue(t, m.ReconcileTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, counterValue(t, m.JobTotal.WithLabelValues("purchase_email", "retry")))
}

func TestRegistryGathersFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)
	m.ObserveReconcile("network", time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["payments_reconcile_total"])
	assert.True(t, names["payments_reconcile_duration_seconds"])
}
