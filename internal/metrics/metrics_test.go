package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := PrometheusMetrics(reg, "test")
	require.NoError(t, err)

	m.ObserveCall("clear", "ok", 500)
	m.ObserveCall("clear", "wrong_period", 125)
	m.ObserveCall("clear", "ok", 700)
	m.ClearedQuantity.Add(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calls.WithLabelValues("clear", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("clear", "wrong_period")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ClearedQuantity))

	_, err = PrometheusMetrics(reg, "test")
	assert.Error(t, err, "registering twice must fail")
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	assert.NotPanics(t, func() { m.ObserveCall("submit_bid", "ok", 300) })
}
