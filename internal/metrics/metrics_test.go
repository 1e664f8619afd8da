package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"RPCCallsTotal", RPCCallsTotal},
		{"RPCRateLimitWaits", RPCRateLimitWaits},
		{"CacheRequestsTotal", CacheRequestsTotal},
		{"AggregationLatency", AggregationLatency},
		{"AggregationErrors", AggregationErrors},
		{"TransfersQualified", TransfersQualified},
		{"ItemsSkipped", ItemsSkipped},
		{"BalanceAttempts", BalanceAttempts},
		{"ProfileLookups", ProfileLookups},
		{"ProfileBreakerState", ProfileBreakerState},
		{"HTTPResponsesTotal", HTTPResponsesTotal},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrement(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(ItemsSkipped.WithLabelValues("metrics-test"))
	ItemsSkipped.WithLabelValues("metrics-test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ItemsSkipped.WithLabelValues("metrics-test")))

	assert.NotPanics(t, func() { RPCCallsTotal.WithLabelValues("eth_blockNumber", "ok").Inc() })
	assert.NotPanics(t, func() { CacheRequestsTotal.WithLabelValues("memory", "get", "hit").Inc() })
	assert.NotPanics(t, func() { BalanceAttempts.WithLabelValues("ok").Inc() })
	assert.NotPanics(t, func() { ProfileLookups.WithLabelValues("found").Inc() })
	assert.NotPanics(t, func() { HTTPResponsesTotal.WithLabelValues("200", "HIT").Inc() })
}

func TestMetrics_HistogramAndGauge(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { AggregationLatency.WithLabelValues("ok").Observe(1.5) })
	TransfersQualified.Set(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(TransfersQualified))
}
