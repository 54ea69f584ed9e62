package idtokenverifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetrics(t *testing.T) {
	var metrics Metrics = &NoopMetrics{}
	metrics.IncCounter("anything", nil)
	metrics.ObserveHistogram("anything", 1.5, nil)
	metrics.SetGauge("anything", 2.5, nil)
}

func TestPrometheusMetrics(t *testing.T) {
	// Metric names are unique per test run because MustRegister uses the
	// process-global registry.
	metrics := NewPrometheusMetrics()

	t.Run("counters", func(t *testing.T) {
		assert.NotPanics(t, func() {
			metrics.IncCounter("idtv_test_counter_total", map[string]string{"outcome": "ok"})
			metrics.IncCounter("idtv_test_counter_total", map[string]string{"outcome": "ok"})
			metrics.IncCounter("idtv_test_counter_total", map[string]string{"outcome": "failed"})
		})
	})

	t.Run("histograms", func(t *testing.T) {
		assert.NotPanics(t, func() {
			metrics.ObserveHistogram("idtv_test_duration_seconds", 0.25, map[string]string{"op": "verify"})
			metrics.ObserveHistogram("idtv_test_duration_seconds", 0.5, map[string]string{"op": "verify"})
		})
	})

	t.Run("gauges", func(t *testing.T) {
		assert.NotPanics(t, func() {
			metrics.SetGauge("idtv_test_cached_keys", 3, map[string]string{"source": "direct"})
			metrics.SetGauge("idtv_test_cached_keys", 5, map[string]string{"source": "direct"})
		})
	})
}

type countingMetrics struct {
	counts map[string]int
}

func (m *countingMetrics) IncCounter(name string, tags map[string]string) {
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[name]++
}
func (m *countingMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (m *countingMetrics) SetGauge(string, float64, map[string]string)         {}

func TestVerifierEmitsMetrics(t *testing.T) {
	kp := newTestKeyPair(t, "key-1")
	metrics := &countingMetrics{}
	verifier := newTestVerifier(t, kp.provider(), WithMetrics(metrics))

	_, err := verifier.Verify(context.Background(), kp.signToken(t, validClaims()))
	assert.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "garbage")
	assert.Error(t, err)

	assert.Equal(t, 1, metrics.counts[MetricVerificationSuccess])
	assert.Equal(t, 1, metrics.counts[MetricVerificationFailures])
}
