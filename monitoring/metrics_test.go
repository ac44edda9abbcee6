package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveBatch(JobCreate, time.Now().Add(-time.Second), 120, 2)
	m.ObserveBatch(JobCreate, time.Now(), 10, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchFailures.WithLabelValues(JobCreate)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDuration))
	assert.Greater(t, testutil.ToFloat64(m.BatchLastRun.WithLabelValues(JobCreate)), float64(0))
}

func TestMetricsUseOwnRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.SettlementsCreated.Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(a.SettlementsCreated))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SettlementsCreated))
}
