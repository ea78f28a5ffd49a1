package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NoError(t, c.Register(reg))

	c.ObserveReconcile("rotate", 3)
	c.ObserveReconcile("rotate", 1)
	c.AddRetentionDeleted("sessions", 2)
	c.AddRetentionDeleted("sessions", 0)
	c.ObservePixel("tracked")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconciliations.WithLabelValues("rotate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retentionDeleted.WithLabelValues("sessions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pixelOpens.WithLabelValues("tracked")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveReconcile("new", 1)
	c.AddRetentionDeleted("sessions", 5)
	c.ObservePixel("error")
	c.ObserveRequestLog("ok")
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))
	assert.Error(t, New().Register(reg))
}
