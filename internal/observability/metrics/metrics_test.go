package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	return m.GetCounter().GetValue()
}

func TestDonorMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDonorMetrics(reg)

	m.ObserveUpstream("sessions", 200, 120*time.Millisecond)
	m.ObserveUpstream("sessions", 0, time.Second)
	m.ObserveReauth(true)
	m.ObserveBooking("booking_helper", false)
	m.ObserveRefresh(true)
	m.SetRefreshInterval(time.Hour)
	m.ObserveMatching("recommended")

	assert.Equal(t, 1.0, counterValue(t, m.upstreamTotal.WithLabelValues("sessions", "200")))
	assert.Equal(t, 1.0, counterValue(t, m.upstreamTotal.WithLabelValues("sessions", "error")))
	assert.Equal(t, 1.0, counterValue(t, m.reauthTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, m.bookingsTotal.WithLabelValues("booking_helper", "failure")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var gaugeSeen bool
	for _, f := range families {
		if f.GetName() == "blooddonor_refresh_interval_seconds" {
			gaugeSeen = true
			assert.Equal(t, 3600.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, gaugeSeen, "refresh interval gauge should be exported")
}

func TestDonorMetricsNilSafe(t *testing.T) {
	var m *DonorMetrics
	m.ObserveUpstream("login", 401, time.Millisecond)
	m.ObserveReauth(false)
	m.ObserveBooking("direct", true)
	m.ObserveRefresh(false)
	m.SetRefreshInterval(time.Minute)
	m.ObserveMatching("error")
}
