package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DonorMetrics exposes counters/histograms for upstream calls, bookings and refreshes.
type DonorMetrics struct {
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	reauthTotal     *prometheus.CounterVec
	bookingsTotal   *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	refreshInterval prometheus.Gauge
	matchingTotal   *prometheus.CounterVec
}

func NewDonorMetrics(reg prometheus.Registerer) *DonorMetrics {
	m := &DonorMetrics{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blooddonor",
			Name:      "upstream_requests_total",
			Help:      "Requests sent to the blood donation service, by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blooddonor",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of blood donation service requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		reauthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blooddonor",
			Name:      "reauth_total",
			Help:      "Re-login attempts triggered by 401 responses",
		}, []string{"outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blooddonor",
			Name:      "bookings_total",
			Help:      "Booking attempts by source and outcome",
		}, []string{"source", "outcome"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blooddonor",
			Name:      "refresh_total",
			Help:      "Account snapshot refreshes by outcome",
		}, []string{"outcome"}),
		refreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blooddonor",
			Name:      "refresh_interval_seconds",
			Help:      "Currently scheduled refresh interval",
		}),
		matchingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blooddonor",
			Name:      "matching_runs_total",
			Help:      "Booking helper runs by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.upstreamTotal, m.upstreamLatency, m.reauthTotal, m.bookingsTotal,
		m.refreshTotal, m.refreshInterval, m.matchingTotal)
	return m
}

// ObserveUpstream records one upstream call. status 0 means the request never got a response.
func (m *DonorMetrics) ObserveUpstream(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamTotal.WithLabelValues(endpoint, label).Inc()
	m.upstreamLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *DonorMetrics) ObserveReauth(success bool) {
	if m == nil {
		return
	}
	m.reauthTotal.WithLabelValues(outcome(success)).Inc()
}

func (m *DonorMetrics) ObserveBooking(source string, success bool) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(source, outcome(success)).Inc()
}

func (m *DonorMetrics) ObserveRefresh(success bool) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome(success)).Inc()
}

func (m *DonorMetrics) SetRefreshInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.refreshInterval.Set(d.Seconds())
}

// ObserveMatching records a booking helper run; result is a short label such as
// "recommended", "booked", "no_sessions".
func (m *DonorMetrics) ObserveMatching(result string) {
	if m == nil {
		return
	}
	m.matchingTotal.WithLabelValues(result).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
