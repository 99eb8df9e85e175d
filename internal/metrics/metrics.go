package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SearchMetrics counts discovery and booking activity for long unattended
// runs. A nil *SearchMetrics is valid and records nothing.
type SearchMetrics struct {
	sweeps        prometheus.Counter
	centerQueries *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	logins        *prometheus.CounterVec
}

func NewSearchMetrics(reg prometheus.Registerer) *SearchMetrics {
	m := &SearchMetrics{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vaxsched",
			Subsystem: "discovery",
			Name:      "sweeps_total",
			Help:      "Completed or started sweeps over the region's centers",
		}),
		centerQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaxsched",
			Subsystem: "discovery",
			Name:      "center_queries_total",
			Help:      "Appointment queries per center by result",
		}, []string{"result"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaxsched",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by result",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaxsched",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login and OTP outcomes",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sweeps, m.centerQueries, m.bookings, m.logins)
	return m
}

func (m *SearchMetrics) ObserveSweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

// ObserveCenterQuery takes "found", "not_found", "error" or "blocked".
func (m *SearchMetrics) ObserveCenterQuery(result string) {
	if m == nil {
		return
	}
	m.centerQueries.WithLabelValues(result).Inc()
}

func (m *SearchMetrics) ObserveBooking(success bool) {
	if m == nil {
		return
	}
	label := "failed"
	if success {
		label = "booked"
	}
	m.bookings.WithLabelValues(label).Inc()
}

func (m *SearchMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// Handler serves the given gatherer in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
