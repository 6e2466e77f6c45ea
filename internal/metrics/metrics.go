package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing, so packages can take one without caring whether it is wired.
type Metrics struct {
	// Booking metrics
	BookingAttempts   *prometheus.CounterVec
	BookingTransition *prometheus.CounterVec
	SlotLocks         *prometheus.CounterVec

	// Availability metrics
	ComputeLatency prometheus.Histogram
	SlotsComputed  prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Worker metrics
	BookingsCompleted prometheus.Counter
}

// New registers all application metrics on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BookingAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		BookingTransition: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking status changes by target status",
		}, []string{"status"}),
		SlotLocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "slot_locks_total",
			Help:      "Slot lock acquisitions by result",
		}, []string{"result"}),
		ComputeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "compute_duration_seconds",
			Help:      "Time spent loading and computing one provider day",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		SlotsComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "slots_computed_total",
			Help:      "Slots produced by the availability calculator",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BookingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "bookings_completed_total",
			Help:      "Approved bookings moved to COMPLETED by the worker",
		}),
	}
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.BookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.BookingTransition.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveLock(result string) {
	if m == nil {
		return
	}
	m.SlotLocks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCompute(started time.Time, slots int) {
	if m == nil {
		return
	}
	m.ComputeLatency.Observe(time.Since(started).Seconds())
	m.SlotsComputed.Add(float64(slots))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) ObserveCompleted(n int) {
	if m == nil {
		return
	}
	m.BookingsCompleted.Add(float64(n))
}
