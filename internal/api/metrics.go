package api

import (
	"net/http"
	"strconv"
	"time"

	"codeberg.org/dltlab/dltcal/internal/process"
	"codeberg.org/dltlab/dltcal/internal/stability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dltcal"

// Metrics exposes the bench state to Prometheus. Gauges are read on scrape.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics(ctrl Controller, readings process.LatestSource, window Window) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reading := func(pick func(r readingValues) float64) func() float64 {
		return func() float64 {
			r, ok := readings.Latest()
			if !ok {
				return 0
			}
			return pick(readingValues{r.TemperatureA, r.TemperatureB, r.HeaterOutput1, r.HeaterOutput2})
		}
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_a_kelvin",
			Help:      "Latest reading of input A.",
		}, reading(func(r readingValues) float64 { return r.a })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_b_kelvin",
			Help:      "Latest reading of input B.",
		}, reading(func(r readingValues) float64 { return r.b })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_output_1_percent",
			Help:      "Latest heater output 1.",
		}, reading(func(r readingValues) float64 { return r.h1 })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_output_2_percent",
			Help:      "Latest heater output 2.",
		}, reading(func(r readingValues) float64 { return r.h2 })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_kelvin",
			Help:      "Current target temperature of the run.",
		}, func() float64 { return ctrl.Status().Setpoint }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captures",
			Help:      "Spectra captured in the current run.",
		}, func() float64 { return float64(ctrl.Status().Captures) }),
		newStateCollector(ctrl),
	)
	if window != nil {
		m.registerWindow(window)
	}
	return m
}

// registerWindow adds gauges over the stability windows. An empty window
// reports NaN for its mean and deviation.
func (m *Metrics) registerWindow(window Window) {
	stat := func(pick func(s stability.Stats) float64) func() float64 {
		return func() float64 { return pick(window.Stats()) }
	}

	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "window_samples",
			Help:      "Samples currently held in the stability window.",
		}, stat(func(s stability.Stats) float64 { return float64(s.Samples) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "window_capacity",
			Help:      "Samples needed before the window can be judged stable.",
		}, stat(func(s stability.Stats) float64 { return float64(s.Capacity) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "primary_mean_kelvin",
			Help:      "Mean of input A over the window.",
		}, stat(func(s stability.Stats) float64 { return s.PrimaryMean })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "primary_std_kelvin",
			Help:      "Standard deviation of input A over the window.",
		}, stat(func(s stability.Stats) float64 { return s.PrimaryStd })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "secondary_mean_kelvin",
			Help:      "Mean of input B over the window.",
		}, stat(func(s stability.Stats) float64 { return s.SecondaryMean })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stability",
			Name:      "secondary_std_kelvin",
			Help:      "Standard deviation of input B over the window.",
		}, stat(func(s stability.Stats) float64 { return s.SecondaryStd })),
	)
}

type readingValues struct{ a, b, h1, h2 float64 }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts and times requests for route.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// stateCollector reports the run state as a one-hot gauge vector.
type stateCollector struct {
	ctrl Controller
	desc *prometheus.Desc
}

var allStates = []process.State{
	process.Idle, process.Settling, process.Stable, process.Capturing,
	process.Advancing, process.Errored, process.Stopped,
}

func newStateCollector(ctrl Controller) *stateCollector {
	return &stateCollector{
		ctrl: ctrl,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "state"),
			"Calibration run state, 1 for the current state.",
			[]string{"state"}, nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	current := c.ctrl.Status().State
	for _, s := range allStates {
		v := 0.0
		if s.String() == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v, s.String())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent events working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
