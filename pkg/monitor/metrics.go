package monitor

import (
	"errors"
	"net/http"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Messages     *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	DataSets     prometheus.Counter
	ReadDuration prometheus.Histogram
}

// NewMetrics registers the readout metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec62056_messages_total",
			Help: "Data messages received, by protocol mode",
		}, []string{"mode"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec62056_errors_total",
			Help: "Failed readouts and listen errors, by kind",
		}, []string{"kind"}),
		DataSets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iec62056_data_sets_total",
			Help: "Data sets received",
		}),
		ReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iec62056_read_duration_seconds",
			Help:    "Duration of polled readouts",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
	m.registry.MustRegister(
		m.Messages,
		m.Errors,
		m.DataSets,
		m.ReadDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMessage(msg *iec62056.DataMessage) {
	m.Messages.WithLabelValues(msg.ProtocolMode().String()).Inc()
	m.DataSets.Add(float64(len(msg.DataSets())))
}

// ObserveRead records a polled readout. A nil msg counts the error.
func (m *Metrics) ObserveRead(msg *iec62056.DataMessage, err error, took time.Duration) {
	m.ReadDuration.Observe(took.Seconds())
	if err != nil {
		m.ObserveError(err)
		return
	}
	m.ObserveMessage(msg)
}

func (m *Metrics) ObserveError(err error) {
	m.Errors.WithLabelValues(ErrorKind(err)).Inc()
}

// ErrorKind maps an engine error to a metric label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, iec62056.ErrTimeout):
		return "timeout"
	case errors.Is(err, iec62056.ErrClosed):
		return "closed"
	case errors.Is(err, iec62056.ErrChecksum):
		return "checksum"
	case errors.Is(err, iec62056.ErrRejected):
		return "rejected"
	case errors.Is(err, iec62056.ErrFraming):
		return "framing"
	case errors.Is(err, iec62056.ErrConfig):
		return "config"
	}
	return "other"
}
