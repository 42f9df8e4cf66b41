// Package metrics exposes process lifecycle events as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benaskins/procwatch/internal/process"
)

// Sink records process events into its own Prometheus registry.
type Sink struct {
	starts        *prometheus.CounterVec
	startFailures *prometheus.CounterVec
	exits         *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	streamErrors  *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	uptime        *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Sink. An empty namespace defaults to "procwatch".
func New(namespace string) *Sink {
	if namespace == "" {
		namespace = "procwatch"
	}

	s := &Sink{registry: prometheus.NewRegistry()}

	s.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Total number of child processes started",
		},
		[]string{"process"},
	)
	s.startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_start_failures_total",
			Help:      "Total number of child processes that could not be started",
		},
		[]string{"process"},
	)
	s.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Total number of child process exits",
		},
		[]string{"process", "outcome"},
	)
	s.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Total number of supervised restarts",
		},
		[]string{"process"},
	)
	s.streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_stream_errors_total",
			Help:      "Total number of output stream failures",
		},
		[]string{"process", "channel"},
	)
	s.settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_settlements_total",
			Help:      "Total number of settled process futures by result",
		},
		[]string{"process", "result"},
	)
	s.uptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_uptime_seconds",
			Help:      "Uptime of child processes at exit",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
		},
		[]string{"process"},
	)

	s.registry.MustRegister(
		s.starts,
		s.startFailures,
		s.exits,
		s.restarts,
		s.streamErrors,
		s.settlements,
		s.uptime,
	)
	return s
}

// Registry returns the registry backing the sink.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the sink's metrics in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Record implements process.EventSink.
func (s *Sink) Record(ev process.Event) {
	name := ev.Process
	switch ev.Kind {
	case process.EventStarted:
		s.starts.WithLabelValues(name).Inc()
	case process.EventStartFailed:
		s.startFailures.WithLabelValues(name).Inc()
	case process.EventExited:
		outcome := "success"
		if ev.ExitCode != 0 {
			outcome = "failure"
		}
		s.exits.WithLabelValues(name, outcome).Inc()
		s.uptime.WithLabelValues(name).Observe(ev.UpTime.Seconds())
	case process.EventRestarting:
		s.restarts.WithLabelValues(name).Inc()
	case process.EventStreamError:
		s.streamErrors.WithLabelValues(name, string(ev.Channel)).Inc()
	case process.EventSettled:
		s.settlements.WithLabelValues(name, settleResult(ev.Err)).Inc()
	}
}

func settleResult(err error) string {
	var (
		exitErr      *process.ExitError
		startErr     *process.StartError
		streamErr    *process.StreamError
		exhaustedErr *process.ExhaustedError
	)
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, process.ErrTimeout):
		return "timeout"
	case errors.Is(err, process.ErrCancelled):
		return "cancelled"
	case errors.Is(err, process.ErrDiscarded):
		return "discarded"
	case errors.As(err, &exhaustedErr):
		return "exhausted"
	case errors.As(err, &startErr):
		return "start_failed"
	case errors.As(err, &streamErr):
		return "stream_error"
	case errors.As(err, &exitErr):
		return "exit_code"
	default:
		return "error"
	}
}
