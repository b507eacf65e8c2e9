package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/workflow"
)

// Metrics collects message, action and run statistics on its own registry
type Metrics struct {
	registry *prometheus.Registry
	messages *prometheus.CounterVec
	unknown  *prometheus.CounterVec
	actions  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	runs     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiretamper_messages_total",
				Help: "Messages sent and received",
			},
			[]string{"protocol", "direction", "kind"},
		),
		unknown: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiretamper_unknown_messages_total",
				Help: "Received units no variant could parse",
			},
			[]string{"protocol"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiretamper_actions_total",
				Help: "Executed trace actions",
			},
			[]string{"type"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiretamper_action_errors_total",
				Help: "Trace actions that returned an error",
			},
			[]string{"type"},
		),
		runs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wiretamper_run_duration_seconds",
				Help:    "Duration of test case runs",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"protocol", "verdict"},
		),
	}
	m.registry.MustRegister(m.messages, m.unknown, m.actions, m.failed, m.runs)
	return m
}

// Hooks to attach to a run
func (m *Metrics) Hooks() workflow.Hooks {
	return workflow.Hooks{
		OnActionDone: func(_ int, a workflow.Action, err error) {
			m.actions.WithLabelValues(string(a.Type())).Inc()
			if err != nil {
				m.failed.WithLabelValues(string(a.Type())).Inc()
			}
		},
		OnMessage: func(e workflow.MessageEvent) {
			m.messages.WithLabelValues(e.Protocol, e.Direction.String(), e.Message.Kind().String()).Inc()
			if e.Direction == workflow.Received && message.IsUnknown(e.Message) {
				m.unknown.WithLabelValues(e.Protocol).Inc()
			}
		},
	}
}

// ObserveRun records the duration of a finished run
func (m *Metrics) ObserveRun(r *Report) {
	m.runs.WithLabelValues(r.Protocol, string(r.Verdict)).Observe(r.Duration.Seconds())
}

// Registry exposes the collectors, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
