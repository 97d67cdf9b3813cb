package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"journalflow/internal/events"
)

const namespace = "journalflow"

// Metrics holds the collectors fed from the event bus.
type Metrics struct {
	Registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	roundsOpened     *prometheus.CounterVec
	tasksWithdrawn   *prometheus.CounterVec
	isolatedRuns     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Events raised on the bus by name.",
			},
			[]string{"event"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Committed stage changes.",
			},
			[]string{"from", "to", "override"},
		),
		roundsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rounds_opened_total",
				Help:      "Rounds opened by family.",
			},
			[]string{"family"},
		),
		tasksWithdrawn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_withdrawn_total",
				Help:      "Tasks withdrawn by family and reason.",
			},
			[]string{"family", "reason"},
		),
		isolatedRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "isolated_handler_runs_total",
				Help:      "Background handler executions by outcome.",
			},
			[]string{"handler", "outcome"},
		),
	}
	m.Registry.MustRegister(m.eventsTotal, m.transitionsTotal, m.roundsOpened, m.tasksWithdrawn, m.isolatedRuns)
	return m
}

// Subscribe registers the catch-all observer.
func (m *Metrics) Subscribe(b *events.Builder) {
	events.Subscribe[events.Event](b, "metrics", m.observe)
}

func (m *Metrics) observe(_ context.Context, ev events.Event) error {
	m.eventsTotal.WithLabelValues(string(ev.Name())).Inc()
	switch e := ev.(type) {
	case events.StageChanged:
		m.transitionsTotal.WithLabelValues(string(e.From), string(e.To), strconv.FormatBool(e.Override)).Inc()
	case events.RoundOpened:
		m.roundsOpened.WithLabelValues(string(e.Round.Family)).Inc()
	case events.TaskWithdrawn:
		m.tasksWithdrawn.WithLabelValues(string(e.Task.Family), e.Reason).Inc()
	}
	return nil
}

// ObserveIsolated matches events.IsolationOptions.OnResult.
func (m *Metrics) ObserveIsolated(name string, _ events.Event, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.isolatedRuns.WithLabelValues(name, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
