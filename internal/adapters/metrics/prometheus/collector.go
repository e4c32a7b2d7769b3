package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "deployctl"

// Collector records supervisor activity on a private registry.
type Collector struct {
	sessions         prom.Gauge
	sessionsTotal    prom.Counter
	activeProcesses  prom.Gauge
	processesStarted prom.Counter
	processesExited  *prom.CounterVec
	processDuration  prom.Histogram
	stopRequests     prom.Counter
	forcedKills      prom.Counter
	errors           *prom.CounterVec
	stateTransitions *prom.CounterVec

	registry *prom.Registry
}

var _ ports.Metrics = (*Collector)(nil)

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prom.NewRegistry()}

	c.sessions = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_connected",
		Help:      "Number of currently connected sessions",
	})
	c.sessionsTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of sessions opened",
	})
	c.activeProcesses = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "active_processes",
		Help:      "Number of spawned commands that have not exited",
	})
	c.processesStarted = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "processes_started_total",
		Help:      "Total number of commands spawned",
	})
	c.processesExited = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "processes_exited_total",
			Help:      "Total number of commands that exited, by exit code",
		},
		[]string{"exit_code"},
	)
	c.processDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "process_duration_seconds",
		Help:      "Wall time from command start to exit",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})
	c.stopRequests = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stop_requests_total",
		Help:      "Total number of stop requests that found a running command",
	})
	c.forcedKills = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "forced_kills_total",
		Help:      "Total number of process groups killed after the grace period",
	})
	c.errors = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of failed operations",
		},
		[]string{"kind"},
	)
	c.stateTransitions = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "process_state_transitions_total",
			Help:      "Total number of process state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.registry.MustRegister(
		c.sessions,
		c.sessionsTotal,
		c.activeProcesses,
		c.processesStarted,
		c.processesExited,
		c.processDuration,
		c.stopRequests,
		c.forcedKills,
		c.errors,
		c.stateTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	return c
}

func (c *Collector) Registry() *prom.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SessionConnected() {
	c.sessions.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collector) SessionDisconnected() {
	c.sessions.Dec()
}

func (c *Collector) ProcessStarted() {
	c.processesStarted.Inc()
	c.activeProcesses.Inc()
}

func (c *Collector) ProcessExited(exitCode int, runtime time.Duration) {
	c.activeProcesses.Dec()
	c.processesExited.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	c.processDuration.Observe(runtime.Seconds())
}

func (c *Collector) StopRequested() {
	c.stopRequests.Inc()
}

func (c *Collector) ForcedKill() {
	c.forcedKills.Inc()
}

func (c *Collector) OperationFailed(kind string) {
	c.errors.WithLabelValues(kind).Inc()
}

func (c *Collector) StateTransition(from, to domain.ProcessState) {
	c.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
