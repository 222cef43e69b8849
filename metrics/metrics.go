package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "durex"

// Metrics groups the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations    *prometheus.CounterVec
	checkpointHits *prometheus.CounterVec
	pending        *prometheus.GaugeVec
	dangling       *prometheus.CounterVec
	workers        prometheus.Gauge
	signals        *prometheus.GaugeVec
	signalResults  *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// NewRegistry returns a registry carrying the standard Go and process collectors.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}
	return reg, nil
}

// New registers every collector with reg. A nil reg gets a fresh, empty registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Activity invocations by terminal outcome.",
		}, []string{"activity", "outcome"}),
		checkpointHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_hits_total",
			Help:      "Invocations resolved from a stored checkpoint without contacting a worker.",
		}, []string{"activity"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_invocations",
			Help:      "Invocations dispatched to a worker and awaiting a reply.",
		}, []string{"script"}),
		dangling: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dangling_total",
			Help:      "Replies or results that arrived with nobody waiting for them.",
		}, []string{"source"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_contexts",
			Help:      "Live worker contexts in the cluster.",
		}),
		signals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signals_in_flight",
			Help:      "Signals posted and not yet completed.",
		}, []string{"channel"}),
		signalResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Completed signals by outcome.",
		}, []string{"channel", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from dispatching an input to its reply.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"activity"}),
	}

	for _, c := range []prometheus.Collector{
		m.invocations, m.checkpointHits, m.pending, m.dangling,
		m.workers, m.signals, m.signalResults, m.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveInvocation(activity, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(activity, outcome).Inc()
}

func (m *Metrics) CheckpointHit(activity string) {
	if m == nil {
		return
	}
	m.checkpointHits.WithLabelValues(activity).Inc()
}

func (m *Metrics) PendingAdd(script string, delta float64) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(script).Add(delta)
}

func (m *Metrics) Dangling(source string) {
	if m == nil {
		return
	}
	m.dangling.WithLabelValues(source).Inc()
}

func (m *Metrics) WorkersAdd(delta float64) {
	if m == nil {
		return
	}
	m.workers.Add(delta)
}

func (m *Metrics) SignalsAdd(channel string, delta float64) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(channel).Add(delta)
}

func (m *Metrics) SignalDone(channel, outcome string) {
	if m == nil {
		return
	}
	m.signalResults.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) ObserveDispatch(activity string, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(activity).Observe(seconds)
}
