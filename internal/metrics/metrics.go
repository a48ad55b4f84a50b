// Package metrics exposes Prometheus metrics fed from the event bus plus a
// collector that reads live sizes on each scrape.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedwatch/internal/alert"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/monitor"
	"feedwatch/internal/session"
)

const namespace = "feedwatch"

var states = []session.State{session.StateAsleep, session.StateWarmingUp, session.StateActive, session.StateCooldown}

// Sources are read on every scrape. Nil funcs are skipped.
type Sources struct {
	SeenLen            func() int
	TargetsByTier      func() map[string]int
	ActiveDestinations func() int
}

type Metrics struct {
	reg *prometheus.Registry

	items     *prometheus.CounterVec
	fetchErrs prometheus.Counter
	cycles    prometheus.Histogram
	deliver   *prometheus.CounterVec
	alerts    *prometheus.CounterVec
	dormant   prometheus.Counter
	state     *prometheus.GaugeVec
}

func New(src Sources) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_total",
			Help: "Discovered items by outcome.",
		}, []string{"outcome"}),
		fetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_errors_total",
			Help: "Target fetches that failed.",
		}),
		cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_cycle_seconds",
			Help:    "Duration of a full poll cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		deliver: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_results_total",
			Help: "Per-destination delivery results.",
		}, []string{"destination", "outcome", "fallback"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alert limiter decisions.",
		}, []string{"decision"}),
		dormant: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "targets_dormant_total",
			Help: "Targets moved to the dormant collection.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_state",
			Help: "1 for the current scheduler state.",
		}, []string{"state"}),
	}
	m.reg.MustRegister(
		m.items, m.fetchErrs, m.cycles, m.deliver, m.alerts, m.dormant, m.state,
		&liveCollector{src: src},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range states {
		m.state.WithLabelValues(string(s)).Set(0)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe folds one event into the metrics.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case monitor.EventCycleDone:
		rep, ok := e.Data.(monitor.CycleReport)
		if !ok {
			return
		}
		m.cycles.Observe(rep.Took.Seconds())
		m.items.WithLabelValues("dispatched").Add(float64(rep.Dispatched))
		m.items.WithLabelValues("duplicate").Add(float64(rep.Duplicate))
		m.items.WithLabelValues("stale").Add(float64(rep.Stale))
		m.items.WithLabelValues("unparsed").Add(float64(rep.Unparsed))
		m.items.WithLabelValues("failed").Add(float64(rep.Failed))
		m.fetchErrs.Add(float64(rep.Errors))
	case monitor.EventTargetDormant:
		m.dormant.Inc()
	case dispatch.EventResult:
		r, ok := e.Data.(dispatch.Result)
		if !ok {
			return
		}
		outcome := "ok"
		if !r.OK {
			outcome = "failed"
		}
		m.deliver.WithLabelValues(r.Destination, outcome, strconv.FormatBool(r.Fallback)).Inc()
	case alert.EventRaised:
		m.alerts.WithLabelValues("raised").Inc()
	case alert.EventSuppressed:
		m.alerts.WithLabelValues("suppressed").Inc()
	case alert.EventSummary:
		m.alerts.WithLabelValues("summary").Inc()
	case alert.EventFailed:
		m.alerts.WithLabelValues("failed").Inc()
	case session.EventState:
		tr, ok := e.Data.(session.Transition)
		if !ok {
			return
		}
		for _, s := range states {
			v := 0.0
			if s == tr.To {
				v = 1
			}
			m.state.WithLabelValues(string(s)).Set(v)
		}
	}
}

var (
	seenDesc = prometheus.NewDesc(
		namespace+"_seen_fingerprints",
		"Fingerprints in the seen-set.",
		nil, nil,
	)
	targetsDesc = prometheus.NewDesc(
		namespace+"_targets",
		"Registered targets by tier; dormant targets are counted separately.",
		[]string{"tier"}, nil,
	)
	destinationsDesc = prometheus.NewDesc(
		namespace+"_destinations_active",
		"Destinations that passed validation and are enabled.",
		nil, nil,
	)
)

// liveCollector reads current sizes on each scrape.
type liveCollector struct {
	src Sources
}

func (c *liveCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- seenDesc
	ch <- targetsDesc
	ch <- destinationsDesc
}

func (c *liveCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src.SeenLen != nil {
		ch <- prometheus.MustNewConstMetric(seenDesc, prometheus.GaugeValue, float64(c.src.SeenLen()))
	}
	if c.src.TargetsByTier != nil {
		for tier, n := range c.src.TargetsByTier() {
			ch <- prometheus.MustNewConstMetric(targetsDesc, prometheus.GaugeValue, float64(n), tier)
		}
	}
	if c.src.ActiveDestinations != nil {
		ch <- prometheus.MustNewConstMetric(destinationsDesc, prometheus.GaugeValue, float64(c.src.ActiveDestinations()))
	}
}
