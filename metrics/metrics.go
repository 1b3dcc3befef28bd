// Package metrics exposes the counters and gauges the orchestrator and
// broker maintain, via rcrowley/go-metrics registered counters (the same
// library the teacher uses for its miner/timelimitreached-style counters
// in work/worker.go) fronted by a Prometheus HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry holds every counter/gauge this process exposes, registered
// both with go-metrics (for internal use and logging) and with a
// Prometheus collector (for HTTP scraping).
type Registry struct {
	registry gometrics.Registry

	TokensCreated        gometrics.Counter
	TransitionsFired     gometrics.Counter
	TransitionsNotReady  gometrics.Counter
	TransitionsReenabled gometrics.Counter
	DispatchSubmitted    gometrics.Counter
	DispatchSucceeded    gometrics.Counter
	DispatchFailed       gometrics.Counter
	InvalidMessages      gometrics.Counter
	PublisherNacks       gometrics.Counter
}

func New() *Registry {
	r := gometrics.NewRegistry()
	return &Registry{
		registry:             r,
		TokensCreated:        gometrics.NewRegisteredCounter("flowmesh/tokens_created", r),
		TransitionsFired:     gometrics.NewRegisteredCounter("flowmesh/transitions_fired", r),
		TransitionsNotReady:  gometrics.NewRegisteredCounter("flowmesh/transitions_not_ready", r),
		TransitionsReenabled: gometrics.NewRegisteredCounter("flowmesh/transitions_reenabled", r),
		DispatchSubmitted:    gometrics.NewRegisteredCounter("flowmesh/dispatch_submitted", r),
		DispatchSucceeded:    gometrics.NewRegisteredCounter("flowmesh/dispatch_succeeded", r),
		DispatchFailed:       gometrics.NewRegisteredCounter("flowmesh/dispatch_failed", r),
		InvalidMessages:      gometrics.NewRegisteredCounter("flowmesh/invalid_messages", r),
		PublisherNacks:       gometrics.NewRegisteredCounter("flowmesh/publisher_nacks", r),
	}
}

// counters maps every field above to its exported name, so Collector can
// walk them generically instead of hand-listing each one twice. Being a
// map, it yields them in no fixed order.
func (r *Registry) counters() map[string]gometrics.Counter {
	return map[string]gometrics.Counter{
		"tokens_created":        r.TokensCreated,
		"transitions_fired":     r.TransitionsFired,
		"transitions_not_ready": r.TransitionsNotReady,
		"transitions_reenabled": r.TransitionsReenabled,
		"dispatch_submitted":    r.DispatchSubmitted,
		"dispatch_succeeded":    r.DispatchSucceeded,
		"dispatch_failed":       r.DispatchFailed,
		"invalid_messages":      r.InvalidMessages,
		"publisher_nacks":       r.PublisherNacks,
	}
}

// Collector adapts Registry to prometheus.Collector, translating each
// go-metrics Counter's current count into a Prometheus counter sample on
// every scrape.
type Collector struct {
	reg *Registry
}

func NewCollector(r *Registry) *Collector { return &Collector{reg: r} }

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for name := range c.reg.counters() {
		ch <- prometheus.NewDesc("flowmesh_"+name, "flowmesh counter "+name, nil, nil)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, counter := range c.reg.counters() {
		desc := prometheus.NewDesc("flowmesh_"+name, "flowmesh counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(counter.Count()))
	}
}

// Handler returns the HTTP handler to mount at /metrics for scraping.
func Handler(r *Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(r))
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}
