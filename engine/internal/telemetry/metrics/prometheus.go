package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProviderOptions configures the Prometheus-backed Provider.
type PrometheusProviderOptions struct {
	Registry *prometheus.Registry
}

type prometheusProvider struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusProvider constructs a Provider backed by a dedicated
// Prometheus registry, exposing it via MetricsHandler() for the engine
// facade to mount on an HTTP mux.
func NewPrometheusProvider(opts PrometheusProviderOptions) Provider {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &prometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func fqName(o CommonOpts) string {
	parts := make([]string, 0, 3)
	if o.Namespace != "" {
		parts = append(parts, o.Namespace)
	}
	if o.Subsystem != "" {
		parts = append(parts, o.Subsystem)
	}
	parts = append(parts, o.Name)
	return strings.Join(parts, "_")
}

func (p *prometheusProvider) NewCounter(opts CounterOpts) Counter {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	cv, ok := p.counters[key]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, Name: opts.Name, Help: opts.Help,
		}, opts.Labels)
		p.reg.MustRegister(cv)
		p.counters[key] = cv
	}
	return &promCounter{vec: cv, labelNames: opts.Labels}
}

func (p *prometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	gv, ok := p.gauges[key]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, Name: opts.Name, Help: opts.Help,
		}, opts.Labels)
		p.reg.MustRegister(gv)
		p.gauges[key] = gv
	}
	return &promGauge{vec: gv, labelNames: opts.Labels}
}

func (p *prometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	hv, ok := p.histograms[key]
	if !ok {
		buckets := opts.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, Name: opts.Name, Help: opts.Help, Buckets: buckets,
		}, opts.Labels)
		p.reg.MustRegister(hv)
		p.histograms[key] = hv
	}
	return &promHistogram{vec: hv, labelNames: opts.Labels}
}

func (p *prometheusProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &promTimer{hist: hist} }
}

func (p *prometheusProvider) Health(context.Context) error { return nil }

// MetricsHandler exposes the underlying registry for HTTP scraping.
func (p *prometheusProvider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

type promCounter struct {
	vec        *prometheus.CounterVec
	labelNames []string
}

func (c *promCounter) Inc(delta float64, labels ...string) {
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct {
	vec        *prometheus.GaugeVec
	labelNames []string
}

func (g *promGauge) Set(v float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(v) }
func (g *promGauge) Add(delta float64, labels ...string) {
	g.vec.WithLabelValues(labels...).Add(delta)
}

type promHistogram struct {
	vec        *prometheus.HistogramVec
	labelNames []string
}

func (h *promHistogram) Observe(v float64, labels ...string) {
	h.vec.WithLabelValues(labels...).Observe(v)
}

type promTimer struct {
	hist Histogram
}

func (t *promTimer) ObserveDuration(labels ...string) {
	t.hist.Observe(1, labels...)
}
