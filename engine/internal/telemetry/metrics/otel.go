package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures the OpenTelemetry-backed Provider.
type OTelProviderOptions struct {
	MeterProvider *sdkmetric.MeterProvider
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOTelProvider constructs a Provider backed by an OpenTelemetry SDK
// meter. If no MeterProvider is supplied, a process-local one with no
// exporter is created (metrics are recorded but not exported) so the
// provider is still usable for in-process testing and snapshotting.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	mp := opts.MeterProvider
	if mp == nil {
		mp = sdkmetric.NewMeterProvider()
	}
	return &otelProvider{
		mp:         mp,
		meter:      mp.Meter("github.com/raceops/ingest"),
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[key]
	if !ok {
		var err error
		c, err = p.meter.Float64Counter(key, metric.WithDescription(opts.Help))
		if err != nil {
			return noopCounter{}
		}
		p.counters[key] = c
	}
	return &otelCounter{c: c}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[key]
	if !ok {
		var err error
		g, err = p.meter.Float64Gauge(key, metric.WithDescription(opts.Help))
		if err != nil {
			return noopGauge{}
		}
		p.gauges[key] = g
	}
	return &otelGauge{g: g}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	key := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[key]
	if !ok {
		var err error
		h, err = p.meter.Float64Histogram(key, metric.WithDescription(opts.Help))
		if err != nil {
			return noopHistogram{}
		}
		p.histograms[key] = h
	}
	return &otelHistogram{h: h}
}

func (p *otelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &promTimer{hist: hist} }
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

type otelCounter struct{ c metric.Float64Counter }

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta)
}

type otelGauge struct{ g metric.Float64Gauge }

func (g *otelGauge) Set(v float64, labels ...string) { g.g.Record(context.Background(), v) }
func (g *otelGauge) Add(delta float64, labels ...string) {
	g.g.Record(context.Background(), delta)
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v)
}
