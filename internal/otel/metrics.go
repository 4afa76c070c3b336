package otel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Check kinds used as the "kind" attribute.
const (
	KindBuiltin = "builtin"
	KindCustom  = "custom"
)

// Metrics wraps an OpenTelemetry meter provider with agent-specific instruments.
type Metrics struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	handler       http.Handler
	mu            sync.Mutex

	checkRuns      metric.Int64Counter
	checkDuration  metric.Float64Histogram
	customTimeouts metric.Int64Counter
	pushRequests   metric.Int64Counter
	certExchanges  metric.Int64Counter
	configReloads  metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *Config) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Metrics{config: cfg}

	if cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		if err := m.registerInstruments(); err != nil {
			return nil, fmt.Errorf("failed to register metric instruments: %w", err)
		}
		return m, nil
	}

	reader, err := m.createReader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	return m, m.init(sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	))
}

// newMetricsWithReader wires the instruments to an explicit reader.
func newMetricsWithReader(cfg *Config, reader sdkmetric.Reader) (*Metrics, error) {
	m := &Metrics{config: cfg}
	return m, m.init(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
}

func (m *Metrics) init(mp *sdkmetric.MeterProvider) error {
	m.meterProvider = mp
	m.meter = mp.Meter(m.config.ServiceName)
	m.shutdown = mp.Shutdown
	if err := m.registerInstruments(); err != nil {
		return fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return nil
}

func (m *Metrics) createReader(ctx context.Context, cfg *Config) (sdkmetric.Reader, error) {
	switch cfg.ExporterType {
	case ExporterPrometheus:
		registry := promclient.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		return exp, nil

	case ExporterStdout:
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.checkRuns, err = m.meter.Int64Counter(
		"agent.check.runs",
		metric.WithDescription("Number of check executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create check runs counter: %w", err)
	}

	m.checkDuration, err = m.meter.Float64Histogram(
		"agent.check.duration",
		metric.WithDescription("Check execution time in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000),
	)
	if err != nil {
		return fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.customTimeouts, err = m.meter.Int64Counter(
		"agent.customcheck.timeouts",
		metric.WithDescription("Number of custom checks killed after their timeout"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create custom check timeout counter: %w", err)
	}

	m.pushRequests, err = m.meter.Int64Counter(
		"agent.push.requests",
		metric.WithDescription("Number of check result pushes"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create push counter: %w", err)
	}

	m.certExchanges, err = m.meter.Int64Counter(
		"agent.autossl.exchanges",
		metric.WithDescription("Number of certificate exchanges with the monitoring server"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create certificate exchange counter: %w", err)
	}

	m.configReloads, err = m.meter.Int64Counter(
		"agent.config.reloads",
		metric.WithDescription("Number of configuration reloads"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reload counter: %w", err)
	}

	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCheck records one check execution.
func (m *Metrics) RecordCheck(ctx context.Context, kind, name string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("check", name),
		attribute.String("status", status(err)),
	)
	m.checkRuns.Add(ctx, 1, attrs)
	m.checkDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordCustomCheckTimeout records a custom check that was killed.
func (m *Metrics) RecordCustomCheckTimeout(ctx context.Context, name string) {
	m.customTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("check", name)))
}

// RecordPush records a push attempt.
func (m *Metrics) RecordPush(ctx context.Context, err error) {
	m.pushRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordCertificateExchange records a certificate exchange and its outcome.
func (m *Metrics) RecordCertificateExchange(ctx context.Context, outcome string) {
	m.certExchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReload records a configuration reload.
func (m *Metrics) RecordReload(ctx context.Context, err error) {
	m.configReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// Handler returns the scrape handler, or nil unless the prometheus exporter is used.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() metric.MeterProvider {
	return m.meterProvider
}

// Shutdown flushes pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(context.Background(), DefaultConfig())
	return m
}
