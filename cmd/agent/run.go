package main

import (
	"context"
	"fmt"
	"time"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/lifecycle"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/orchestrator"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/platform"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

const telemetryShutdownTimeout = 5 * time.Second

func (c *cli) telemetryConfig() (*otel.Config, error) {
	exporter, err := otel.ParseExporterType(c.cfg.Telemetry.Exporter)
	if err != nil {
		return nil, err
	}
	tc := otel.DefaultConfig()
	if c.cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = c.cfg.Telemetry.ServiceName
	}
	tc.ServiceVersion = version
	tc.ExporterType = exporter
	tc.OTLPEndpoint = c.cfg.Telemetry.Endpoint
	tc.OTLPInsecure = c.cfg.Telemetry.Insecure
	if c.cfg.OITC.HostUUID != "" {
		tc.Attributes = map[string]string{"host.uuid": c.cfg.OITC.HostUUID}
	}
	return tc, nil
}

func (c *cli) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tc, err := c.telemetryConfig()
	if err != nil {
		return err
	}
	tracer, err := otel.NewTracer(ctx, tc)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	metrics, err := otel.NewMetrics(ctx, tc)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutCtx); err != nil {
			c.logger.Warn("metrics shutdown error", "error", err)
		}
		if err := tracer.Shutdown(shutCtx); err != nil {
			c.logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	el := events.NewEventLogger(c.logger)
	caps := platform.Detect()

	var lc *lifecycle.Lifecycle
	orch := orchestrator.New(orchestrator.Deps{
		Store:   store.New(),
		Caps:    caps,
		Version: version,
		Events:  el,
		Metrics: metrics,
		Tracer:  tracer,
		Reload:  func() { lc.RequestReload() },
	})
	lc = lifecycle.New(orch, c.cfg,
		lifecycle.WithEvents(el),
		lifecycle.WithMetrics(metrics),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lc.HandleSignals(ctx)

	c.logger.Info("agent starting",
		"version", version,
		"os", string(caps.OS),
		"listen", c.cfg.ListenAddr(),
		"push", c.cfg.PushEnabled(),
		"autossl", c.cfg.AutosslEnabled(),
	)
	if err := lc.Run(ctx); err != nil {
		return err
	}
	c.logger.Info("agent stopped")
	return nil
}
