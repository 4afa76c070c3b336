package orchestrator

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/auth"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/autossl"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/checks"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/customcheck"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/push"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/remote"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/webserver"
)

const remoteTimeout = 30 * time.Second

// defaultBuilder wires the agent's workers for cfg: webserver, check runner
// and custom check engine always; push client in push mode; certificate
// renewer in push mode with autossl.
func (o *Orchestrator) defaultBuilder(ctx context.Context, cfg *config.Config) (*Generation, error) {
	d := o.deps

	// Custom checks are parsed by config.Load; the file is not read here.
	custom := cfg.Checks
	if custom == nil {
		custom = &config.CustomChecks{}
	}

	var client *remote.Client
	var err error
	if cfg.PushEnabled() {
		client, err = remote.NewClient(remote.Config{
			BaseURL: cfg.OITC.URL,
			APIKey:  cfg.OITC.APIKey,
			Proxy:   cfg.OITC.Proxy,
			Timeout: remoteTimeout,
			Retry:   remote.DefaultRetryConfig(),
		},
			remote.WithPropagator(d.Tracer.Propagator()),
			remote.WithLogger(d.Events.Logger()),
		)
		if err != nil {
			return nil, err
		}
	}

	var manager *autossl.Manager
	if cfg.AutosslEnabled() {
		var poster autossl.Poster
		if client != nil {
			poster = client
		}
		manager = autossl.NewManager(autossl.FilesFromConfig(cfg), cfg.OITC.HostUUID, poster,
			autossl.WithOnInstalled(d.Reload),
			autossl.WithEvents(d.Events),
			autossl.WithMetrics(d.Metrics),
			autossl.WithTracer(d.Tracer),
		)
	}

	server, err := o.newServer(cfg, manager)
	if err != nil {
		return nil, err
	}
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start webserver: %w", err)
	}

	registry := checks.FromConfig(cfg, d.Caps, d.Version)
	runner := checks.NewRunner(registry, d.Store, cfg.CheckInterval(),
		checks.WithEvents(d.Events),
		checks.WithMetrics(d.Metrics),
	)
	engine := customcheck.NewEngine(custom, d.Store, customcheck.NewExecutor(d.Caps),
		customcheck.WithEvents(d.Events),
		customcheck.WithMetrics(d.Metrics),
	)

	gen := &Generation{
		WakeURL: server.URL() + "/",
		Workers: []Worker{
			{Name: "webserver", Run: server.Wait},
			{Name: "checks", Run: runner.Run},
			{Name: "customchecks", Run: engine.Run},
		},
	}

	if client != nil {
		opts := []push.Option{
			push.WithCircuitBreaker(push.NewBreaker(cfg.PushInterval())),
			push.WithEvents(d.Events),
			push.WithMetrics(d.Metrics),
			push.WithTracer(d.Tracer),
		}
		if manager != nil {
			opts = append(opts, push.WithChecksum(manager.Checksum))
		}
		pusher := push.NewClient(client, d.Store, cfg.OITC.HostUUID, cfg.PushInterval(), opts...)
		gen.Workers = append(gen.Workers, Worker{Name: "push", Run: pusher.Run})

		if manager != nil {
			renewer := autossl.NewRenewer(manager, autossl.WithRenewerEvents(d.Events))
			gen.Workers = append(gen.Workers, Worker{Name: "autossl", Run: renewer.Run})
		}
	}

	return gen, nil
}

func (o *Orchestrator) newServer(cfg *config.Config, manager *autossl.Manager) (*webserver.Server, error) {
	d := o.deps

	tlsConfig, err := o.serverTLS(cfg, manager)
	if err != nil {
		return nil, err
	}

	authConfig := auth.DefaultConfig()
	if user, password, ok := cfg.Credentials(); ok {
		authConfig = auth.BasicConfig(user, password)
	}

	opts := webserver.Options{
		Addr:           cfg.ListenAddr(),
		Store:          d.Store,
		Auth:           auth.NewMiddleware(authConfig, nil),
		TLS:            tlsConfig,
		Reload:         d.Reload,
		Metrics:        d.Metrics.Handler(),
		ServiceName:    cfg.Telemetry.ServiceName,
		TracerProvider: d.Tracer.TracerProvider(),
		Logger:         d.Events.Logger(),
	}
	if manager != nil {
		opts.Certificates = manager
	}
	if cfg.Default.ConfigUpdateMode {
		opts.ConfigFiles = config.NewDocumentFiles(cfg)
	}
	return webserver.New(opts), nil
}

// serverTLS prefers the autossl certificate, then certfile/keyfile, then
// plain HTTP.
func (o *Orchestrator) serverTLS(cfg *config.Config, manager *autossl.Manager) (*tls.Config, error) {
	if manager != nil && manager.Available() {
		tlsConfig, err := manager.ServerTLSConfig()
		if err == nil {
			return tlsConfig, nil
		}
		o.logger.Warn("autossl certificate unusable, falling back", "error", err)
	}
	if cfg.Default.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Default.CertFile, cfg.Default.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certfile: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}
	return nil, nil
}
