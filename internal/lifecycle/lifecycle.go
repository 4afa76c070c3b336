// Package lifecycle drives the agent process: it spawns the worker
// generation, reloads it on request and shuts it down on stop.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
)

// DefaultPollInterval bounds how long the driver sleeps without a wake-up.
const DefaultPollInterval = 100 * time.Millisecond

// Flags is the driver state. Loop is cleared on stop, JoinThreads is set on
// reload and SpawnThreads is set whenever a generation has to be started.
type Flags struct {
	Loop         bool
	SpawnThreads bool
	JoinThreads  bool
}

// Spawner starts and stops worker generations.
type Spawner interface {
	SpawnAll(ctx context.Context, cfg *config.Config) error
	ShutdownAll() error
}

// Loader reads the configuration file at path.
type Loader func(path string) (*config.Config, error)

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLoader replaces config.Load.
func WithLoader(fn Loader) Option {
	return func(l *Lifecycle) { l.load = fn }
}

// WithEvents sets the event logger.
func WithEvents(el *events.EventLogger) Option {
	return func(l *Lifecycle) { l.events = el }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *otel.Metrics) Option {
	return func(l *Lifecycle) { l.metrics = m }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Lifecycle) { l.poll = d }
}

// Lifecycle owns the flags and the configuration currently in effect.
type Lifecycle struct {
	spawner Spawner
	load    Loader
	events  *events.EventLogger
	metrics *otel.Metrics
	poll    time.Duration

	mu    sync.Mutex
	flags Flags
	wake  chan struct{}

	current    *config.Config
	lastGood   *config.Config
	reloading  bool
	generation int
}

// New creates a Lifecycle that will spawn cfg first.
func New(spawner Spawner, cfg *config.Config, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		spawner: spawner,
		load:    config.Load,
		events:  events.NoopEventLogger(),
		metrics: otel.NoopMetrics(),
		poll:    DefaultPollInterval,
		flags:   Flags{Loop: true, SpawnThreads: true},
		wake:    make(chan struct{}, 1),
		current: cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Flags returns a copy of the current flags.
func (l *Lifecycle) Flags() Flags {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flags
}

// Config returns the configuration of the running or next generation.
func (l *Lifecycle) Config() *config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Generation returns how many generations were spawned.
func (l *Lifecycle) Generation() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// RequestStop ends the driver loop after the running generation is joined.
func (l *Lifecycle) RequestStop() {
	l.update(func(f *Flags) { f.Loop = false })
}

// RequestReload joins the running generation, reloads the configuration
// and spawns a new generation.
func (l *Lifecycle) RequestReload() {
	l.update(func(f *Flags) { f.JoinThreads = true })
}

func (l *Lifecycle) update(fn func(*Flags)) {
	l.mu.Lock()
	fn(&l.flags)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// HandleSignals maps SIGINT and SIGTERM to RequestStop and SIGHUP to
// RequestReload until ctx is cancelled.
func (l *Lifecycle) HandleSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		l.handleSignals(ctx, ch)
	}()
}

func (l *Lifecycle) handleSignals(ctx context.Context, ch <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			l.events.Logger().Info("signal received", "signal", sig.String())
			if sig == syscall.SIGHUP {
				l.RequestReload()
			} else {
				l.RequestStop()
			}
		}
	}
}

// Run drives the agent until RequestStop is called or ctx is cancelled.
// Only a failure to spawn the first generation is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	defer func() {
		if err := l.spawner.ShutdownAll(); err != nil {
			l.events.Logger().Error("shutdown failed", "error", err)
		}
	}()

	for {
		f := l.Flags()
		if !f.Loop || ctx.Err() != nil {
			return nil
		}

		if f.JoinThreads {
			l.join(ctx)
			continue
		}
		if f.SpawnThreads {
			if err := l.spawn(ctx); err != nil {
				return err
			}
			if !l.Flags().SpawnThreads {
				continue
			}
		}

		l.idle(ctx)
	}
}

func (l *Lifecycle) idle(ctx context.Context) {
	timer := time.NewTimer(l.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-l.wake:
	case <-timer.C:
	}
}

// join stops the running generation and loads the next configuration.
// The previous configuration stays in effect if loading fails.
func (l *Lifecycle) join(ctx context.Context) {
	if err := l.spawner.ShutdownAll(); err != nil {
		l.events.Logger().Warn("workers stopped with error", "error", err)
	}

	cfg, err := l.load(l.Config().Path)
	if err != nil {
		l.reloadDone(ctx, l.Generation(), err)
	}

	l.mu.Lock()
	if err == nil {
		if cfg.Telemetry != l.current.Telemetry {
			l.events.Logger().Warn("telemetry settings changed, restart the agent to apply them")
		}
		l.current = cfg
	}
	l.reloading = err == nil
	l.flags.JoinThreads = false
	l.flags.SpawnThreads = true
	l.mu.Unlock()
}

// spawn starts a generation from the current configuration. A failure
// after the first generation falls back to the last configuration that
// spawned successfully; SpawnThreads stays set so the driver retries.
func (l *Lifecycle) spawn(ctx context.Context) error {
	l.mu.Lock()
	cfg := l.current
	first := l.lastGood == nil
	reloading := l.reloading
	l.reloading = false
	l.mu.Unlock()

	err := l.spawner.SpawnAll(ctx, cfg)
	if err != nil && first {
		return fmt.Errorf("start agent: %w", err)
	}

	l.mu.Lock()
	if err != nil {
		l.current = l.lastGood
	} else {
		l.lastGood = cfg
		l.generation++
		l.flags.SpawnThreads = false
	}
	gen := l.generation
	l.mu.Unlock()

	if err != nil {
		l.events.Logger().Error("spawn failed, restoring previous configuration", "error", err)
	}
	if reloading {
		l.reloadDone(ctx, gen, err)
	}
	return nil
}

func (l *Lifecycle) reloadDone(ctx context.Context, gen int, err error) {
	l.events.LogReload(gen, err)
	l.metrics.RecordReload(ctx, err)
}
