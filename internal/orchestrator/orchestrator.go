// Package orchestrator builds one generation of agent workers from a
// configuration and tears it down again.
package orchestrator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/platform"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

const wakeTimeout = time.Second

// Worker is one long-lived goroutine of a generation. Run must return once
// ctx is cancelled.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Generation is the set of workers built from one configuration. WakeURL,
// when set, is requested once before the generation is cancelled.
type Generation struct {
	Workers []Worker
	WakeURL string
}

// Builder creates the workers of a generation. Resources acquired by a
// Builder that fails must be released before it returns.
type Builder func(ctx context.Context, cfg *config.Config) (*Generation, error)

// Deps are the process-wide collaborators shared by every generation.
type Deps struct {
	Store   *store.Store
	Caps    platform.Capabilities
	Version string
	Events  *events.EventLogger
	Metrics *otel.Metrics
	Tracer  *otel.Tracer
	// Reload is invoked by workers that changed the configuration on disk.
	Reload func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBuilder replaces the builder that assembles the agent's workers.
func WithBuilder(b Builder) Option {
	return func(o *Orchestrator) { o.build = b }
}

// WithHTTPClient sets the client used for the wake request.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = hc }
}

// Orchestrator owns the running generation.
type Orchestrator struct {
	deps       Deps
	build      Builder
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	group      *errgroup.Group
	generation *Generation
	spawned    int
}

// New creates an Orchestrator. Nothing runs until SpawnAll.
func New(deps Deps, opts ...Option) *Orchestrator {
	if deps.Store == nil {
		deps.Store = store.New()
	}
	if deps.Events == nil {
		deps.Events = events.NoopEventLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = otel.NoopMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.NoopTracer()
	}
	if deps.Reload == nil {
		deps.Reload = func() {}
	}

	o := &Orchestrator{
		deps:   deps,
		logger: deps.Events.Logger(),
		httpClient: &http.Client{
			Timeout: wakeTimeout,
			Transport: &http.Transport{
				// The wake request targets the agent itself, which may serve a
				// certificate issued for another name.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
	}
	o.build = o.defaultBuilder
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SpawnAll builds and starts a generation from cfg. It is a no-op while a
// generation is running. Workers stop when ctx is cancelled or ShutdownAll
// is called.
func (o *Orchestrator) SpawnAll(ctx context.Context, cfg *config.Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group != nil {
		return nil
	}

	genCtx, cancel := context.WithCancel(ctx)
	gen, err := o.build(genCtx, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("spawn workers: %w", err)
	}

	group, groupCtx := errgroup.WithContext(genCtx)
	for _, w := range gen.Workers {
		w := w
		group.Go(func() error {
			o.deps.Events.LogWorker(w.Name, "started")
			err := w.Run(groupCtx)
			o.deps.Events.LogWorker(w.Name, "stopped")
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}

	o.cancel = cancel
	o.group = group
	o.generation = gen
	o.spawned++
	return nil
}

// ShutdownAll stops the running generation and waits for every worker to
// return. It is a no-op when nothing is running.
func (o *Orchestrator) ShutdownAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group == nil {
		return nil
	}

	o.wake(o.generation.WakeURL)
	o.cancel()
	err := o.group.Wait()

	o.cancel = nil
	o.group = nil
	o.generation = nil
	if err != nil {
		o.logger.Error("worker failed", "error", err)
	}
	return err
}

// Running reports whether a generation is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.group != nil
}

// Generations returns how many generations have been spawned.
func (o *Orchestrator) Generations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spawned
}

// WakeURL returns the webserver URL of the running generation, or "".
func (o *Orchestrator) WakeURL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation == nil {
		return ""
	}
	return o.generation.WakeURL
}

// Store returns the result store shared by all generations.
func (o *Orchestrator) Store() *store.Store {
	return o.deps.Store
}

func (o *Orchestrator) wake(url string) {
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wakeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Debug("wake request failed", "url", url, "error", err)
		return
	}
	_ = resp.Body.Close()
}
