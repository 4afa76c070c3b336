package checks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

// DefaultConcurrency bounds the number of checks of one batch running at once.
const DefaultConcurrency = 3

// Runner executes every registered check once per interval. Ticks arrive
// every second; a tick is skipped while the previous batch is still running.
type Runner struct {
	registry    *Registry
	store       *store.Store
	interval    int
	concurrency int
	tickEvery   time.Duration
	events      *events.EventLogger
	metrics     *otel.Metrics

	counter int
	busy    atomic.Bool
	wg      sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEvents sets the event logger.
func WithEvents(el *events.EventLogger) RunnerOption {
	return func(r *Runner) { r.events = el }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *otel.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTickInterval overrides the one second tick.
func WithTickInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tickEvery = d
		}
	}
}

// NewRunner creates a runner executing registry every interval ticks.
func NewRunner(registry *Registry, st *store.Store, interval time.Duration, opts ...RunnerOption) *Runner {
	ticks := int(interval / time.Second)
	if ticks < 1 {
		ticks = 1
	}
	r := &Runner{
		registry:    registry,
		store:       st,
		interval:    ticks,
		concurrency: DefaultConcurrency,
		tickEvery:   time.Second,
		events:      events.NoopEventLogger(),
		metrics:     otel.NoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks until ctx is cancelled, then waits for the running batch.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()
	defer r.wg.Wait()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick advances the interval counter and starts a batch when it is due.
// It reports whether a batch was started.
func (r *Runner) tick(ctx context.Context) bool {
	due := r.counter == 0
	r.counter++
	if r.counter >= r.interval {
		r.counter = 0
	}
	if !due {
		return false
	}
	if !r.busy.CompareAndSwap(false, true) {
		r.events.LogCheckBatchSkipped()
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)
		r.RunBatch(ctx)
	}()
	return true
}

// RunBatch runs every check once and blocks until all have finished.
func (r *Runner) RunBatch(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, c := range r.registry.Checks() {
		c := c
		g.Go(func() error {
			r.runOne(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) runOne(ctx context.Context, c Check) {
	start := time.Now()
	payload, err := safeRun(ctx, c)
	r.metrics.RecordCheck(ctx, otel.KindBuiltin, c.Name(), time.Since(start), err)

	res := store.NewResult(c.Name(), payload)
	if err != nil {
		r.events.LogCheckFailed(c.Name(), err)
		res = res.WithError(err)
	}
	r.store.Put(store.DefaultBucket, c.Name(), res)
}

func safeRun(ctx context.Context, c Check) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = fmt.Errorf("check %s panicked: %v", c.Name(), rec)
		}
	}()
	return c.Run(ctx)
}
