// Package customcheck schedules user-defined external commands and stores
// their output in the result store.
package customcheck

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

// State is the scheduling state of one custom check.
type State struct {
	Check   config.CustomCheck
	LastRun time.Time
	NextRun time.Time
	// Running is true from submission until the result has been stored.
	Running bool
}

func (s *State) due(now time.Time) bool {
	return s.LastRun.IsZero() || now.Sub(s.LastRun) >= s.Check.IntervalDuration()
}

// Engine runs custom checks on their own intervals with a bounded number of
// concurrent executions.
type Engine struct {
	mu     sync.Mutex
	states map[string]*State

	sem       *semaphore.Weighted
	workers   int
	store     *store.Store
	bucket    string
	exec      Executor
	events    *events.EventLogger
	metrics   *otel.Metrics
	tickEvery time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvents sets the event logger.
func WithEvents(el *events.EventLogger) Option {
	return func(e *Engine) { e.events = el }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *otel.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTickInterval overrides the one second scheduling tick.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickEvery = d
		}
	}
}

// WithBucket overrides the result bucket.
func WithBucket(bucket string) Option {
	return func(e *Engine) { e.bucket = bucket }
}

// NewEngine creates an engine for checks. exec runs a single check.
func NewEngine(checks *config.CustomChecks, st *store.Store, exec Executor, opts ...Option) *Engine {
	workers := checks.MaxWorkers
	if workers <= 0 {
		workers = config.DefaultCustomCheckWorkers
	}
	e := &Engine{
		states:    make(map[string]*State, len(checks.Checks)),
		sem:       semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		store:     st,
		bucket:    config.DefaultCustomChecksBucket,
		exec:      exec,
		events:    events.NoopEventLogger(),
		metrics:   otel.NoopMetrics(),
		tickEvery: time.Second,
		now:       time.Now,
	}
	for name, c := range checks.Checks {
		c.Name = name
		e.states[name] = &State{Check: c}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run schedules checks until ctx is cancelled, then waits for running
// executions. Cancellation kills running commands.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickEvery)
	defer ticker.Stop()
	defer e.wg.Wait()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick submits every due, idle and enabled check for which a worker slot is
// free. It returns the names submitted.
func (e *Engine) tick(ctx context.Context) []string {
	now := e.now()

	e.mu.Lock()
	var submit []config.CustomCheck
	for _, name := range e.sortedNames() {
		s := e.states[name]
		if !s.Check.IsEnabled() || s.Running || !s.due(now) {
			continue
		}
		if !e.sem.TryAcquire(1) {
			break
		}
		s.Running = true
		s.LastRun = now
		s.NextRun = now.Add(s.Check.IntervalDuration())
		submit = append(submit, s.Check)
	}
	e.mu.Unlock()

	names := make([]string, 0, len(submit))
	for _, c := range submit {
		names = append(names, c.Name)
		e.wg.Add(1)
		go e.execute(ctx, c)
	}
	return names
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.states))
	for name := range e.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) execute(ctx context.Context, check config.CustomCheck) {
	defer e.wg.Done()
	defer e.sem.Release(1)

	start := time.Now()
	outcome := e.safeExec(ctx, check)
	elapsed := time.Since(start)

	e.events.LogCustomCheckFinished(check.Name, outcome.Kind.String(), outcome.ReturnCode, elapsed)
	if outcome.Kind == Timeout {
		e.events.LogCustomCheckTimeout(check.Name, check.TimeoutDuration())
		e.metrics.RecordCustomCheckTimeout(ctx, check.Name)
	}
	e.metrics.RecordCheck(ctx, otel.KindCustom, check.Name, elapsed, outcome.Err)

	e.complete(check.Name, outcome)
}

func (e *Engine) safeExec(ctx context.Context, check config.CustomCheck) (o Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			e.events.LogCheckFailed(check.Name, fmt.Errorf("panic: %v", rec))
			o = failedOutcome(nil)
		}
	}()
	return e.exec(ctx, check)
}

// complete stores the result and marks the check idle.
func (e *Engine) complete(name string, outcome Outcome) {
	e.store.Put(e.bucket, name, outcome.Result(name))

	e.mu.Lock()
	if s, ok := e.states[name]; ok {
		s.Running = false
	}
	e.mu.Unlock()
}

// States returns a copy of the scheduling state keyed by check name.
func (e *Engine) States() map[string]State {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]State, len(e.states))
	for name, s := range e.states {
		out[name] = *s
	}
	return out
}

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int {
	return e.workers
}
