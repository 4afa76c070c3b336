package autossl

import (
	"context"
	"errors"
	"time"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
)

// Renewal cadence. Untrusted agents and failed exchanges retry sooner.
const (
	RenewInterval = 6 * time.Hour
	RetryInterval = 60 * time.Second
)

// Renewer periodically checks the certificate and renews it when needed.
type Renewer struct {
	manager       *Manager
	interval      time.Duration
	retryInterval time.Duration
	tickEvery     time.Duration
	events        *events.EventLogger
	now           func() time.Time

	next time.Time
}

// RenewerOption configures a Renewer.
type RenewerOption func(*Renewer)

// WithIntervals overrides RenewInterval and RetryInterval.
func WithIntervals(interval, retry time.Duration) RenewerOption {
	return func(r *Renewer) {
		r.interval = interval
		r.retryInterval = retry
	}
}

// WithRenewerEvents sets the event logger.
func WithRenewerEvents(el *events.EventLogger) RenewerOption {
	return func(r *Renewer) { r.events = el }
}

// NewRenewer creates a renewer for m.
func NewRenewer(m *Manager, opts ...RenewerOption) *Renewer {
	r := &Renewer{
		manager:       m,
		interval:      RenewInterval,
		retryInterval: RetryInterval,
		tickEvery:     time.Second,
		events:        events.NoopEventLogger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run checks the certificate immediately and then on the renewal cadence
// until ctx is cancelled.
func (r *Renewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

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

// tick runs one check cycle when it is due and reports whether it did.
func (r *Renewer) tick(ctx context.Context) bool {
	now := r.now()
	if now.Before(r.next) {
		return false
	}

	outcome, err := r.manager.CheckAndRenew(ctx)
	r.next = now.Add(r.delay(outcome, err))
	if err != nil && !errors.Is(err, context.Canceled) {
		r.events.Logger().Warn("certificate check failed", "error", err, "retry_in", r.next.Sub(now).String())
	}
	return true
}

func (r *Renewer) delay(outcome Outcome, err error) time.Duration {
	if err != nil || outcome == Untrusted {
		return r.retryInterval
	}
	return r.interval
}
