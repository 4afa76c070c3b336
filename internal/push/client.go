// Package push sends the result snapshot to the openITCOCKPIT server.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

// UpdatePath is the server endpoint receiving check data.
const UpdatePath = "/agentconnector/updateCheckdata.json"

// Poster sends a form to the openITCOCKPIT server.
type Poster interface {
	PostForm(ctx context.Context, path string, form url.Values) ([]byte, error)
}

// ChecksumFunc returns the checksum of the installed certificate, or "".
type ChecksumFunc func() string

// Client pushes snapshots on a fixed interval.
type Client struct {
	poster   Poster
	store    *store.Store
	hostUUID string
	interval time.Duration
	checksum ChecksumFunc
	cb       *gobreaker.CircuitBreaker
	events   *events.EventLogger
	metrics  *otel.Metrics
	tracer   *otel.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithChecksum includes the certificate checksum in every push.
func WithChecksum(fn ChecksumFunc) Option {
	return func(c *Client) { c.checksum = fn }
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.cb = cb }
}

// WithEvents sets the event logger.
func WithEvents(el *events.EventLogger) Option {
	return func(c *Client) { c.events = el }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *otel.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer for push spans.
func WithTracer(t *otel.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewBreaker returns the default breaker: it opens after three consecutive
// failures and probes again after one push interval.
func NewBreaker(interval time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "push",
		Timeout: interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// NewClient creates a push client for hostUUID.
func NewClient(poster Poster, st *store.Store, hostUUID string, interval time.Duration, opts ...Option) *Client {
	c := &Client{
		poster:   poster,
		store:    st,
		hostUUID: hostUUID,
		interval: interval,
		events:   events.NoopEventLogger(),
		metrics:  otel.NoopMetrics(),
		tracer:   otel.NoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cb == nil {
		c.cb = NewBreaker(interval)
	}
	return c
}

// Run pushes once per interval until ctx is cancelled. Push failures are
// logged and never end the loop.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			received, err := c.Push(ctx)
			if ctx.Err() != nil {
				return nil
			}
			c.events.LogPushResult(received, err)
		}
	}
}

type updateResponse struct {
	ReceivedChecks *int `json:"receivedChecks"`
}

// Push sends the current snapshot and returns the number of checks the
// server accepted.
func (c *Client) Push(ctx context.Context) (int, error) {
	ctx, span := c.tracer.StartSpan(ctx, "push.update_checkdata")
	defer span.End()

	received, err := c.push(ctx)
	c.metrics.RecordPush(ctx, err)
	if err != nil {
		otel.RecordError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("received_checks", received))
	if received == 0 {
		c.events.LogUntrustedHost(c.hostUUID)
	}
	return received, nil
}

func (c *Client) push(ctx context.Context) (int, error) {
	data, err := json.Marshal(c.store.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("encode check data: %w", err)
	}

	form := url.Values{
		"checkdata": {string(data)},
		"hostuuid":  {c.hostUUID},
	}
	if c.checksum != nil {
		if sum := c.checksum(); sum != "" {
			form.Set("checksum", sum)
		}
	}

	out, err := c.cb.Execute(func() (any, error) {
		return c.poster.PostForm(ctx, UpdatePath, form)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return 0, fmt.Errorf("push suspended after repeated failures: %w", err)
		}
		return 0, err
	}

	var resp updateResponse
	if err := json.Unmarshal(out.([]byte), &resp); err != nil {
		return 0, fmt.Errorf("decode push response: %w", err)
	}
	if resp.ReceivedChecks == nil {
		return 0, errors.New("push response has no receivedChecks field")
	}
	return *resp.ReceivedChecks, nil
}
