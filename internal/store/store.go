// Package store holds the agent's last-value result cache.
//
// One Store instance is created per process and handed to every component
// that produces or consumes check results. Results are organised in buckets:
// the default bucket holds built-in checks whose payloads are promoted to the
// top level of a snapshot, every other bucket (custom checks, optional
// subsystems) is nested under its own name.
package store

import (
	"sync"
	"time"
)

// DefaultBucket is the bucket whose payloads are promoted to the top level of a snapshot.
const DefaultBucket = ""

// Result is the outcome of a single check run. A Result is never modified
// after it has been handed to Put; a newer run replaces it.
type Result struct {
	// Key is the check name.
	Key string `json:"-"`

	// Payload is the structured check output.
	Payload any `json:"result"`

	// Error is the error message of a failed or partial run.
	Error *string `json:"error"`

	// ReturnCode is set for results of external commands.
	ReturnCode *int `json:"returncode,omitempty"`

	// LastUpdated is the completion time of the run.
	LastUpdated time.Time `json:"-"`
}

// NewResult creates a Result stamped with the current time.
func NewResult(key string, payload any) Result {
	return Result{
		Key:         key,
		Payload:     payload,
		LastUpdated: time.Now(),
	}
}

// WithError returns a copy of r carrying err. A nil err leaves r unchanged.
func (r Result) WithError(err error) Result {
	if err == nil {
		return r
	}
	msg := err.Error()
	r.Error = &msg
	return r
}

// WithReturnCode returns a copy of r carrying rc.
func (r Result) WithReturnCode(rc int) Result {
	r.ReturnCode = &rc
	return r
}

// wireResult is the JSON shape of a result inside a named bucket.
type wireResult struct {
	Result               any     `json:"result"`
	Error                *string `json:"error"`
	ReturnCode           *int    `json:"returncode,omitempty"`
	LastUpdated          string  `json:"last_updated"`
	LastUpdatedTimestamp int64   `json:"last_updated_timestamp"`
}

func (r Result) wire() wireResult {
	return wireResult{
		Result:               r.Payload,
		Error:                r.Error,
		ReturnCode:           r.ReturnCode,
		LastUpdated:          r.LastUpdated.Format(time.RFC3339),
		LastUpdatedTimestamp: r.LastUpdated.Unix(),
	}
}

// Store is a thread-safe last-value cache keyed by bucket and check name.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Result
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]Result),
	}
}

// Put replaces the result stored under bucket/key.
func (s *Store) Put(bucket, key string, r Result) {
	r.Key = key
	if r.LastUpdated.IsZero() {
		r.LastUpdated = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]Result)
		s.buckets[bucket] = b
	}
	b[key] = r
}

// Get returns the result stored under bucket/key.
func (s *Store) Get(bucket, key string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.buckets[bucket][key]
	return r, ok
}

// Len returns the number of results held in bucket.
func (s *Store) Len(bucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}

// Snapshot returns a point-in-time copy of the cache in wire shape: default
// bucket payloads at the top level, named buckets nested by name. Keys of
// the default bucket must not collide with bucket names.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.buckets[DefaultBucket])+len(s.buckets))
	for key, r := range s.buckets[DefaultBucket] {
		out[key] = r.Payload
	}
	for name, b := range s.buckets {
		if name == DefaultBucket {
			continue
		}
		nested := make(map[string]wireResult, len(b))
		for key, r := range b {
			nested[key] = r.wire()
		}
		out[name] = nested
	}
	return out
}
