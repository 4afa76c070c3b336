package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// CustomChecksFile is the document stored in the custom checks file.
type CustomChecksFile struct {
	Default CustomChecksDefaults   `yaml:"default" json:"default"`
	Checks  map[string]CustomCheck `yaml:"checks" json:"checks"`
}

// CustomChecksDefaults holds engine-wide settings.
type CustomChecksDefaults struct {
	MaxWorkerThreads int `yaml:"max_worker_threads" json:"max_worker_threads"`
}

// CustomCheck describes one user-configured external command.
type CustomCheck struct {
	Name     string `yaml:"-" json:"-"`
	Command  string `yaml:"command" json:"command"`
	Interval int    `yaml:"interval" json:"interval"`
	Timeout  int    `yaml:"timeout" json:"timeout"`
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the check should be scheduled. Checks are enabled unless disabled explicitly.
func (c CustomCheck) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IntervalDuration returns the scheduling interval.
func (c CustomCheck) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// TimeoutDuration returns the hard execution timeout.
func (c CustomCheck) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// CustomChecks is the parsed set of custom checks keyed by name.
type CustomChecks struct {
	MaxWorkers int
	Checks     map[string]CustomCheck
}

// Names returns the check names in sorted order.
func (cc *CustomChecks) Names() []string {
	names := make([]string, 0, len(cc.Checks))
	for name := range cc.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadCustomChecks reads the custom checks file. An empty path or a missing
// file yields an empty set.
func LoadCustomChecks(path string) (*CustomChecks, error) {
	empty := &CustomChecks{MaxWorkers: DefaultCustomCheckWorkers, Checks: map[string]CustomCheck{}}
	if path == "" {
		return empty, nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read custom checks: %w", err)
	}

	return ParseCustomChecks(content)
}

// ParseCustomChecks parses and normalises a custom checks document.
func ParseCustomChecks(content []byte) (*CustomChecks, error) {
	var file CustomChecksFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse custom checks: %w", err)
	}
	return file.Normalize()
}

// Normalize applies defaults and validates every check definition.
func (f CustomChecksFile) Normalize() (*CustomChecks, error) {
	cc := &CustomChecks{
		MaxWorkers: f.Default.MaxWorkerThreads,
		Checks:     make(map[string]CustomCheck, len(f.Checks)),
	}
	if cc.MaxWorkers <= 0 {
		cc.MaxWorkers = DefaultCustomCheckWorkers
	}

	for name, check := range f.Checks {
		if name == "" {
			return nil, fmt.Errorf("%w: custom check with empty name", ErrInvalid)
		}
		if check.Command == "" {
			return nil, fmt.Errorf("%w: custom check %s has no command", ErrInvalid, name)
		}
		if check.Interval <= 0 {
			check.Interval = DefaultCustomInterval
		}
		if check.Timeout <= 0 {
			check.Timeout = DefaultCustomTimeout
		}
		check.Name = name
		cc.Checks[name] = check
	}
	return cc, nil
}
