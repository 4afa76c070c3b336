// Package checks runs the agent's built-in host checks on a fixed interval
// and stores their payloads in the result store.
package checks

import (
	"context"
	"sort"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/platform"
)

// Check collects one family of host metrics. Run may return a non-nil
// payload together with an error when only part of the data was gathered.
type Check interface {
	Name() string
	Run(ctx context.Context) (any, error)
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) (any, error)
}

func (f CheckFunc) Name() string                         { return f.CheckName }
func (f CheckFunc) Run(ctx context.Context) (any, error) { return f.Fn(ctx) }

// Registry is the ordered set of checks a runner executes.
type Registry struct {
	checks []Check
}

// NewRegistry creates a registry from checks.
func NewRegistry(checks ...Check) *Registry {
	return &Registry{checks: checks}
}

// Checks returns the registered checks.
func (r *Registry) Checks() []Check {
	return r.checks
}

// Names returns the sorted check names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// Len returns the number of checks.
func (r *Registry) Len() int {
	return len(r.checks)
}

// FromConfig builds the registry of built-in checks enabled in cfg and
// supported by caps.
func FromConfig(cfg *config.Config, caps platform.Capabilities, version string) *Registry {
	d := cfg.Default
	checks := []Check{
		&agentCheck{version: version, caps: caps, cfg: cfg},
		&systemCheck{},
		&memoryCheck{},
		&swapCheck{},
	}
	if d.CPUStats {
		checks = append(checks, &cpuCheck{})
	}
	if caps.HasLoadAverage() {
		checks = append(checks, &loadCheck{})
	}
	if d.DiskStats {
		checks = append(checks, &diskCheck{})
	}
	if d.DiskIO {
		checks = append(checks, &diskIOCheck{})
	}
	if d.NetStats {
		checks = append(checks, &netStatsCheck{})
	}
	if d.NetIO {
		checks = append(checks, &netIOCheck{})
	}
	if d.ProcessStats {
		checks = append(checks, &processCheck{})
	}
	if d.SensorStats && caps.HasTemperatureSensors() {
		checks = append(checks, &sensorCheck{fahrenheit: d.TemperatureFahrenheit})
	}
	if d.UserStats {
		checks = append(checks, &userCheck{})
	}
	return NewRegistry(checks...)
}
