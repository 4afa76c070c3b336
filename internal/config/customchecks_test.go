package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCustomChecks_MissingFile(t *testing.T) {
	cc, err := LoadCustomChecks(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cc.Checks)
	assert.Equal(t, DefaultCustomCheckWorkers, cc.MaxWorkers)

	cc, err = LoadCustomChecks("")
	require.NoError(t, err)
	assert.Empty(t, cc.Checks)
}

func TestParseCustomChecks(t *testing.T) {
	cc, err := ParseCustomChecks([]byte(`
default:
  max_worker_threads: 4
checks:
  check_users:
    command: /usr/lib/nagios/plugins/check_users -w 5 -c 10
    interval: 30
    timeout: 5
  check_disabled:
    command: "true"
    enabled: false
  check_defaults:
    command: echo hi
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cc.MaxWorkers)
	assert.Equal(t, []string{"check_defaults", "check_disabled", "check_users"}, cc.Names())

	users := cc.Checks["check_users"]
	assert.Equal(t, "check_users", users.Name)
	assert.Equal(t, 30, users.Interval)
	assert.Equal(t, 5, users.Timeout)
	assert.True(t, users.IsEnabled())

	assert.False(t, cc.Checks["check_disabled"].IsEnabled())

	defaults := cc.Checks["check_defaults"]
	assert.Equal(t, DefaultCustomInterval, defaults.Interval)
	assert.Equal(t, DefaultCustomTimeout, defaults.Timeout)
}

func TestParseCustomChecks_Errors(t *testing.T) {
	_, err := ParseCustomChecks([]byte("checks:\n  nocommand:\n    interval: 5\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = ParseCustomChecks([]byte("checks: [unclosed"))
	assert.Error(t, err)
}

func TestSaveCustomChecks_RoundTrip(t *testing.T) {
	enabled := true
	file := &CustomChecksFile{
		Default: CustomChecksDefaults{MaxWorkerThreads: 2},
		Checks: map[string]CustomCheck{
			"ping": {Command: "ping -c 1 localhost", Interval: 10, Timeout: 3, Enabled: &enabled},
		},
	}

	path := filepath.Join(t.TempDir(), "customchecks.yaml")
	require.NoError(t, SaveCustomChecks(path, file))

	raw, err := ReadCustomChecksFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.Default.MaxWorkerThreads)
	assert.Equal(t, "ping -c 1 localhost", raw.Checks["ping"].Command)

	cc, err := LoadCustomChecks(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cc.MaxWorkers)
	assert.Equal(t, 10, cc.Checks["ping"].Interval)
}
