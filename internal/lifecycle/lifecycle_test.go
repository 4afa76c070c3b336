package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
)

// fakeSpawner records calls and fails if two generations overlap.
type fakeSpawner struct {
	mu        sync.Mutex
	running   bool
	overlap   bool
	calls     []string
	spawned   []*config.Config
	failSpawn func(cfg *config.Config) error
}

func (f *fakeSpawner) SpawnAll(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "spawn")
	if f.failSpawn != nil {
		if err := f.failSpawn(cfg); err != nil {
			return err
		}
	}
	if f.running {
		f.overlap = true
	}
	f.running = true
	f.spawned = append(f.spawned, cfg)
	return nil
}

func (f *fakeSpawner) ShutdownAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.calls = append(f.calls, "shutdown")
	}
	f.running = false
	return nil
}

func (f *fakeSpawner) snapshot() ([]string, []*config.Config, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]*config.Config(nil), f.spawned...), f.overlap
}

func cfgWithInterval(interval int) *config.Config {
	return &config.Config{
		Default: config.DefaultConfig{Interval: interval, Port: config.DefaultPort},
		OITC:    config.OITCConfig{Interval: config.DefaultPushInterval},
		Path:    "/etc/openitcockpit-agent/config.yml",
	}
}

func startLifecycle(t *testing.T, l *Lifecycle) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not stop")
		return nil
	}
}

func TestNew_InitialFlags(t *testing.T) {
	l := New(&fakeSpawner{}, cfgWithInterval(30))
	assert.Equal(t, Flags{Loop: true, SpawnThreads: true}, l.Flags())
}

func TestRun_SpawnsAndStops(t *testing.T) {
	sp := &fakeSpawner{}
	l := New(sp, cfgWithInterval(30))
	_, done := startLifecycle(t, l)

	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, l.Flags().SpawnThreads)

	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	calls, _, _ := sp.snapshot()
	assert.Equal(t, []string{"spawn", "shutdown"}, calls)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	sp := &fakeSpawner{}
	l := New(sp, cfgWithInterval(30), WithPollInterval(time.Hour))
	cancel, done := startLifecycle(t, l)

	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, done))

	calls, _, _ := sp.snapshot()
	assert.Equal(t, "shutdown", calls[len(calls)-1])
}

func TestRun_InitialSpawnFailureIsFatal(t *testing.T) {
	sp := &fakeSpawner{failSpawn: func(*config.Config) error { return errors.New("address in use") }}
	l := New(sp, cfgWithInterval(30))
	_, done := startLifecycle(t, l)

	err := waitDone(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Zero(t, l.Generation())
}

func TestReload_SpawnsNewConfig(t *testing.T) {
	sp := &fakeSpawner{}
	next := cfgWithInterval(10)
	var loadedPath string
	l := New(sp, cfgWithInterval(30),
		WithPollInterval(time.Hour),
		WithLoader(func(path string) (*config.Config, error) {
			loadedPath = path
			return next, nil
		}),
	)
	_, done := startLifecycle(t, l)
	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)

	// the driver is idle on a long poll; the wake channel must pick this up
	start := time.Now()
	l.RequestReload()
	require.Eventually(t, func() bool { return l.Generation() == 2 }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, Flags{Loop: true}, l.Flags())
	assert.Same(t, next, l.Config())
	assert.Equal(t, "/etc/openitcockpit-agent/config.yml", loadedPath)

	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	calls, spawned, overlap := sp.snapshot()
	assert.Equal(t, []string{"spawn", "shutdown", "spawn", "shutdown"}, calls)
	assert.False(t, overlap)
	require.Len(t, spawned, 2)
	assert.Equal(t, 10, spawned[1].Default.Interval)
}

func TestReload_RepeatedRequestsNeverOverlap(t *testing.T) {
	sp := &fakeSpawner{}
	l := New(sp, cfgWithInterval(30),
		WithPollInterval(5*time.Millisecond),
		WithLoader(func(string) (*config.Config, error) { return cfgWithInterval(30), nil }),
	)
	_, done := startLifecycle(t, l)
	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		l.RequestReload()
		time.Sleep(time.Millisecond)
	}
	require.Eventually(t, func() bool {
		f := l.Flags()
		return !f.JoinThreads && !f.SpawnThreads
	}, time.Second, 5*time.Millisecond)

	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	calls, _, overlap := sp.snapshot()
	assert.False(t, overlap)
	for i := 1; i < len(calls); i++ {
		assert.NotEqual(t, calls[i-1], calls[i], "spawn and shutdown must alternate")
	}
}

func TestReload_WarnsAboutTelemetryChange(t *testing.T) {
	var logs bytes.Buffer
	next := cfgWithInterval(30)
	next.Telemetry.Exporter = "prometheus"
	l := New(&fakeSpawner{}, cfgWithInterval(30),
		WithPollInterval(time.Hour),
		WithEvents(events.NewEventLoggerWithWriter(&logs)),
		WithLoader(func(string) (*config.Config, error) { return next, nil }),
	)
	_, done := startLifecycle(t, l)
	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)

	l.RequestReload()
	require.Eventually(t, func() bool { return l.Generation() == 2 }, time.Second, 5*time.Millisecond)
	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	assert.Contains(t, logs.String(), "telemetry settings changed")
}

func TestReload_LoadFailureKeepsConfig(t *testing.T) {
	sp := &fakeSpawner{}
	initial := cfgWithInterval(30)
	l := New(sp, initial,
		WithPollInterval(time.Hour),
		WithLoader(func(string) (*config.Config, error) {
			return nil, config.ErrInvalid
		}),
	)
	_, done := startLifecycle(t, l)
	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)

	l.RequestReload()
	require.Eventually(t, func() bool { return l.Generation() == 2 }, time.Second, 5*time.Millisecond)
	assert.Same(t, initial, l.Config())

	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	_, spawned, _ := sp.snapshot()
	require.Len(t, spawned, 2)
	assert.Same(t, initial, spawned[1])
}

func TestReload_SpawnFailureRestoresLastGood(t *testing.T) {
	broken := cfgWithInterval(10)
	sp := &fakeSpawner{failSpawn: func(cfg *config.Config) error {
		if cfg == broken {
			return errors.New("address in use")
		}
		return nil
	}}
	initial := cfgWithInterval(30)
	l := New(sp, initial,
		WithPollInterval(5*time.Millisecond),
		WithLoader(func(string) (*config.Config, error) { return broken, nil }),
	)
	_, done := startLifecycle(t, l)
	require.Eventually(t, func() bool { return l.Generation() == 1 }, time.Second, 5*time.Millisecond)

	l.RequestReload()
	require.Eventually(t, func() bool { return l.Generation() == 2 }, time.Second, 5*time.Millisecond)
	assert.Same(t, initial, l.Config())

	l.RequestStop()
	require.NoError(t, waitDone(t, done))

	calls, spawned, _ := sp.snapshot()
	assert.Equal(t, []string{"spawn", "shutdown", "spawn", "spawn", "shutdown"}, calls)
	require.Len(t, spawned, 2)
	assert.Same(t, initial, spawned[1])
}

func TestHandleSignals(t *testing.T) {
	l := New(&fakeSpawner{}, cfgWithInterval(30))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan os.Signal, 1)
	go l.handleSignals(ctx, ch)

	ch <- syscall.SIGHUP
	require.Eventually(t, func() bool { return l.Flags().JoinThreads }, time.Second, 5*time.Millisecond)
	assert.True(t, l.Flags().Loop)

	ch <- syscall.SIGTERM
	require.Eventually(t, func() bool { return !l.Flags().Loop }, time.Second, 5*time.Millisecond)
}
