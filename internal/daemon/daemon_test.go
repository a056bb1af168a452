//go:build !windows

package daemon

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/ipc"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

type freeProber struct{}

func (freeProber) IsPortAvailable(int) bool { return true }

func testSettings() config.Settings {
	s := config.Defaults()
	s.PortRange = model.PortRange{Start: 21001, End: 21010}
	s.Tail = config.CommandSpec{Command: "/bin/sh", Args: []string{"-c", `exec tail -n 0 -f "$1"`, "sh", config.PlaceholderFile}}
	s.Viewer = config.CommandSpec{Command: "/bin/sh", Args: []string{"-c",
		`echo "WebUI started, visit http://127.0.0.1:$1"; exec cat >/dev/null`, "sh", config.PlaceholderPort}}
	s.ConfirmReady = false
	s.LaunchTimeout = config.Duration(3 * time.Second)
	s.StopGrace = config.Duration(500 * time.Millisecond)
	return s
}

// runtimeDir returns a short directory for the socket; unix socket paths
// are length-limited.
func runtimeDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lrd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

type running struct {
	daemon *Daemon
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func startDaemon(t *testing.T, opts Options) *running {
	t.Helper()
	if opts.Runner == nil {
		opts.Runner = &runner.Options{Prober: freeProber{}}
	}
	d, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{daemon: d, done: make(chan struct{}), cancel: cancel}
	go func() {
		r.err = d.Run(ctx)
		close(r.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(10 * time.Second):
		}
	})

	require.Eventually(t, func() bool {
		c, err := ipc.Dial(opts.Paths.Socket)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return r
}

func logDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("x\n"), 0o644))
	return dir
}

func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func TestDaemon_StartAndShutdown(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	r := startDaemon(t, Options{Settings: testSettings(), Paths: paths, Version: "test"})

	client, err := ipc.Dial(paths.Socket)
	require.NoError(t, err)
	defer client.Close()

	dir := logDir(t)
	res, err := client.Start(ipc.StartRequest{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 21001, res.Instance.Port)

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Instances)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, paths.Socket, status.Socket)

	require.NoError(t, client.Shutdown())
	require.NoError(t, r.wait(t))

	assert.Eventually(t, func() bool { return !alive(res.Instance.ConsumerPID) }, 3*time.Second, 20*time.Millisecond)
	_, err = os.Stat(paths.Socket)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestDaemon_SingleInstance(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	startDaemon(t, Options{Settings: testSettings(), Paths: paths})

	second, err := New(Options{Settings: testSettings(), Paths: paths})
	require.NoError(t, err)
	err = second.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestDaemon_CancelTearsDown(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	r := startDaemon(t, Options{Settings: testSettings(), Paths: paths})

	res, err := r.daemon.Start(context.Background(), runner.StartRequest{Dir: logDir(t)})
	require.NoError(t, err)

	r.cancel()
	require.NoError(t, r.wait(t))
	assert.Empty(t, r.daemon.List())
	assert.Eventually(t, func() bool { return !alive(res.Instance.ProducerPID) }, 3*time.Second, 20*time.Millisecond)
}

func TestDaemon_ReloadsConfig(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("portRange:\n  start: 21001\n  end: 21010\n"), 0o644))

	base := testSettings()
	reload := func() (config.Settings, error) {
		s := base
		_, err := config.ApplyFile(&s, cfgFile)
		return s, err
	}
	r := startDaemon(t, Options{Settings: base, Paths: paths, ConfigFile: cfgFile, Reload: reload})

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfgFile, []byte("portRange:\n  start: 22001\n  end: 22010\n"), 0o644))

	assert.Eventually(t, func() bool {
		return r.daemon.Runner().Settings().PortRange.Start == 22001
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDaemon_ReloadKeepsSettingsOnBrokenFile(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	d, err := New(Options{
		Settings: testSettings(),
		Paths:    paths,
		Reload: func() (config.Settings, error) {
			s := testSettings()
			s.ReadyPattern = "("
			return s, nil
		},
	})
	require.NoError(t, err)

	d.reload()
	assert.Equal(t, config.DefaultReadyPattern, d.Runner().Settings().ReadyPattern)
}

func TestDaemon_MetricsEndpoint(t *testing.T) {
	paths := PathsIn(runtimeDir(t))
	s := testSettings()
	s.MetricsAddr = "127.0.0.1:0"
	r := startDaemon(t, Options{Settings: s, Paths: paths})

	var url string
	require.Eventually(t, func() bool {
		url = r.daemon.Status().MetricsURL
		return url != ""
	}, 5*time.Second, 20*time.Millisecond)

	_, err := r.daemon.Start(context.Background(), runner.StartRequest{Dir: logDir(t)})
	require.NoError(t, err)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "logdy_runner_running_instances 1")
	assert.Contains(t, string(body), "logdy_runner_launch_attempts_total")
}
