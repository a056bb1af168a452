package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

type fakeBackend struct {
	mu        sync.Mutex
	instances map[string]model.InstanceInfo
	startErr  error
	shutdown  chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{instances: make(map[string]model.InstanceInfo), shutdown: make(chan struct{}, 1)}
}

func (f *fakeBackend) Start(_ context.Context, req runner.StartRequest) (*runner.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	if existing, ok := f.instances[req.Dir]; ok {
		return nil, fmt.Errorf("%s is already served on port %d: %w", req.Dir, existing.Port, model.ErrAlreadyRunning)
	}
	info := model.InstanceInfo{ID: "id-1", Key: req.Dir, Port: 10001 + len(f.instances), LogFile: filepath.Join(req.Dir, "app.log")}
	f.instances[req.Dir] = info
	return &runner.StartResult{
		Instance: info,
		Attempts: []model.LaunchAttempt{{Port: info.Port, Outcome: model.OutcomeSuccess}},
	}, nil
}

func (f *fakeBackend) Stop(_ context.Context, dir string) (model.InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.instances[dir]
	if !ok {
		return model.InstanceInfo{}, fmt.Errorf("%s: %w", dir, model.ErrInstanceNotFound)
	}
	delete(f.instances, dir)
	return info, nil
}

func (f *fakeBackend) List() []model.InstanceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.InstanceInfo, 0, len(f.instances))
	for _, info := range f.instances {
		out = append(out, info)
	}
	return out
}

func (f *fakeBackend) Lookup(dir string) (model.InstanceInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.instances[dir]
	return info, ok
}

func (f *fakeBackend) PortUsage(context.Context) (model.PortRange, []runner.PortUse) {
	return model.DefaultPortRange(), []runner.PortUse{{Port: 10003, Source: runner.SourceDocker, Owner: "redis"}}
}

func (f *fakeBackend) Status() StatusResponse {
	return StatusResponse{PID: os.Getpid(), Version: "test", Instances: len(f.List()), PortRange: model.DefaultPortRange()}
}

func (f *fakeBackend) Shutdown() { f.shutdown <- struct{}{} }

// startServer serves backend on a socket in a short temp dir. Unix socket
// paths are length-limited, so t.TempDir() under a long test name can be
// too long on some systems.
func startServer(t *testing.T, backend Backend) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lr-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	srv, err := NewServer(context.Background(), socket, backend, nil)
	if err != nil && strings.Contains(err.Error(), "operation not permitted") {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	require.NoError(t, err)
	srv.Serve()
	t.Cleanup(srv.Close)
	return socket
}

func dial(t *testing.T, socket string) *Client {
	t.Helper()
	client, err := Dial(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStartStopRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	client := dial(t, startServer(t, backend))

	res, err := client.Start(StartRequest{Dir: "/work/a"})
	require.NoError(t, err)
	assert.Equal(t, 10001, res.Instance.Port)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, model.OutcomeSuccess, res.Attempts[0].Outcome)

	info, found, err := client.Lookup("/work/a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/work/a", info.Key)

	list, err := client.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stopped, err := client.Stop("/work/a")
	require.NoError(t, err)
	assert.Equal(t, 10001, stopped.Port)

	_, found, err = client.Lookup("/work/a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestErrorsKeepKind(t *testing.T) {
	backend := newFakeBackend()
	client := dial(t, startServer(t, backend))

	_, err := client.Start(StartRequest{Dir: "/work/a"})
	require.NoError(t, err)

	_, err = client.Start(StartRequest{Dir: "/work/a"})
	require.Error(t, err)
	assert.Equal(t, model.KindAlreadyRunning, model.KindOf(err))
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitAlreadyRunning, cliErr.Code)
	assert.Contains(t, err.Error(), "already served on port 10001")

	_, err = client.Stop("/work/missing")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestAllocationErrorCarriesPorts(t *testing.T) {
	backend := newFakeBackend()
	backend.startErr = &model.AllocationError{Kind: model.KindExhausted, AttemptedPorts: []int{10001, 10002}}
	client := dial(t, startServer(t, backend))

	_, err := client.Start(StartRequest{Dir: "/work/a"})
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.KindExhausted, cliErr.Kind)
	assert.Equal(t, model.ExitPortAllocationFailed, cliErr.Code)
	assert.Equal(t, []int{10001, 10002}, cliErr.AttemptedPorts)
}

func TestPortsAndStatus(t *testing.T) {
	client := dial(t, startServer(t, newFakeBackend()))

	ports, err := client.Ports()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPortRange(), ports.Range)
	require.Len(t, ports.Used, 1)
	assert.Equal(t, "redis", ports.Used[0].Owner)

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, "test", status.Version)
}

func TestShutdown(t *testing.T) {
	backend := newFakeBackend()
	client := dial(t, startServer(t, backend))

	require.NoError(t, client.Shutdown())
	select {
	case <-backend.shutdown:
	default:
		t.Fatal("backend was not asked to shut down")
	}
}

func TestDialNoDaemon(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "nothing.sock"))
	require.Error(t, err)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDaemonNotRunning, cliErr.Code)
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestNewErrorInfo(t *testing.T) {
	assert.Nil(t, NewErrorInfo(nil))

	info := NewErrorInfo(&model.CLIError{Code: model.ExitLogFileNotFound, Kind: model.KindNotFound, Message: "log file not found"})
	assert.Equal(t, model.ExitLogFileNotFound, info.Code)
	assert.Equal(t, model.KindNotFound, info.Kind)

	info = NewErrorInfo(fmt.Errorf("start /w: %w", model.ErrShuttingDown))
	assert.Equal(t, model.KindShuttingDown, info.Kind)
	assert.Equal(t, model.ExitDaemonNotRunning, info.Code)

	info = NewErrorInfo(errors.New("boom"))
	assert.Equal(t, model.ExitGeneralError, info.Code)
	assert.Empty(t, info.Kind)
}
