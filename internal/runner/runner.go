// Package runner drives the viewer lifecycle for directories: it resolves
// the log file, allocates a port by launching tail/viewer pairs until one
// comes up, and records the result in the instance registry.
//
// A Runner is the explicit owner of all running instances. The daemon
// creates one for its lifetime; the foreground `run` command creates a
// short-lived one. Teardown stops everything it owns.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/discovery"
	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/metrics"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/port"
	"github.com/pozicube/logdy-runner/internal/registry"
	"github.com/pozicube/logdy-runner/internal/supervisor"
)

// Options configures a Runner. Only Settings is required.
type Options struct {
	// Settings are the base settings. Workspace overrides found in the
	// started directory are layered on top per start.
	Settings config.Settings

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Prober performs the fast bind probe. Defaults to port.NewScanner().
	Prober port.Prober

	// Confirm overrides the HTTP readiness check used when
	// Settings.ConfirmReady is set.
	Confirm supervisor.ConfirmFunc

	// LookPath resolves binaries. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Runner starts, stops and tracks viewer instances.
type Runner struct {
	mu       sync.RWMutex
	settings config.Settings

	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	prober   port.Prober
	confirm  supervisor.ConfirmFunc
	lookPath func(string) (string, error)
	now      func() time.Time
}

// New creates a Runner. The base settings are validated; repairs are
// returned as warnings.
func New(opts Options) (*Runner, []string, error) {
	warnings, err := opts.Settings.Validate()
	if err != nil {
		return nil, warnings, err
	}

	r := &Runner{
		settings: opts.Settings,
		logger:   logging.NewComponentLogger(opts.Logger, "runner"),
		metrics:  opts.Metrics,
		prober:   opts.Prober,
		confirm:  opts.Confirm,
		lookPath: opts.LookPath,
		now:      opts.Now,
	}
	if r.prober == nil {
		r.prober = port.NewScanner()
	}
	if r.lookPath == nil {
		r.lookPath = exec.LookPath
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.registry = registry.New(registry.Options{
		Logger: opts.Logger,
		OnExit: r.onInstanceExit,
	})
	return r, warnings, nil
}

func (r *Runner) onInstanceExit(model.InstanceInfo, error) {
	r.metrics.InstanceExited()
	r.metrics.SetInstances(r.registry.Len())
}

// Settings returns the current base settings.
func (r *Runner) Settings() config.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// UpdateSettings replaces the base settings. Running instances keep the
// settings they were started with.
func (r *Runner) UpdateSettings(s config.Settings) ([]string, error) {
	warnings, err := s.Validate()
	if err != nil {
		return warnings, err
	}
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	return warnings, nil
}

// EffectiveSettings returns the base settings with the workspace overrides
// of dir applied and validated.
func (r *Runner) EffectiveSettings(dir string) (config.Settings, []string, error) {
	s := r.Settings()
	if dir != "" {
		if _, err := config.ApplyWorkspace(&s, config.WorkspaceSettingsPath(dir)); err != nil {
			return s, nil, &model.CLIError{Code: model.ExitInvalidConfig, Kind: model.KindInvalidConfig, Message: "workspace settings", Err: err}
		}
	}
	warnings, err := s.Validate()
	return s, warnings, err
}

// StartRequest asks for a viewer on a directory.
type StartRequest struct {
	// Dir is the directory the instance belongs to. Its absolute path is
	// the instance key.
	Dir string

	// File is the log file to stream, relative to Dir unless absolute.
	// Empty means auto-detect.
	File string

	// Replace stops an instance already running for Dir instead of failing
	// with model.ErrAlreadyRunning.
	Replace bool
}

// StartResult describes a started instance.
type StartResult struct {
	Instance model.InstanceInfo    `json:"instance"`
	Attempts []model.LaunchAttempt `json:"attempts"`
	Warnings []string              `json:"warnings,omitempty"`
}

// Key normalizes a directory into an instance key.
func Key(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return filepath.Clean(abs), nil
}

// Start launches a viewer for req.Dir.
//
// The check for an existing instance and the registration of the new one
// happen under a per-key lock, so concurrent starts for one directory
// cannot both launch. Starts for different directories run in parallel.
func (r *Runner) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	// Step 1: Normalize the key and make sure it is a directory.
	key, err := Key(req.Dir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(key); err != nil || !fi.IsDir() {
		return nil, model.NewKindError(model.KindNotFound, fmt.Sprintf("directory %s does not exist", key), nil)
	}

	unlock := r.registry.Lock(key)
	defer unlock()
	if r.registry.Closed() {
		return nil, fmt.Errorf("start %s: %w", key, ErrTornDown)
	}

	// Step 2: Enforce one instance per key.
	if existing, ok := r.registry.Lookup(key); ok {
		if !req.Replace {
			return nil, fmt.Errorf("%s is already served on port %d: %w", key, existing.Port, model.ErrAlreadyRunning)
		}
		if _, _, err := r.registry.Unregister(ctx, key); err != nil {
			r.logger.Warn("replacing instance: stop failed", logging.String(logging.FieldKey, key), logging.Error(err))
		}
	}

	// Step 3: Resolve settings, log file and binaries.
	settings, warnings, err := r.EffectiveSettings(key)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		r.logger.Warn("settings adjusted", logging.Event("settings_warning"), logging.String(logging.FieldKey, key), logging.String("warning", w))
	}

	finder := discovery.Finder{Patterns: settings.LogPatterns}
	logFile, err := finder.Resolve(key, req.File)
	if err != nil {
		if errors.Is(err, model.ErrLogFileNotFound) {
			return nil, &model.CLIError{Code: model.ExitLogFileNotFound, Kind: model.KindNotFound, Message: "log file not found", Err: err}
		}
		return nil, err
	}

	if err := requireBinaries(r.lookPath, []Requirement{
		{Name: "tail", Command: settings.Tail.Command},
		{Name: "viewer", Command: settings.Viewer.Command},
	}); err != nil {
		return nil, err
	}

	// Step 4: Walk the port range.
	pair, result, err := r.allocate(ctx, key, logFile, settings)
	if err != nil {
		return nil, err
	}

	// Step 5: Hand the pair to the registry.
	info := model.InstanceInfo{
		ID:          uuid.NewString(),
		Key:         key,
		Port:        result.Port,
		LogFile:     logFile,
		ProducerPID: pair.ProducerPID(),
		ConsumerPID: pair.ConsumerPID(),
		StartedAt:   r.now(),
	}
	if err := r.registry.Register(info, pair); err != nil {
		_ = pair.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	r.metrics.SetInstances(r.registry.Len())

	r.logger.Info("viewer started",
		logging.Event("instance_started"),
		logging.String(logging.FieldKey, key),
		logging.Int(logging.FieldPort, info.Port),
		logging.String(logging.FieldFile, logFile),
		logging.Int("attempts", len(result.Attempts)),
	)
	return &StartResult{Instance: info, Attempts: result.Attempts, Warnings: warnings}, nil
}

// allocate runs the allocator with a launch function that spawns real
// process pairs and keeps the pair of the successful attempt.
func (r *Runner) allocate(ctx context.Context, key, logFile string, s config.Settings) (*supervisor.Pair, *port.Result, error) {
	ready, conflict, err := s.Patterns()
	if err != nil {
		return nil, nil, err
	}

	var confirm supervisor.ConfirmFunc
	if s.ConfirmReady {
		confirm = r.confirm
		if confirm == nil {
			confirm = supervisor.HTTPConfirm(nil, "127.0.0.1", 0)
		}
	}

	logger := r.logger.With(logging.String(logging.FieldKey, key))
	var pair *supervisor.Pair

	launch := func(ctx context.Context, p int) model.LaunchAttempt {
		tail := s.Tail.Expand(p, logFile)
		viewer := s.Viewer.Expand(p, logFile)
		attempt, started := supervisor.LaunchPair(ctx, supervisor.Spec{
			Producer:  supervisor.Command{Path: tail.Command, Args: tail.Args, Dir: key},
			Consumer:  supervisor.Command{Path: viewer.Command, Args: viewer.Args, Dir: key},
			Port:      p,
			Ready:     ready,
			Conflict:  conflict,
			Timeout:   s.LaunchTimeout.Std(),
			StopGrace: s.StopGrace.Std(),
			Prober:    r.prober,
			Confirm:   confirm,
			Logger:    logger,
		})
		if started != nil {
			pair = started
		}
		return attempt
	}

	alloc := port.NewAllocator(r.prober, port.Options{
		MaxAttempts:    s.MaxAttempts,
		RetryOnTimeout: s.RetryOnTimeout,
		Observe: func(a model.LaunchAttempt) {
			r.metrics.ObserveAttempt(a)
			logger.Info("launch attempt",
				logging.Event("launch_attempt"),
				logging.Int(logging.FieldPort, a.Port),
				logging.String(logging.FieldOutcome, a.Outcome.String()),
				logging.Bool("probed", a.Probed),
				logging.String("detail", a.Detail),
			)
		},
	})

	result, err := alloc.Allocate(ctx, s.PortRange, launch)
	if err != nil {
		var allocErr *model.AllocationError
		tried := 0
		if errors.As(err, &allocErr) {
			tried = len(allocErr.AttemptedPorts)
		}
		r.metrics.ObserveAllocation(model.KindOf(err), tried)
		logger.Warn("port allocation failed", logging.Event("allocation_failed"), logging.Error(err))
		return nil, nil, err
	}
	r.metrics.ObserveAllocation("", len(result.Attempts))
	return pair, result, nil
}

// Stop terminates the instance for dir. It fails with
// model.ErrInstanceNotFound when nothing runs there.
func (r *Runner) Stop(ctx context.Context, dir string) (model.InstanceInfo, error) {
	key, err := Key(dir)
	if err != nil {
		return model.InstanceInfo{}, err
	}
	unlock := r.registry.Lock(key)
	defer unlock()

	info, ok, err := r.registry.Unregister(ctx, key)
	r.metrics.SetInstances(r.registry.Len())
	if !ok {
		return model.InstanceInfo{}, fmt.Errorf("%s: %w", key, model.ErrInstanceNotFound)
	}
	return info, err
}

// Lookup returns the instance for dir.
func (r *Runner) Lookup(dir string) (model.InstanceInfo, bool) {
	key, err := Key(dir)
	if err != nil {
		return model.InstanceInfo{}, false
	}
	return r.registry.Lookup(key)
}

// Done returns a channel closed when the instance for dir exits.
func (r *Runner) Done(dir string) (<-chan struct{}, bool) {
	key, err := Key(dir)
	if err != nil {
		return nil, false
	}
	return r.registry.Done(key)
}

// List returns all running instances ordered by key.
func (r *Runner) List() []model.InstanceInfo {
	return r.registry.List()
}

// ErrTornDown is returned by Start once Teardown has been called.
var ErrTornDown = registry.ErrClosed

// Teardown stops every instance. The runner accepts no new starts
// afterwards; Start fails with ErrTornDown before touching any port.
func (r *Runner) Teardown(ctx context.Context) error {
	err := r.registry.Teardown(ctx)
	r.metrics.SetInstances(0)
	return err
}
