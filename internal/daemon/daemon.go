package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/ipc"
	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/metrics"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// ErrAlreadyRunning is returned by Run when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another logdy-runner daemon is already running")

// Options configures a Daemon.
type Options struct {
	Settings config.Settings
	Paths    Paths
	Version  string
	Logger   *slog.Logger

	// ConfigFile is watched for changes when not empty. Reload is called on
	// every change and its result replaces the base settings.
	ConfigFile string
	Reload     func() (config.Settings, error)

	// Owners attributes foreign ports in `ports` reports. Optional.
	Owners runner.OwnerLookup

	// Runner overrides the runner options derived from Settings. Tests use
	// it to inject a fake prober.
	Runner *runner.Options
}

// Daemon serves a runner over IPC until its context ends or a client asks
// it to shut down.
type Daemon struct {
	opts    Options
	logger  *slog.Logger
	runner  *runner.Runner
	metrics *metrics.Collector
	lock    *flock.Flock

	startedAt time.Time

	mu         sync.Mutex
	warnings   []string
	metricsURL string

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds a daemon. Nothing is started until Run.
func New(opts Options) (*Daemon, error) {
	if opts.Paths.Socket == "" || opts.Paths.Lock == "" {
		return nil, errors.New("daemon requires socket and lock paths")
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	collector := metrics.NewCollector(metrics.DefaultNamespace)

	runnerOpts := runner.Options{}
	if opts.Runner != nil {
		runnerOpts = *opts.Runner
	}
	runnerOpts.Settings = opts.Settings
	runnerOpts.Logger = opts.Logger
	runnerOpts.Metrics = collector

	r, warnings, err := runner.New(runnerOpts)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		opts:     opts,
		logger:   logger,
		runner:   r,
		metrics:  collector,
		lock:     flock.New(opts.Paths.Lock),
		warnings: warnings,
		shutdown: make(chan struct{}),
	}, nil
}

// Runner returns the runner the daemon serves.
func (d *Daemon) Runner() *runner.Runner { return d.runner }

// Run acquires the daemon lock, serves IPC and blocks until ctx is done or
// Shutdown is called. All instances are stopped before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	// Step 1: Single-instance lock.
	if err := os.MkdirAll(filepath.Dir(d.opts.Paths.Lock), 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()
	d.startedAt = time.Now()

	for _, w := range d.Warnings() {
		d.logger.Warn("settings adjusted", logging.Event("settings_warning"), logging.String("warning", w))
	}

	// Step 2: IPC server.
	server, err := ipc.NewServer(ctx, d.opts.Paths.Socket, d, d.opts.Logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	server.Serve()
	d.logger.Info("daemon started",
		logging.Event("daemon_started"),
		logging.String("socket", d.opts.Paths.Socket),
		logging.Int(logging.FieldPID, os.Getpid()),
		logging.String("port_range", d.runner.Settings().PortRange.String()),
	)

	// Step 3: Background services. Any of them failing ends the daemon.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-d.shutdown:
		}
		return errStopped
	})
	if addr := d.runner.Settings().MetricsAddr; addr != "" {
		g.Go(func() error { return d.serveMetrics(gctx, addr) })
	}
	if d.opts.ConfigFile != "" && d.opts.Reload != nil {
		g.Go(func() error {
			return config.Watch(gctx, d.opts.ConfigFile, d.logger, d.reload)
		})
	}
	runErr := g.Wait()
	if errors.Is(runErr, errStopped) {
		runErr = nil
	}

	// Step 4: Teardown. Clients are cut off first so no start can race it.
	d.logger.Info("daemon shutting down", logging.Event("daemon_stopping"), logging.Int("instances", len(d.runner.List())))
	server.Close()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*d.runner.Settings().StopGrace.Std()+time.Second)
	defer cancel()
	if err := d.runner.Teardown(stopCtx); err != nil {
		d.logger.Warn("teardown incomplete", logging.Event("teardown_failed"), logging.Error(err))
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// errStopped ends the errgroup on a normal shutdown.
var errStopped = errors.New("daemon stopped")

func (d *Daemon) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	d.mu.Lock()
	d.metricsURL = fmt.Sprintf("http://%s/metrics", ln.Addr())
	d.mu.Unlock()
	d.logger.Info("metrics endpoint listening", logging.Event("metrics_listening"), logging.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// reload replaces the base settings after a config file change. A broken
// file keeps the previous settings.
func (d *Daemon) reload() {
	s, err := d.opts.Reload()
	if err != nil {
		d.logger.Warn("config reload failed; keeping previous settings", logging.Event("config_reload_failed"), logging.Error(err))
		return
	}
	warnings, err := d.runner.UpdateSettings(s)
	if err != nil {
		d.logger.Warn("config reload rejected; keeping previous settings", logging.Event("config_reload_failed"), logging.Error(err))
		return
	}
	d.mu.Lock()
	d.warnings = warnings
	d.mu.Unlock()
	for _, w := range warnings {
		d.logger.Warn("settings adjusted", logging.Event("settings_warning"), logging.String("warning", w))
	}
	d.logger.Info("config reloaded",
		logging.Event("config_reloaded"),
		logging.String(logging.FieldFile, d.opts.ConfigFile),
		logging.String("port_range", s.PortRange.String()),
	)
}

// Warnings returns the validation warnings of the current base settings.
func (d *Daemon) Warnings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.warnings...)
}

// Start implements ipc.Backend.
func (d *Daemon) Start(ctx context.Context, req runner.StartRequest) (*runner.StartResult, error) {
	return d.runner.Start(ctx, req)
}

// Stop implements ipc.Backend.
func (d *Daemon) Stop(ctx context.Context, dir string) (model.InstanceInfo, error) {
	return d.runner.Stop(ctx, dir)
}

// List implements ipc.Backend.
func (d *Daemon) List() []model.InstanceInfo { return d.runner.List() }

// Lookup implements ipc.Backend.
func (d *Daemon) Lookup(dir string) (model.InstanceInfo, bool) { return d.runner.Lookup(dir) }

// PortUsage implements ipc.Backend.
func (d *Daemon) PortUsage(ctx context.Context) (model.PortRange, []runner.PortUse) {
	return d.runner.PortUsage(ctx, d.opts.Owners)
}

// Status implements ipc.Backend.
func (d *Daemon) Status() ipc.StatusResponse {
	d.mu.Lock()
	metricsURL := d.metricsURL
	d.mu.Unlock()
	return ipc.StatusResponse{
		PID:        os.Getpid(),
		Version:    d.opts.Version,
		Socket:     d.opts.Paths.Socket,
		ConfigFile: d.opts.ConfigFile,
		MetricsURL: metricsURL,
		StartedAt:  d.startedAt,
		Instances:  len(d.runner.List()),
		PortRange:  d.runner.Settings().PortRange,
		Warnings:   d.Warnings(),
	}
}

// Shutdown implements ipc.Backend. It only signals Run and returns
// immediately.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}
