package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/daemon"
	"github.com/pozicube/logdy-runner/internal/docker"
	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

type serveFlags struct {
	metricsAddr string
	noDocker    bool
}

// NewServeCommand creates the "serve" cobra command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon that owns the viewers",
		Long: `Run the logdy-runner daemon in the foreground.

The daemon listens on a unix socket for start/stop/list requests, reloads
its settings when the user config file changes, and stops every viewer it
started when it exits (SIGINT, SIGTERM or "logdy-runner shutdown").

Examples:
  logdy-runner serve
  logdy-runner serve --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metricsAddr)")
	cmd.Flags().BoolVar(&flags.noDocker, "no-docker", false, "Do not query Docker for port owners")
	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	// Step 1: Load base settings. Workspace overrides apply per start.
	load := func() (config.Settings, error) {
		s, _, err := loadSettings("")
		if err != nil {
			return s, err
		}
		if flags.metricsAddr != "" {
			s.MetricsAddr = flags.metricsAddr
		}
		return s, nil
	}
	settings, err := load()
	if err != nil {
		return err
	}
	logger, err := newLogger(settings)
	if err != nil {
		return err
	}

	configFile, err := loader().ResolveUserFile()
	if err != nil {
		logger.Warn("cannot resolve user config file; reload disabled", logging.Error(err))
		configFile = ""
	}

	// Step 2: Port owner attribution is best effort.
	var owners runner.OwnerLookup
	if !flags.noDocker {
		if dc := dockerOwners(ctx, logger); dc != nil {
			defer func() { _ = dc.Close() }()
			owners = dc
		}
	}

	// Step 3: Run until a signal or a shutdown request.
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(daemon.Options{
		Settings:   settings,
		Paths:      daemonPaths(),
		Version:    Version,
		Logger:     logger,
		ConfigFile: configFile,
		Reload:     load,
		Owners:     owners,
	})
	if err != nil {
		return err
	}
	printWarnings(d.Warnings())

	if err := d.Run(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("a daemon is already serving %s", daemonPaths().Socket), err)
		}
		return err
	}
	return nil
}

// dockerOwners connects to Docker when it is reachable. It returns nil
// otherwise.
func dockerOwners(ctx context.Context, logger *slog.Logger) *docker.Client {
	dc, err := docker.NewClient()
	if err != nil {
		logger.Debug("docker unavailable; port owners will be unknown", logging.Error(err))
		return nil
	}
	if err := dc.Ping(ctx); err != nil {
		logger.Debug("docker not responding; port owners will be unknown", logging.Error(err))
		_ = dc.Close()
		return nil
	}
	return dc
}
