package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	flags := &startFlags{}

	cmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Run a viewer in the foreground without a daemon",
		Long: `Start a viewer for a directory in this process and keep it running until
interrupted (Ctrl-C) or until the viewer exits. Nothing is left running
afterwards.

Examples:
  logdy-runner run
  logdy-runner run ./service --file logs/app.log --no-browser`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), args, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Log file to stream (default: newest file matching logPatterns)")
	cmd.Flags().BoolVar(&flags.noBrowser, "no-browser", false, "Do not open the browser even if autoOpenBrowser is set")
	return cmd
}

func runRun(ctx context.Context, args []string, flags *startFlags) error {
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}

	// Step 1: Build an in-process runner from the base settings. The
	// runner layers the directory's workspace settings itself.
	settings, _, err := loadSettings("")
	if err != nil {
		return err
	}
	logger, err := newLogger(settings)
	if err != nil {
		return err
	}
	r, warnings, err := runner.New(runner.Options{Settings: settings, Logger: logger})
	if err != nil {
		return err
	}
	printWarnings(warnings)

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Step 2: Start. Every path out of this function tears down.
	defer func() {
		stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 2*settings.StopGrace.Std()+time.Second)
		defer stop()
		if err := r.Teardown(stopCtx); err != nil {
			logger.Warn("teardown incomplete", logging.Error(err))
		}
	}()

	result, err := r.Start(signalCtx, runner.StartRequest{Dir: dir, File: flags.file})
	if err != nil {
		return err
	}
	printStartResult(result)
	maybeOpenBrowser(dir, result, flags.noBrowser)

	// Step 3: Block until interrupted or the viewer exits.
	done, ok := r.Done(dir)
	if !ok {
		return model.NewKindError(model.KindProcessError, "viewer exited right after starting", nil)
	}
	if !IsJSONOutput() {
		fmt.Fprintln(os.Stderr, "Press Ctrl-C to stop.")
	}
	select {
	case <-signalCtx.Done():
		VerboseLog("Interrupted; stopping viewer")
		return nil
	case <-done:
		return model.NewKindError(model.KindProcessError, "viewer exited unexpectedly", nil)
	}
}
