package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/ipc"
	"github.com/pozicube/logdy-runner/internal/runner"
)

type startFlags struct {
	file      string
	replace   bool
	noBrowser bool
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Log file to stream (default: newest file matching logPatterns)")
	cmd.Flags().BoolVar(&f.replace, "replace", false, "Stop a viewer already running for the directory first")
	cmd.Flags().BoolVar(&f.noBrowser, "no-browser", false, "Do not open the browser even if autoOpenBrowser is set")
}

// NewStartCommand creates the "start" cobra command.
func NewStartCommand() *cobra.Command {
	flags := &startFlags{}

	cmd := &cobra.Command{
		Use:   "start [dir]",
		Short: "Start a viewer for a directory",
		Long: `Start a Logdy viewer for a directory (default: the current directory).

The daemon walks the configured port range, launching tail and logdy on
each candidate until one comes up. The chosen port is reported and, when
autoOpenBrowser is set, opened in the browser.

Examples:
  logdy-runner start
  logdy-runner start ./service --file logs/app.log
  logdy-runner start --replace --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), args, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runStart(_ context.Context, args []string, flags *startFlags) error {
	// Step 1: Resolve the directory locally; the daemon's cwd is unrelated.
	dir, err := resolveDir(args)
	if err != nil {
		return err
	}

	// Step 2: Ask the daemon.
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	result, err := client.Start(ipc.StartRequest{Dir: dir, File: flags.file, Replace: flags.replace})
	if err != nil {
		return err
	}

	// Step 3: Report and optionally open the browser.
	printStartResult(result)
	maybeOpenBrowser(dir, result, flags.noBrowser)
	return nil
}

// printStartResult reports a started instance in text or JSON.
func printStartResult(result *runner.StartResult) {
	if IsJSONOutput() {
		printJSON(result)
		return
	}
	printWarnings(result.Warnings)
	for _, a := range result.Attempts {
		VerboseLog("Attempt %s", a)
	}
	inst := result.Instance
	fmt.Printf("Logdy running for %s\n", inst.Key)
	fmt.Printf("  URL:   %s\n", inst.URL())
	fmt.Printf("  File:  %s\n", inst.LogFile)
	fmt.Printf("  Ports tried: %d\n", len(result.Attempts))
}

// maybeOpenBrowser opens the viewer when the directory's settings ask for
// it. JSON mode never opens a browser.
func maybeOpenBrowser(dir string, result *runner.StartResult, noBrowser bool) {
	if noBrowser || IsJSONOutput() {
		return
	}
	s, _, err := loadSettings(dir)
	if err != nil || !s.AutoOpenBrowser {
		return
	}
	if err := openURL(result.Instance.URL()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open browser: %v\n", err)
	}
}
