// Package cli implements the cobra-based CLI commands for logdy-runner.
//
// Each subcommand is defined in its own file within this package. This file
// defines the root command that serves as the parent for all subcommands
// and handles global flags and exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pozicube/logdy-runner/internal/model"
)

// Global flag variables shared across all subcommands. They are bound to
// cobra persistent flags on the root command.
var (
	// jsonOutput switches command output to structured JSON.
	jsonOutput bool

	// verbose enables [verbose] trace lines on stderr.
	verbose bool

	// configPath overrides the user config file location.
	configPath string

	// socketPath overrides the daemon socket location.
	socketPath string

	// logLevel and logFormat override the settings of the same name for
	// commands that log (serve, run).
	logLevel  string
	logFormat string
)

// Version, Commit and Date are set at build time via ldflags.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action; it only provides
// help text and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logdy-runner",
		Short: "Run a Logdy log viewer per directory on a free port",
		Long: `logdy-runner streams a log file into a Logdy web viewer, one viewer per
directory, each on its own port from a configured range.

A daemon ("logdy-runner serve") owns the running viewers. The other commands
talk to it over a unix socket. "logdy-runner run" works without a daemon and
keeps the viewer in the foreground.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVar(&configPath, "config", "", "User config file (default ~/.config/logdy-runner/config.yaml)")
	flags.StringVar(&socketPath, "socket", "", "Daemon socket path (default $XDG_RUNTIME_DIR/logdy-runner/daemon.sock)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "Log format: auto, console, json")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewToggleCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewPortsCommand())
	rootCmd.AddCommand(NewURLCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewShutdownCommand())

	return rootCmd
}

// Execute runs the root command and translates errors into exit codes.
// CLIError values carry their own code; other classified errors are mapped
// by kind; everything else exits with code 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		cliErr := asCLIError(err)
		printError(cliErr)
		os.Exit(int(cliErr.Code))
	}
}

// asCLIError normalizes err into a CLIError.
func asCLIError(err error) *model.CLIError {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		if cliErr.Kind == "" {
			cliErr.Kind = model.KindOf(cliErr.Err)
		}
		return cliErr
	}

	kind := model.KindOf(err)
	out := &model.CLIError{Code: model.ExitGeneralError, Kind: kind, Message: err.Error()}
	if kind != "" {
		out.Code = model.ExitCodeForKind(kind)
	}
	var allocErr *model.AllocationError
	if errors.As(err, &allocErr) {
		out.AttemptedPorts = allocErr.AttemptedPorts
	}
	return out
}

// errorJSON is the JSON error envelope written to stderr.
type errorJSON struct {
	Error errorBodyJSON `json:"error"`
}

type errorBodyJSON struct {
	Code           int    `json:"code"`
	Kind           string `json:"kind,omitempty"`
	Message        string `json:"message"`
	Detail         string `json:"detail,omitempty"`
	AttemptedPorts []int  `json:"attemptedPorts,omitempty"`
}

// printError outputs an error in the format selected by --json. Errors go
// to stderr even in JSON mode; stdout is reserved for results.
func printError(cliErr *model.CLIError) {
	if jsonOutput {
		body := errorBodyJSON{
			Code:           int(cliErr.Code),
			Kind:           string(cliErr.Kind),
			Message:        cliErr.Message,
			AttemptedPorts: cliErr.AttemptedPorts,
		}
		if cliErr.Err != nil {
			body.Detail = cliErr.Err.Error()
		}
		data, _ := json.MarshalIndent(errorJSON{Error: body}, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", cliErr.Error())
	if len(cliErr.AttemptedPorts) > 0 {
		fmt.Fprintf(os.Stderr, "Tried ports: %s\n", model.FormatPorts(cliErr.AttemptedPorts))
	}
}

// VerboseLog prints a message to stderr only when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
