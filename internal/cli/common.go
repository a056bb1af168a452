package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pozicube/logdy-runner/internal/config"
	"github.com/pozicube/logdy-runner/internal/daemon"
	"github.com/pozicube/logdy-runner/internal/ipc"
	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// loader returns the settings loader honoring --config.
func loader() config.Loader {
	return config.Loader{UserConfigPath: configPath}
}

// loadSettings layers defaults, the user file and, when workspaceDir is
// set, the workspace settings, then applies global flag overrides. The
// result is not validated.
func loadSettings(workspaceDir string) (config.Settings, config.Sources, error) {
	s, src, err := loader().Load(workspaceDir)
	if err != nil {
		return s, src, model.WrapCLIError(model.ExitInvalidConfig, "failed to load settings", err)
	}
	if logLevel != "" {
		s.LogLevel = logLevel
	}
	if logFormat != "" {
		s.LogFormat = logFormat
	}
	VerboseLog("Settings: user file %q, workspace file %q", src.UserFile, src.WorkspaceFile)
	return s, src, nil
}

// newLogger builds the process logger from settings. JSON output mode
// forces JSON logs so stderr stays machine-readable.
func newLogger(s config.Settings) (*slog.Logger, error) {
	format := s.LogFormat
	if jsonOutput {
		format = "json"
	}
	logger, err := logging.New(logging.Options{Level: s.LogLevel, Format: format, Output: os.Stderr})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid logging settings", err)
	}
	return logger, nil
}

// daemonPaths honors --socket; the lock file sits next to the socket.
func daemonPaths() daemon.Paths {
	if socketPath != "" {
		return daemon.Paths{Socket: socketPath, Lock: socketPath + ".lock"}
	}
	return daemon.DefaultPaths()
}

// dialDaemon connects to the daemon socket.
func dialDaemon() (*ipc.Client, error) {
	paths := daemonPaths()
	VerboseLog("Connecting to daemon at %s", paths.Socket)
	return ipc.Dial(paths.Socket)
}

// resolveDir turns the optional directory argument into an instance key.
func resolveDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	key, err := runner.Key(dir)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError, "invalid directory", err)
	}
	return key, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

// printWarnings writes settings warnings to stderr.
func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable renders rows as a rounded go-pretty table.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// openURL opens url in the default browser.
func openURL(url string) error {
	var cmd string
	var args []string

	switch {
	case runtime.GOOS == "windows":
		cmd = "cmd"
		args = []string{"/c", "start", "", url}
	case isCommandAvailable("open"): // macOS
		cmd = "open"
		args = []string{url}
	case isCommandAvailable("xdg-open"): // Linux
		cmd = "xdg-open"
		args = []string{url}
	default:
		return fmt.Errorf("no browser opener found")
	}

	return exec.Command(cmd, args...).Start()
}

// isCommandAvailable checks if a command is available in PATH.
func isCommandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
