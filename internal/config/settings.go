// Package config holds the runner settings and loads them from layered
// sources: built-in defaults, the user config file (YAML or TOML), the
// workspace's .vscode/settings.json, and finally command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pozicube/logdy-runner/internal/model"
)

// Placeholders substituted into tail and viewer arguments.
const (
	PlaceholderPort = "{port}"
	PlaceholderFile = "{file}"
)

// Default values. They mirror what a fresh install of the editor extension
// would use.
const (
	DefaultMaxAttempts     = 10
	DefaultLaunchTimeout   = 5 * time.Second
	DefaultStopGrace       = 3 * time.Second
	DefaultReadyPattern    = `(?i)(?:WebUI started|listening)\b.*?https?://[^\s/]+:(\d+)`
	DefaultConflictPattern = `(?i)address already in use|EADDRINUSE|bind: .*in use`
	DefaultLogFormat       = "auto"
	DefaultLogLevel        = "info"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("5s", "1m30s") in every config format. In JSON a bare number is taken as
// milliseconds, matching how editor settings usually express timeouts.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts both "5s" and 5000.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// CommandSpec is an external command template. Args may contain the
// {port} and {file} placeholders.
type CommandSpec struct {
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
}

// Expand returns a copy with placeholders replaced.
func (c CommandSpec) Expand(port int, file string) CommandSpec {
	r := strings.NewReplacer(PlaceholderPort, strconv.Itoa(port), PlaceholderFile, file)
	out := CommandSpec{Command: c.Command, Args: make([]string, len(c.Args))}
	for i, a := range c.Args {
		out.Args[i] = r.Replace(a)
	}
	return out
}

func (c CommandSpec) String() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// Settings is the complete runner configuration.
type Settings struct {
	// PortRange is the inclusive range of ports the viewer may bind.
	PortRange model.PortRange `json:"portRange" yaml:"portRange" toml:"portRange"`

	// MaxAttempts caps how many ports one start probes.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts" toml:"maxAttempts"`

	// LaunchTimeout bounds the wait for the viewer's ready signal.
	LaunchTimeout Duration `json:"launchTimeout" yaml:"launchTimeout" toml:"launchTimeout"`

	// RetryOnTimeout moves on to the next port after a launch timeout
	// instead of failing the start.
	RetryOnTimeout bool `json:"retryOnTimeout" yaml:"retryOnTimeout" toml:"retryOnTimeout"`

	// StopGrace is the SIGTERM-to-SIGKILL delay when stopping processes.
	StopGrace Duration `json:"stopGrace" yaml:"stopGrace" toml:"stopGrace"`

	// Tail is the producer command streaming the log file.
	Tail CommandSpec `json:"tail" yaml:"tail" toml:"tail"`

	// Viewer is the consumer command serving the web UI.
	Viewer CommandSpec `json:"viewer" yaml:"viewer" toml:"viewer"`

	// ReadyPattern matches the viewer's ready line on stdout. An optional
	// first capture group holds the bound port.
	ReadyPattern string `json:"readyPattern" yaml:"readyPattern" toml:"readyPattern"`

	// ConflictPattern matches an address-in-use line on stderr.
	ConflictPattern string `json:"conflictPattern" yaml:"conflictPattern" toml:"conflictPattern"`

	// ConfirmReady double-checks readiness with an HTTP HEAD request.
	ConfirmReady bool `json:"confirmReady" yaml:"confirmReady" toml:"confirmReady"`

	// AutoOpenBrowser opens the viewer URL after a successful start.
	AutoOpenBrowser bool `json:"autoOpenBrowser" yaml:"autoOpenBrowser" toml:"autoOpenBrowser"`

	// LogPatterns are glob patterns used to auto-detect a log file.
	LogPatterns []string `json:"logPatterns" yaml:"logPatterns" toml:"logPatterns"`

	// MetricsAddr is the daemon's Prometheus listen address. Empty
	// disables the endpoint.
	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr" toml:"metricsAddr"`

	LogLevel  string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat" toml:"logFormat"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		PortRange:     model.DefaultPortRange(),
		MaxAttempts:   DefaultMaxAttempts,
		LaunchTimeout: Duration(DefaultLaunchTimeout),
		StopGrace:     Duration(DefaultStopGrace),
		Tail: CommandSpec{
			Command: "tail",
			Args:    []string{"-n", "1000", "-F", PlaceholderFile},
		},
		Viewer: CommandSpec{
			Command: "logdy",
			Args:    []string{"--port=" + PlaceholderPort, "--ui-ip=127.0.0.1", "--no-analytics"},
		},
		ReadyPattern:    DefaultReadyPattern,
		ConflictPattern: DefaultConflictPattern,
		ConfirmReady:    true,
		AutoOpenBrowser: true,
		LogPatterns:     []string{"*.log"},
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// Validate repairs recoverable problems in place and returns a warning for
// each repair. Problems that cannot be repaired (missing commands, broken
// patterns) are returned as an error of kind model.KindInvalidConfig.
//
// An invalid port range falls back to the default range rather than
// failing, so a typo in settings never blocks starting a viewer.
func (s *Settings) Validate() ([]string, error) {
	var warnings []string
	d := Defaults()

	if err := s.PortRange.Validate(); err != nil {
		warnings = append(warnings, fmt.Sprintf("invalid port range %s (%v); using default %s", s.PortRange, err, d.PortRange))
		s.PortRange = d.PortRange
	}
	if s.MaxAttempts <= 0 {
		warnings = append(warnings, fmt.Sprintf("maxAttempts %d must be positive; using %d", s.MaxAttempts, d.MaxAttempts))
		s.MaxAttempts = d.MaxAttempts
	}
	if s.LaunchTimeout <= 0 {
		warnings = append(warnings, fmt.Sprintf("launchTimeout %s must be positive; using %s", s.LaunchTimeout, d.LaunchTimeout))
		s.LaunchTimeout = d.LaunchTimeout
	}
	if s.StopGrace <= 0 {
		warnings = append(warnings, fmt.Sprintf("stopGrace %s must be positive; using %s", s.StopGrace, d.StopGrace))
		s.StopGrace = d.StopGrace
	}
	if len(s.LogPatterns) == 0 {
		warnings = append(warnings, "logPatterns is empty; using *.log")
		s.LogPatterns = d.LogPatterns
	}
	switch strings.ToLower(strings.TrimSpace(s.LogFormat)) {
	case "", "auto", "json", "console", "text":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown logFormat %q; using %s", s.LogFormat, d.LogFormat))
		s.LogFormat = d.LogFormat
	}

	if strings.TrimSpace(s.Tail.Command) == "" {
		return warnings, invalid("tail.command must not be empty")
	}
	if strings.TrimSpace(s.Viewer.Command) == "" {
		return warnings, invalid("viewer.command must not be empty")
	}
	if !containsPlaceholder(s.Tail.Args, PlaceholderFile) {
		warnings = append(warnings, "tail.args has no {file} placeholder; the producer will not follow the selected log file")
	}
	if !containsPlaceholder(s.Viewer.Args, PlaceholderPort) {
		warnings = append(warnings, "viewer.args has no {port} placeholder; the viewer cannot be moved to another port")
	}
	for _, p := range s.LogPatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return warnings, invalid(fmt.Sprintf("logPatterns: bad glob %q", p))
		}
	}
	if _, _, err := s.Patterns(); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// Patterns compiles the ready and conflict patterns.
func (s Settings) Patterns() (ready, conflict *regexp.Regexp, err error) {
	ready, err = regexp.Compile(s.ReadyPattern)
	if err != nil {
		return nil, nil, invalid(fmt.Sprintf("readyPattern: %v", err))
	}
	conflict, err = regexp.Compile(s.ConflictPattern)
	if err != nil {
		return nil, nil, invalid(fmt.Sprintf("conflictPattern: %v", err))
	}
	return ready, conflict, nil
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

func invalid(msg string) error {
	return model.NewKindError(model.KindInvalidConfig, "invalid configuration: "+msg, nil)
}
