package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaults_AreValid(t *testing.T) {
	s := Defaults()
	warnings, err := s.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, model.PortRange{Start: 10001, End: 10099}, s.PortRange)
	assert.Equal(t, 10, s.MaxAttempts)
	assert.Equal(t, 5*time.Second, s.LaunchTimeout.Std())
	assert.False(t, s.RetryOnTimeout)
}

// TestValidate_FallsBack verifies recoverable problems are repaired with a
// warning instead of failing.
func TestValidate_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		warning string
		check   func(*testing.T, Settings)
	}{
		{
			name:    "inverted port range",
			mutate:  func(s *Settings) { s.PortRange = model.PortRange{Start: 10099, End: 10001} },
			warning: "using default 10001-10099",
			check:   func(t *testing.T, s Settings) { assert.Equal(t, model.DefaultPortRange(), s.PortRange) },
		},
		{
			name:    "privileged port",
			mutate:  func(s *Settings) { s.PortRange = model.PortRange{Start: 80, End: 90} },
			warning: "invalid port range 80-90",
			check:   func(t *testing.T, s Settings) { assert.Equal(t, model.DefaultPortRange(), s.PortRange) },
		},
		{
			name:    "zero attempts",
			mutate:  func(s *Settings) { s.MaxAttempts = 0 },
			warning: "maxAttempts",
			check:   func(t *testing.T, s Settings) { assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts) },
		},
		{
			name:    "negative timeout",
			mutate:  func(s *Settings) { s.LaunchTimeout = Duration(-time.Second) },
			warning: "launchTimeout",
			check:   func(t *testing.T, s Settings) { assert.Equal(t, DefaultLaunchTimeout, s.LaunchTimeout.Std()) },
		},
		{
			name:    "no log patterns",
			mutate:  func(s *Settings) { s.LogPatterns = nil },
			warning: "logPatterns",
			check:   func(t *testing.T, s Settings) { assert.Equal(t, []string{"*.log"}, s.LogPatterns) },
		},
		{
			name:    "viewer without port placeholder",
			mutate:  func(s *Settings) { s.Viewer.Args = []string{"--no-analytics"} },
			warning: "{port}",
			check:   func(t *testing.T, s Settings) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			warnings, err := s.Validate()
			require.NoError(t, err)
			require.Len(t, warnings, 1)
			assert.Contains(t, warnings[0], tt.warning)
			tt.check(t, s)
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"empty viewer", func(s *Settings) { s.Viewer.Command = " " }, "viewer.command"},
		{"empty tail", func(s *Settings) { s.Tail.Command = "" }, "tail.command"},
		{"bad ready regex", func(s *Settings) { s.ReadyPattern = "(" }, "readyPattern"},
		{"bad conflict regex", func(s *Settings) { s.ConflictPattern = "[" }, "conflictPattern"},
		{"bad glob", func(s *Settings) { s.LogPatterns = []string{"[*.log"} }, "bad glob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			_, err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, model.KindInvalidConfig, model.KindOf(err))
		})
	}
}

func TestDefaultReadyPattern(t *testing.T) {
	ready, conflict, err := Defaults().Patterns()
	require.NoError(t, err)

	m := ready.FindStringSubmatch(`INFO[0000] WebUI started, visit http://127.0.0.1:10003   port=10003`)
	require.Len(t, m, 2)
	assert.Equal(t, "10003", m[1])

	assert.True(t, conflict.MatchString("listen tcp 127.0.0.1:10001: bind: address already in use"))
	assert.False(t, conflict.MatchString("WebUI started"))
}

func TestCommandSpec_Expand(t *testing.T) {
	spec := Defaults().Viewer.Expand(10005, "/var/log/app.log")
	assert.Equal(t, "logdy", spec.Command)
	assert.Equal(t, []string{"--port=10005", "--ui-ip=127.0.0.1", "--no-analytics"}, spec.Args)

	tail := Defaults().Tail.Expand(10005, "/var/log/app.log")
	assert.Equal(t, []string{"-n", "1000", "-F", "/var/log/app.log"}, tail.Args)
	assert.Equal(t, PlaceholderFile, Defaults().Tail.Args[3], "Expand must not mutate the template")
}

func TestDuration_Decoding(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1500ms"`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`2000`), &d))
	assert.Equal(t, 2*time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	out, err := json.Marshal(Duration(5 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"5s"`, string(out))
}

func TestLoad_YAMLUserFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
portRange:
  start: 20000
  end: 20010
launchTimeout: 2s
retryOnTimeout: true
viewer:
  command: /opt/logdy/bin/logdy
  args: ["--port={port}"]
`)

	s, src, err := Loader{UserConfigPath: path}.Load("")
	require.NoError(t, err)
	assert.Equal(t, path, src.UserFile)
	assert.Equal(t, model.PortRange{Start: 20000, End: 20010}, s.PortRange)
	assert.Equal(t, 2*time.Second, s.LaunchTimeout.Std())
	assert.True(t, s.RetryOnTimeout)
	assert.Equal(t, "/opt/logdy/bin/logdy", s.Viewer.Command)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts)
	assert.Equal(t, "tail", s.Tail.Command)
}

func TestLoad_TOMLUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
maxAttempts = 3
stopGrace = "1s"
logPatterns = ["*.log", "*.txt"]

[portRange]
start = 30000
end = 30005
`)

	s, _, err := Loader{UserConfigPath: path}.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxAttempts)
	assert.Equal(t, time.Second, s.StopGrace.Std())
	assert.Equal(t, []string{"*.log", "*.txt"}, s.LogPatterns)
	assert.Equal(t, model.PortRange{Start: 30000, End: 30005}, s.PortRange)
}

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	s, src, err := Loader{UserConfigPath: filepath.Join(t.TempDir(), "none.yaml")}.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
	assert.Empty(t, src.UserFile)
	assert.Empty(t, src.WorkspaceFile)
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "portRange: [unclosed")

	_, _, err := Loader{UserConfigPath: path}.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

// TestLoad_WorkspaceOverridesUser verifies precedence and JSONC handling:
// comments and trailing commas are accepted and unrelated keys ignored.
func TestLoad_WorkspaceOverridesUser(t *testing.T) {
	userPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, userPath, "maxAttempts: 4\nportRange: {start: 20000, end: 20010}\n")

	ws := t.TempDir()
	writeFile(t, WorkspaceSettingsPath(ws), `{
  // editor settings
  "editor.tabSize": 2,
  "logdy-runner.portRange": {"start": 40000, "end": 40009},
  "logdy-runner.autoOpenBrowser": false,
  "logdy-runner.launchTimeout": 1500, /* milliseconds */
}`)

	s, src, err := Loader{UserConfigPath: userPath}.Load(ws)
	require.NoError(t, err)
	assert.Equal(t, WorkspaceSettingsPath(ws), src.WorkspaceFile)
	assert.Equal(t, model.PortRange{Start: 40000, End: 40009}, s.PortRange)
	assert.Equal(t, 4, s.MaxAttempts, "user value survives when workspace is silent")
	assert.False(t, s.AutoOpenBrowser)
	assert.Equal(t, 1500*time.Millisecond, s.LaunchTimeout.Std())
}

func TestResolveUserFile_PrefersExisting(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := UserConfigDir()
	require.NoError(t, err)

	path, err := Loader{}.ResolveUserFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path, "yaml is the default for new files")

	writeFile(t, filepath.Join(dir, "config.toml"), "maxAttempts = 2\n")
	path, err = Loader{}.ResolveUserFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), path)
}

func TestValidateNewRange(t *testing.T) {
	assert.NoError(t, ValidateNewRange(model.PortRange{Start: 10001, End: 10099}))
	assert.ErrorContains(t, ValidateNewRange(model.PortRange{Start: 10001, End: 10001}), "greater than")
	assert.ErrorContains(t, ValidateNewRange(model.PortRange{Start: 500, End: 10001}), "between 1024 and 65535")
	assert.ErrorContains(t, ValidateNewRange(model.PortRange{Start: 10001, End: 70000}), "between")
}

func TestSavePortRange_YAMLKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SavePortRange(path, model.PortRange{Start: 11000, End: 11050}))

	s, _, err := Loader{UserConfigPath: path}.Load("")
	require.NoError(t, err)
	assert.Equal(t, model.PortRange{Start: 11000, End: 11050}, s.PortRange)

	writeFile(t, path, "maxAttempts: 7\nportRange: {start: 1, end: 2}\n")
	require.NoError(t, SavePortRange(path, model.PortRange{Start: 12000, End: 12010}))

	s, _, err = Loader{UserConfigPath: path}.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, s.MaxAttempts)
	assert.Equal(t, model.PortRange{Start: 12000, End: 12010}, s.PortRange)
}

func TestSavePortRange_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "maxAttempts = 6\n")

	require.NoError(t, SavePortRange(path, model.PortRange{Start: 13000, End: 13010}))

	s, _, err := Loader{UserConfigPath: path}.Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, s.MaxAttempts)
	assert.Equal(t, model.PortRange{Start: 13000, End: 13010}, s.PortRange)
}

func TestSavePortRange_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := SavePortRange(path, model.PortRange{Start: 20000, End: 10000})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing is written for an invalid range")
}

func TestWatch_ReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func() { changes.Add(1) })
	}()

	// Changes to other files in the same directory are ignored; writes to
	// the target eventually trigger exactly one debounced callback per burst.
	require.Eventually(t, func() bool {
		writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), "x: 1\n")
		writeFile(t, path, "maxAttempts: 3\n")
		return changes.Load() > 0
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
