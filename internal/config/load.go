package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// AppName is the directory name used under the user config directory and
// the key prefix in workspace settings.
const AppName = "logdy-runner"

// WorkspaceKeyPrefix prefixes runner keys in .vscode/settings.json, e.g.
// "logdy-runner.portRange".
const WorkspaceKeyPrefix = AppName + "."

// userConfigNames are probed in order when no explicit path is given.
var userConfigNames = []string{"config.yaml", "config.yml", "config.toml"}

// Sources records which files contributed to a loaded Settings value.
type Sources struct {
	UserFile      string `json:"userFile,omitempty"`
	WorkspaceFile string `json:"workspaceFile,omitempty"`
}

// Loader resolves settings from defaults, the user file and a workspace.
type Loader struct {
	// UserConfigPath overrides the user config file location. Empty means
	// the first existing file among config.yaml, config.yml and config.toml
	// in UserConfigDir().
	UserConfigPath string
}

// UserConfigDir returns $XDG_CONFIG_HOME/logdy-runner, or
// ~/.config/logdy-runner when XDG_CONFIG_HOME is unset.
func UserConfigDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// ResolveUserFile returns the user config path to read and write. When no
// file exists yet the YAML path is returned so that writers create it.
func (l Loader) ResolveUserFile() (string, error) {
	if p := strings.TrimSpace(l.UserConfigPath); p != "" {
		return expandPath(p)
	}
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	for _, name := range userConfigNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return filepath.Join(dir, userConfigNames[0]), nil
}

// Load layers defaults, the user file and, when workspaceDir is not empty,
// the workspace settings. Missing files are skipped. The result is not
// validated; call Settings.Validate.
func (l Loader) Load(workspaceDir string) (Settings, Sources, error) {
	s := Defaults()
	var src Sources

	userFile, err := l.ResolveUserFile()
	if err != nil {
		return s, src, err
	}
	found, err := ApplyFile(&s, userFile)
	if err != nil {
		return s, src, err
	}
	if found {
		src.UserFile = userFile
	}

	if workspaceDir != "" {
		wsFile := WorkspaceSettingsPath(workspaceDir)
		found, err := ApplyWorkspace(&s, wsFile)
		if err != nil {
			return s, src, err
		}
		if found {
			src.WorkspaceFile = wsFile
		}
	}
	return s, src, nil
}

// ApplyFile overlays a YAML or TOML file onto s, chosen by extension. Keys
// absent from the file keep their current values. It reports whether the
// file existed.
func ApplyFile(s *Settings, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, s); err != nil {
			return true, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(jsonc.ToJSON(data), s); err != nil {
			return true, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return true, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return true, nil
}

// WorkspaceSettingsPath returns <dir>/.vscode/settings.json.
func WorkspaceSettingsPath(dir string) string {
	return filepath.Join(dir, ".vscode", "settings.json")
}

// ApplyWorkspace overlays the "logdy-runner.*" keys of a VS Code settings
// file onto s. The file is JSONC: comments and trailing commas are allowed.
// Unrelated keys are ignored.
func ApplyWorkspace(s *Settings, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read workspace settings %s: %w", path, err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &all); err != nil {
		return true, fmt.Errorf("parse workspace settings %s: %w", path, err)
	}

	ours := make(map[string]json.RawMessage)
	for key, value := range all {
		if name, ok := strings.CutPrefix(key, WorkspaceKeyPrefix); ok && name != "" {
			ours[name] = value
		}
	}
	if len(ours) == 0 {
		return true, nil
	}

	// Re-encode the runner keys as one object so the regular JSON tags
	// on Settings apply.
	obj, err := json.Marshal(ours)
	if err != nil {
		return true, fmt.Errorf("re-encode workspace settings: %w", err)
	}
	if err := json.Unmarshal(obj, s); err != nil {
		return true, fmt.Errorf("parse workspace settings %s: %w", path, err)
	}
	return true, nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
