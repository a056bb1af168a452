package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/pozicube/logdy-runner/internal/model"
)

// ValidateNewRange checks a range entered by the user. It is stricter than
// PortRange.Validate: a single-port range is rejected because the runner
// could never move off a busy port.
func ValidateNewRange(r model.PortRange) error {
	if r.Start < model.MinPort || r.Start > model.MaxPort || r.End < model.MinPort || r.End > model.MaxPort {
		return invalid(fmt.Sprintf("ports must be between %d and %d", model.MinPort, model.MaxPort))
	}
	if r.End <= r.Start {
		return invalid(fmt.Sprintf("end port %d must be greater than start port %d", r.End, r.Start))
	}
	return nil
}

// SavePortRange writes portRange into the user config file at path,
// keeping every other key. The format follows the file extension; the file
// and its directory are created when missing.
func SavePortRange(path string, r model.PortRange) error {
	if err := ValidateNewRange(r); err != nil {
		return err
	}

	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeDocument(path, data, &doc); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read config %s: %w", path, err)
	}

	doc["portRange"] = map[string]any{"start": r.Start, "end": r.End}

	out, err := encodeDocument(path, doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// Write to a sibling file and rename so a watcher never reads a
	// half-written config.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decodeDocument(path string, data []byte, doc *map[string]any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var err error
	if isTOML(path) {
		err = toml.Unmarshal(data, doc)
	} else {
		err = yaml.Unmarshal(data, doc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if *doc == nil {
		*doc = map[string]any{}
	}
	return nil
}

func encodeDocument(path string, doc map[string]any) ([]byte, error) {
	if isTOML(path) {
		out, err := toml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		return out, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
