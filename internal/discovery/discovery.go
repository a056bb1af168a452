// Package discovery locates the log file to stream for a directory when the
// caller does not name one explicitly.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pozicube/logdy-runner/internal/model"
)

// DefaultSubdirs are searched, in order, when the directory itself holds no
// matching file.
var DefaultSubdirs = []string{"logs", "log"}

// Finder selects the most recently modified file matching one of Patterns.
type Finder struct {
	// Patterns are filepath.Match globs tested against the base name.
	Patterns []string

	// Subdirs are searched one level deep when dir has no match. Nil means
	// DefaultSubdirs.
	Subdirs []string
}

// Find returns the newest matching file directly in dir or, failing that,
// in the first subdirectory that has one. The error wraps
// model.ErrLogFileNotFound when nothing matches.
func (f Finder) Find(dir string) (string, error) {
	if len(f.Patterns) == 0 {
		return "", fmt.Errorf("find log file in %s: no patterns configured", dir)
	}
	subdirs := f.Subdirs
	if subdirs == nil {
		subdirs = DefaultSubdirs
	}

	candidates := []string{dir}
	for _, sub := range subdirs {
		candidates = append(candidates, filepath.Join(dir, sub))
	}

	for _, d := range candidates {
		path, err := f.newestIn(d)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
	return "", fmt.Errorf("no file matching %s in %s: %w",
		strings.Join(f.Patterns, ", "), dir, model.ErrLogFileNotFound)
}

// newestIn returns the newest matching regular file in dir, or "" when
// there is none. A missing dir is not an error.
func (f Finder) newestIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", dir, err)
	}

	var (
		best     string
		bestTime int64
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !f.matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		mod := info.ModTime().UnixNano()
		// Ties go to the lexically smaller name so the choice is stable.
		if best == "" || mod > bestTime || (mod == bestTime && entry.Name() < filepath.Base(best)) {
			best = filepath.Join(dir, entry.Name())
			bestTime = mod
		}
	}
	return best, nil
}

func (f Finder) matches(name string) bool {
	for _, pat := range f.Patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Resolve returns the absolute log file to stream for dir. An explicit file
// is taken relative to dir unless absolute and must be an existing regular
// file; an empty file triggers auto-detection with f.
func (f Finder) Resolve(dir, file string) (string, error) {
	if strings.TrimSpace(file) == "" {
		path, err := f.Find(dir)
		if err != nil {
			return "", err
		}
		return filepath.Abs(path)
	}

	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, model.ErrLogFileNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file: %w", path, model.ErrLogFileNotFound)
	}
	return filepath.Abs(path)
}
