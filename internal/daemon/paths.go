package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pozicube/logdy-runner/internal/config"
)

// Paths locates the daemon's runtime files.
type Paths struct {
	Socket string
	Lock   string
}

// DefaultPaths places the socket and lock file in $XDG_RUNTIME_DIR/logdy-runner,
// falling back to a per-user directory under the system temp dir.
func DefaultPaths() Paths {
	dir := ""
	if xdg := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); xdg != "" {
		dir = filepath.Join(xdg, config.AppName)
	} else {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", config.AppName, os.Getuid()))
	}
	return PathsIn(dir)
}

// PathsIn returns the runtime file locations inside dir.
func PathsIn(dir string) Paths {
	return Paths{
		Socket: filepath.Join(dir, "daemon.sock"),
		Lock:   filepath.Join(dir, "daemon.lock"),
	}
}
