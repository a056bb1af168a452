package runner

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/pozicube/logdy-runner/internal/model"
)

// Requirement is an external binary the runner needs.
type Requirement struct {
	Name    string
	Command string
}

// BinaryStatus reports the availability of one requirement.
type BinaryStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(lookPath func(string) (string, error), reqs []Requirement) []BinaryStatus {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	out := make([]BinaryStatus, 0, len(reqs))
	for _, req := range reqs {
		cmd := strings.TrimSpace(req.Command)
		status := BinaryStatus{Name: req.Name, Command: cmd}
		if cmd == "" {
			status.Detail = "command not configured"
			out = append(out, status)
			continue
		}
		path, err := lookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			out = append(out, status)
			continue
		}
		status.Available = true
		status.Path = path
		out = append(out, status)
	}
	return out
}

// requireBinaries fails with a process error naming the first missing
// binary. A missing binary would fail identically on every port, so it is
// checked once before any port is touched.
func requireBinaries(lookPath func(string) (string, error), reqs []Requirement) error {
	for _, st := range CheckBinaries(lookPath, reqs) {
		if !st.Available {
			return model.NewKindError(model.KindProcessError,
				fmt.Sprintf("%s: %s; install it or set %s.command", st.Name, st.Detail, st.Name), nil)
		}
	}
	return nil
}
