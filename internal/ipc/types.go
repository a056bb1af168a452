package ipc

import (
	"errors"
	"time"

	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// ServiceName is the name the daemon registers its RPC service under.
const ServiceName = "LogdyRunner"

// ErrorInfo is the wire form of a failed call.
type ErrorInfo struct {
	Kind           model.ErrorKind `json:"kind,omitempty"`
	Code           model.ExitCode  `json:"code"`
	Message        string          `json:"message"`
	AttemptedPorts []int           `json:"attemptedPorts,omitempty"`
}

// NewErrorInfo converts err for the wire. It returns nil for a nil error.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{
		Kind:    model.KindOf(err),
		Code:    model.ExitGeneralError,
		Message: err.Error(),
	}
	if info.Kind != "" {
		info.Code = model.ExitCodeForKind(info.Kind)
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		info.Code = cliErr.Code
		info.AttemptedPorts = cliErr.AttemptedPorts
	}
	var allocErr *model.AllocationError
	if errors.As(err, &allocErr) {
		info.AttemptedPorts = allocErr.AttemptedPorts
	}
	return info
}

// Err rebuilds the error on the client side.
func (e *ErrorInfo) Err() error {
	if e == nil {
		return nil
	}
	return &model.CLIError{
		Code:           e.Code,
		Kind:           e.Kind,
		Message:        e.Message,
		AttemptedPorts: e.AttemptedPorts,
	}
}

// StartRequest asks the daemon to start a viewer for Dir.
type StartRequest struct {
	// Dir must be absolute; the daemon's working directory is unrelated to
	// the caller's.
	Dir     string `json:"dir"`
	File    string `json:"file,omitempty"`
	Replace bool   `json:"replace,omitempty"`
}

// StartResponse carries the started instance or the failure.
type StartResponse struct {
	Result *runner.StartResult `json:"result,omitempty"`
	Error  *ErrorInfo          `json:"error,omitempty"`
}

// StopRequest asks the daemon to stop the viewer for Dir.
type StopRequest struct {
	Dir string `json:"dir"`
}

// StopResponse carries the stopped instance or the failure.
type StopResponse struct {
	Instance model.InstanceInfo `json:"instance"`
	Error    *ErrorInfo         `json:"error,omitempty"`
}

// ListRequest fetches every running instance.
type ListRequest struct{}

// ListResponse lists running instances ordered by key.
type ListResponse struct {
	Instances []model.InstanceInfo `json:"instances"`
}

// LookupRequest fetches the instance for Dir.
type LookupRequest struct {
	Dir string `json:"dir"`
}

// LookupResponse reports the instance for a directory, if any.
type LookupResponse struct {
	Found    bool               `json:"found"`
	Instance model.InstanceInfo `json:"instance"`
}

// PortsRequest fetches the port usage report.
type PortsRequest struct{}

// PortsResponse lists bound ports in the configured range.
type PortsResponse struct {
	Range model.PortRange `json:"range"`
	Used  []runner.PortUse `json:"used"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	PID        int             `json:"pid"`
	Version    string          `json:"version"`
	Socket     string          `json:"socket"`
	ConfigFile string          `json:"configFile,omitempty"`
	MetricsURL string          `json:"metricsUrl,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	Instances  int             `json:"instances"`
	PortRange  model.PortRange `json:"portRange"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// ShutdownRequest asks the daemon to stop every instance and exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}
