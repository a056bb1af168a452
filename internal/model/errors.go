package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies terminal failures so callers (CLI, IPC clients) can
// branch on them without parsing messages.
type ErrorKind string

const (
	// KindPortConflict is recoverable inside the allocator and only surfaces
	// when a caller asks about a single attempt.
	KindPortConflict ErrorKind = "port_conflict"

	// KindProcessError covers missing binaries and unexpected viewer exits.
	KindProcessError ErrorKind = "process_error"

	// KindTimeout means the viewer gave no ready/conflict signal in time.
	KindTimeout ErrorKind = "timeout"

	// KindExhausted means the range or attempt budget ran out.
	KindExhausted ErrorKind = "exhausted"

	// KindAlreadyRunning is a registry precondition violation.
	KindAlreadyRunning ErrorKind = "already_running"

	// KindNotFound means no instance or log file exists for the request.
	KindNotFound ErrorKind = "not_found"

	// KindInvalidConfig means settings could not be used even after fallbacks.
	KindInvalidConfig ErrorKind = "invalid_config"

	// KindShuttingDown means the owner of the instances is tearing down and
	// refuses new starts.
	KindShuttingDown ErrorKind = "shutting_down"
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

var (
	// ErrAlreadyRunning is returned by the registry when a key already has
	// a running instance.
	ErrAlreadyRunning = errors.New("instance already running")

	// ErrInstanceNotFound is returned when no instance is registered for a key.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrLogFileNotFound is returned when no log file could be discovered.
	ErrLogFileNotFound = errors.New("log file not found")

	// ErrShuttingDown is returned for starts that arrive after teardown began.
	ErrShuttingDown = errors.New("shutting down")
)

// AllocationError is the failure value of a port allocation. It always
// carries the list of ports that were probed, in probe order, so the UI layer
// can report exactly what was tried.
type AllocationError struct {
	// Kind is one of KindExhausted, KindProcessError or KindTimeout.
	Kind ErrorKind

	// AttemptedPorts lists every probed port in ascending probe order,
	// including ports rejected by the fast bind probe.
	AttemptedPorts []int

	// Last is the attempt that ended the allocation. Nil for an empty range.
	Last *LaunchAttempt
}

// Error satisfies the error interface.
func (e *AllocationError) Error() string {
	ports := FormatPorts(e.AttemptedPorts)
	switch e.Kind {
	case KindExhausted:
		return fmt.Sprintf("no usable port found (tried %s)", ports)
	case KindTimeout:
		return fmt.Sprintf("viewer did not become ready on port %d in time (tried %s)", e.lastPort(), ports)
	case KindProcessError:
		detail := ""
		if e.Last != nil && e.Last.Detail != "" {
			detail = ": " + e.Last.Detail
		}
		return fmt.Sprintf("viewer failed on port %d%s (tried %s)", e.lastPort(), detail, ports)
	default:
		return fmt.Sprintf("port allocation failed: %s (tried %s)", e.Kind, ports)
	}
}

func (e *AllocationError) lastPort() int {
	if e.Last == nil {
		return 0
	}
	return e.Last.Port
}

// FormatPorts converts a port list to a comma-separated string.
// Returns "-" for an empty list.
//
// Example:
//
//	[10001 10002] → "10001,10002"
//	[]            → "-"
func FormatPorts(ports []int) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

// KindOf classifies an arbitrary error into an ErrorKind.
// Errors that carry no classification map to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var allocErr *AllocationError
	if errors.As(err, &allocErr) {
		return allocErr.Kind
	}
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return KindAlreadyRunning
	case errors.Is(err, ErrInstanceNotFound), errors.Is(err, ErrLogFileNotFound):
		return KindNotFound
	case errors.Is(err, ErrShuttingDown):
		return KindShuttingDown
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Kind
	}
	return ""
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// editor integrations to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitLogFileNotFound indicates no log file was given or discovered.
	ExitLogFileNotFound ExitCode = 2

	// ExitDaemonNotRunning indicates the logdy-runner daemon socket is not reachable.
	ExitDaemonNotRunning ExitCode = 3

	// ExitPortAllocationFailed indicates every candidate port was tried
	// without success (the Exhausted outcome).
	ExitPortAllocationFailed ExitCode = 4

	// ExitProcessError indicates a missing binary or a viewer crash.
	ExitProcessError ExitCode = 5

	// ExitInstanceNotFound indicates no instance is running for the key.
	ExitInstanceNotFound ExitCode = 6

	// ExitAlreadyRunning indicates an instance is already running for the key.
	ExitAlreadyRunning ExitCode = 7

	// ExitLaunchTimeout indicates the viewer never signalled readiness.
	ExitLaunchTimeout ExitCode = 8

	// ExitInvalidConfig indicates unusable configuration.
	ExitInvalidConfig ExitCode = 9
)

// ExitCodeForKind maps an ErrorKind to its exit code.
func ExitCodeForKind(kind ErrorKind) ExitCode {
	switch kind {
	case KindExhausted, KindPortConflict:
		return ExitPortAllocationFailed
	case KindProcessError:
		return ExitProcessError
	case KindTimeout:
		return ExitLaunchTimeout
	case KindAlreadyRunning:
		return ExitAlreadyRunning
	case KindNotFound:
		return ExitInstanceNotFound
	case KindInvalidConfig:
		return ExitInvalidConfig
	case KindShuttingDown:
		return ExitDaemonNotRunning
	default:
		return ExitGeneralError
	}
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Kind is the domain classification, if known.
	Kind ErrorKind

	// Message is the human-readable error description.
	Message string

	// AttemptedPorts is carried through for allocation failures so JSON
	// output can list them.
	AttemptedPorts []int

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// NewKindError builds a CLIError from a domain kind, deriving the exit code.
func NewKindError(kind ErrorKind, message string, attempted []int) *CLIError {
	return &CLIError{
		Code:           ExitCodeForKind(kind),
		Kind:           kind,
		Message:        message,
		AttemptedPorts: attempted,
	}
}
