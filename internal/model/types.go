// Package model defines the domain types for the logdy-runner CLI.
//
// All entities in this package are shared between the port allocator, the
// process pair supervisor, the instance registry, and the CLI/daemon layers.
// They are plain values: none of them own OS resources. Live process handles
// are held by the supervisor and registry packages, which only expose
// snapshots of type InstanceInfo outward.
package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MinPort is the lowest port a viewer may be bound to. Ports below 1024
	// are privileged on most systems, so the configured range may not reach
	// into them.
	MinPort = 1024

	// MaxPort is the highest valid TCP port number (2^16 - 1).
	MaxPort = 65535

	// DefaultPortRangeStart and DefaultPortRangeEnd describe the range used
	// when the configured range is missing or invalid.
	DefaultPortRangeStart = 10001
	DefaultPortRangeEnd   = 10099
)

// PortRange is an inclusive range of candidate ports for the viewer process.
//
// Invariant for a valid range: MinPort <= Start <= End <= MaxPort.
// Ranges come from configuration and are validated before use; an invalid
// range is replaced by DefaultPortRange() with a warning (see config package).
type PortRange struct {
	// Start is the first port tried by the allocator.
	Start int `json:"start" yaml:"start" toml:"start"`

	// End is the last port the allocator may try (inclusive).
	End int `json:"end" yaml:"end" toml:"end"`
}

// DefaultPortRange returns the documented fallback range 10001-10099.
func DefaultPortRange() PortRange {
	return PortRange{Start: DefaultPortRangeStart, End: DefaultPortRangeEnd}
}

// Validate checks the range invariant. It returns a descriptive error naming
// the violated bound so the caller can surface it as a warning.
func (r PortRange) Validate() error {
	if r.Start < MinPort || r.Start > MaxPort {
		return fmt.Errorf("port range start %d out of range (%d-%d)", r.Start, MinPort, MaxPort)
	}
	if r.End < MinPort || r.End > MaxPort {
		return fmt.Errorf("port range end %d out of range (%d-%d)", r.End, MinPort, MaxPort)
	}
	if r.Start > r.End {
		return fmt.Errorf("port range start %d is greater than end %d", r.Start, r.End)
	}
	return nil
}

// Size returns the number of ports in the range, or 0 for an inverted range.
func (r PortRange) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether port lies inside the inclusive range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// String returns the range in "start-end" form, as shown in CLI output.
func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Outcome is the terminal state of a single launch attempt on one port.
//
// The process pair supervisor moves through Starting and ends in exactly one
// of these states:
//
//	Starting → Ready (OutcomeSuccess)
//	Starting → Conflict (OutcomePortConflict)
//	Starting → Errored (OutcomeProcessError)
//	Starting → TimedOut (OutcomeTimeout)
type Outcome string

const (
	// OutcomeSuccess means the viewer reported readiness on the port.
	OutcomeSuccess Outcome = "success"

	// OutcomePortConflict means the port was already bound, either detected
	// by the fast bind probe or reported by the viewer on stderr.
	// This outcome is recoverable: the allocator moves on to the next port.
	OutcomePortConflict Outcome = "port_conflict"

	// OutcomeProcessError means a process failed to start or the viewer
	// exited for a reason unrelated to port binding. It is fatal for the
	// whole allocation, because it would recur on every other port.
	OutcomeProcessError Outcome = "process_error"

	// OutcomeTimeout means neither a ready nor a conflict signal arrived
	// within the launch timeout.
	OutcomeTimeout Outcome = "timeout"
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	return string(o)
}

// IsValid checks whether the Outcome value is one of the predefined states.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomePortConflict, OutcomeProcessError, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// ParseOutcome converts a string to an Outcome.
// Returns an error if the string does not match any valid outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("invalid launch outcome: %q (valid: success, port_conflict, process_error, timeout)", s)
	}
	return o, nil
}

// LaunchAttempt records the result of probing or launching on one port.
// One value is created per candidate port and folded into the allocation
// result; it never holds process handles.
type LaunchAttempt struct {
	// Port is the candidate port the attempt targeted.
	Port int `json:"port"`

	// BoundPort is the port the viewer reported in its ready line. It is 0
	// when the viewer did not report one, and otherwise authoritative over
	// Port if the two differ.
	BoundPort int `json:"boundPort,omitempty"`

	// Outcome is the terminal state reached by the attempt.
	Outcome Outcome `json:"outcome"`

	// Detail is a human-readable explanation (matched line, exit status,
	// missing binary, ...). Empty for plain successes.
	Detail string `json:"detail,omitempty"`

	// Probed is true when the attempt was resolved by the fast bind probe
	// alone and no process was spawned.
	Probed bool `json:"probed,omitempty"`

	// Duration is how long the attempt took from spawn to terminal state.
	Duration time.Duration `json:"duration,omitempty"`
}

// EffectivePort returns BoundPort when the viewer reported one, else Port.
func (a LaunchAttempt) EffectivePort() int {
	if a.BoundPort > 0 {
		return a.BoundPort
	}
	return a.Port
}

// String returns a compact single-line form, e.g. "10001:port_conflict (probe)".
func (a LaunchAttempt) String() string {
	s := fmt.Sprintf("%d:%s", a.Port, a.Outcome)
	if a.Probed {
		s += " (probe)"
	}
	if a.Detail != "" {
		s += ": " + a.Detail
	}
	return s
}

// InstanceInfo is a read-only snapshot of a running viewer instance.
// The registry owns the live instance; callers only ever see snapshots.
type InstanceInfo struct {
	// ID uniquely identifies this instance (UUID), so a stale stop request
	// cannot terminate a newer instance for the same key.
	ID string `json:"id"`

	// Key is the instance key, typically the absolute directory path.
	Key string `json:"key"`

	// Port is the port the viewer is serving on.
	Port int `json:"port"`

	// LogFile is the absolute path of the file being tailed.
	LogFile string `json:"logFile"`

	// ProducerPID and ConsumerPID are the OS process IDs of tail and viewer.
	ProducerPID int `json:"producerPid"`
	ConsumerPID int `json:"consumerPid"`

	// StartedAt is when the instance reached the ready state.
	StartedAt time.Time `json:"startedAt"`
}

// URL returns the local address of the viewer web UI.
func (i InstanceInfo) URL() string {
	return fmt.Sprintf("http://localhost:%d", i.Port)
}

// Uptime returns how long the instance has been running relative to now.
func (i InstanceInfo) Uptime(now time.Time) time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(i.StartedAt).Truncate(time.Second)
}
