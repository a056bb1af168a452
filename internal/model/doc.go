// Package model defines the domain types and value objects for the
// logdy-runner CLI.
//
// This package contains pure data structures with no external dependencies.
// PortRange, LaunchAttempt and InstanceInfo describe the port allocation and
// process supervision flow; AllocationError and CLIError carry the error
// taxonomy (port conflict, process error, timeout, exhausted, already
// running) together with the exit codes the CLI reports to the OS.
package model
