package port

import (
	"context"
	"fmt"

	"github.com/pozicube/logdy-runner/internal/model"
)

// DefaultMaxAttempts bounds how many ports are probed when the caller passes
// a non-positive budget.
const DefaultMaxAttempts = 10

// Prober reports whether a port can currently be bound. *Scanner satisfies it;
// tests inject fakes to simulate busy ports deterministically.
type Prober interface {
	IsPortAvailable(port int) bool
}

// LaunchFunc attempts to start the viewer on one port and returns the
// terminal outcome. The allocator never inspects process handles: the caller
// captures them in its closure when the outcome is OutcomeSuccess.
type LaunchFunc func(ctx context.Context, port int) model.LaunchAttempt

// Options tunes an Allocator.
type Options struct {
	// MaxAttempts caps how many candidate ports are probed, whether they are
	// rejected by the bind probe or handed to the launch function.
	MaxAttempts int

	// RetryOnTimeout makes a timed-out launch advance to the next port
	// instead of ending the allocation. Off by default: a timeout says
	// nothing about the port, so trying another one usually just repeats it.
	RetryOnTimeout bool

	// Observe, if set, is called once per attempt in probe order.
	Observe func(model.LaunchAttempt)
}

// Allocator walks a port range in ascending order until one candidate
// yields a successfully launched viewer.
//
// It is pure control flow over attempts: all side effects live in the
// LaunchFunc. Attempts are strictly sequential, so at most one launch is in
// flight per allocation and lower ports always win over higher ones.
type Allocator struct {
	prober Prober
	opts   Options
}

// NewAllocator creates an Allocator using prober for the fast bind probe.
func NewAllocator(prober Prober, opts Options) *Allocator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Allocator{prober: prober, opts: opts}
}

// Result describes a successful allocation.
type Result struct {
	// Port is the port the viewer is serving on. When the viewer reported a
	// different port than the probe target, the reported port wins.
	Port int

	// Attempts lists every attempt made, the successful one last.
	Attempts []model.LaunchAttempt
}

// AttemptedPorts returns the probe targets of all attempts in order.
func (r *Result) AttemptedPorts() []int {
	return attemptedPorts(r.Attempts)
}

// Allocate probes candidate ports in r, starting at r.Start.
//
// For each candidate:
//  1. The fast bind probe runs first. A busy port is recorded as a
//     PortConflict and skipped without invoking launch.
//  2. Otherwise launch is invoked and its outcome decides what happens:
//     Success stops with a Result; PortConflict advances to the next port;
//     ProcessError aborts immediately; Timeout aborts unless RetryOnTimeout.
//
// Every probed candidate counts toward MaxAttempts. Running out of range or
// budget yields an *model.AllocationError of kind KindExhausted that lists
// every attempted port.
func (a *Allocator) Allocate(ctx context.Context, r model.PortRange, launch LaunchFunc) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	attempts := make([]model.LaunchAttempt, 0, min(r.Size(), a.opts.MaxAttempts))

	for candidate := r.Start; candidate <= r.End && len(attempts) < a.opts.MaxAttempts; candidate++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("allocation cancelled after %d attempt(s): %w", len(attempts), err)
		}

		var attempt model.LaunchAttempt
		if !a.prober.IsPortAvailable(candidate) {
			attempt = model.LaunchAttempt{
				Port:    candidate,
				Outcome: model.OutcomePortConflict,
				Detail:  "port already bound",
				Probed:  true,
			}
		} else {
			attempt = launch(ctx, candidate)
			// The launch function owns the port number it reports, but the
			// allocator owns the candidate sequence.
			attempt.Port = candidate
		}

		attempts = append(attempts, attempt)
		if a.opts.Observe != nil {
			a.opts.Observe(attempt)
		}

		switch attempt.Outcome {
		case model.OutcomeSuccess:
			return &Result{Port: attempt.EffectivePort(), Attempts: attempts}, nil

		case model.OutcomePortConflict:
			continue

		case model.OutcomeTimeout:
			if a.opts.RetryOnTimeout {
				continue
			}
			return nil, newAllocationError(model.KindTimeout, attempts)

		default:
			// OutcomeProcessError and anything unrecognised: the same
			// failure would recur on the next port.
			return nil, newAllocationError(model.KindProcessError, attempts)
		}
	}

	return nil, newAllocationError(model.KindExhausted, attempts)
}

func newAllocationError(kind model.ErrorKind, attempts []model.LaunchAttempt) *model.AllocationError {
	err := &model.AllocationError{
		Kind:           kind,
		AttemptedPorts: attemptedPorts(attempts),
	}
	if len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		err.Last = &last
	}
	return err
}

func attemptedPorts(attempts []model.LaunchAttempt) []int {
	ports := make([]int, 0, len(attempts))
	for _, at := range attempts {
		ports = append(ports, at.Port)
	}
	return ports
}
