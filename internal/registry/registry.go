// Package registry tracks the running viewer instance for each instance
// key (normally an absolute directory path) and enforces that at most one
// instance exists per key.
//
// The registry owns the process handles it is given: Unregister and
// Teardown terminate them, and an instance whose viewer exits on its own is
// removed automatically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
)

// Process is the handle the registry holds for a running instance.
// *supervisor.Pair satisfies it.
type Process interface {
	// Stop terminates the processes and waits for them to be reaped.
	Stop(ctx context.Context) error

	// Done is closed once the processes have exited for any reason.
	Done() <-chan struct{}
}

// exitReporter is implemented by processes that can explain why they exited.
type exitReporter interface {
	ExitErr() error
}

// ExitFunc is called after an instance that exited on its own was removed.
type ExitFunc func(info model.InstanceInfo, exitErr error)

// Options configures a Registry.
type Options struct {
	Logger *slog.Logger

	// OnExit, if set, is called for instances removed because their
	// processes exited without Unregister or Teardown being called.
	OnExit ExitFunc
}

type entry struct {
	info model.InstanceInfo
	proc Process
}

// Registry maps instance keys to running instances. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*entry
	locks     map[string]*keyLock
	closed    bool

	logger *slog.Logger
	onExit ExitFunc
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		instances: make(map[string]*entry),
		locks:     make(map[string]*keyLock),
		logger:    logging.NewComponentLogger(opts.Logger, "registry"),
		onExit:    opts.OnExit,
	}
}

// ErrClosed is returned by Register after Teardown.
var ErrClosed = fmt.Errorf("registry: %w", model.ErrShuttingDown)

// Register records a running instance under info.Key.
//
// It fails with model.ErrAlreadyRunning if the key already has an instance;
// in that case proc is left untouched and remains the caller's to stop.
func (r *Registry) Register(info model.InstanceInfo, proc Process) error {
	if info.Key == "" {
		return fmt.Errorf("register: empty instance key")
	}
	if proc == nil {
		return fmt.Errorf("register %s: nil process", info.Key)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if existing, ok := r.instances[info.Key]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register %s (port %d): %w", info.Key, existing.info.Port, model.ErrAlreadyRunning)
	}
	e := &entry{info: info, proc: proc}
	r.instances[info.Key] = e
	r.mu.Unlock()

	r.logger.Info("instance registered",
		logging.Event("instance_registered"),
		logging.String(logging.FieldKey, info.Key),
		logging.Int(logging.FieldPort, info.Port),
		logging.String("id", info.ID),
	)

	go r.watch(e)
	return nil
}

// watch removes e once its processes exit, unless it was already replaced
// or unregistered.
func (r *Registry) watch(e *entry) {
	<-e.proc.Done()

	r.mu.Lock()
	current, ok := r.instances[e.info.Key]
	if !ok || current != e {
		r.mu.Unlock()
		return
	}
	delete(r.instances, e.info.Key)
	r.mu.Unlock()

	var exitErr error
	if rep, ok := e.proc.(exitReporter); ok {
		exitErr = rep.ExitErr()
	}
	r.logger.Warn("instance exited on its own; removed",
		logging.Event("instance_exited"),
		logging.String(logging.FieldKey, e.info.Key),
		logging.Int(logging.FieldPort, e.info.Port),
		logging.Error(exitErr),
	)
	if r.onExit != nil {
		r.onExit(e.info, exitErr)
	}
}

// Lookup returns the instance registered under key.
func (r *Registry) Lookup(key string) (model.InstanceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.instances[key]
	if !ok {
		return model.InstanceInfo{}, false
	}
	return e.info, true
}

// Done returns the exit channel of the instance under key.
func (r *Registry) Done(key string) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.instances[key]
	if !ok {
		return nil, false
	}
	return e.proc.Done(), true
}

// Unregister terminates the instance under key and removes it.
//
// The entry is removed even if termination fails. Unregistering a key with
// no instance is a no-op: it returns ok == false and a nil error.
func (r *Registry) Unregister(ctx context.Context, key string) (model.InstanceInfo, bool, error) {
	r.mu.Lock()
	e, ok := r.instances[key]
	if ok {
		delete(r.instances, key)
	}
	r.mu.Unlock()
	if !ok {
		return model.InstanceInfo{}, false, nil
	}

	err := e.proc.Stop(ctx)
	if err != nil {
		r.logger.Warn("instance did not stop cleanly",
			logging.Event("instance_stop_failed"),
			logging.String(logging.FieldKey, key),
			logging.Error(err),
		)
		return e.info, true, fmt.Errorf("stop %s: %w", key, err)
	}
	r.logger.Info("instance stopped",
		logging.Event("instance_stopped"),
		logging.String(logging.FieldKey, key),
		logging.Int(logging.FieldPort, e.info.Port),
	)
	return e.info, true, nil
}

// List returns a snapshot of all instances ordered by key.
func (r *Registry) List() []model.InstanceInfo {
	r.mu.Lock()
	out := make([]model.InstanceInfo, 0, len(r.instances))
	for _, e := range r.instances {
		out = append(out, e.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of running instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Closed reports whether Teardown has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Teardown stops every instance concurrently and refuses further
// registrations. It is meant for host shutdown.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.instances))
	for key, e := range r.instances {
		entries = append(entries, e)
		delete(r.instances, key)
	}
	r.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	r.logger.Info("tearing down instances", logging.Event("teardown"), logging.Int("count", len(entries)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := e.proc.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", e.info.Key, err))
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errors.Join(errs...)
}
