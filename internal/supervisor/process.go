package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultStopGrace is how long a process group gets to exit after SIGTERM
// before it is killed.
const DefaultStopGrace = 3 * time.Second

// Command describes one external process to spawn.
type Command struct {
	// Path is the executable name or path. Bare names are resolved via PATH.
	Path string

	// Args are the arguments, without the executable itself.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env, if non-nil, replaces the inherited environment.
	Env []string
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// process wraps a started *exec.Cmd together with a reaper goroutine, so
// that exit can be observed through a channel by any number of waiters.
type process struct {
	name   string
	cmd    *exec.Cmd
	exited chan struct{}
	err    error // valid after exited is closed
}

// startProcess spawns c in its own process group with the given stdio.
// Nil streams are connected to the null device.
func startProcess(name string, c Command, stdin, stdout, stderr *os.File) (*process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// Assigning a nil *os.File to an io.Reader field would produce a
	// non-nil interface, so only set the streams that exist.
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s %q: %w", name, c.Path, err)
	}

	p := &process{name: name, cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// pid returns the process ID, which is also the process group ID.
func (p *process) pid() int {
	if p == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// hasExited reports whether the process has been reaped.
func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate stops the process group: SIGTERM first, SIGKILL once the grace
// period elapses or ctx is cancelled. It returns after the process has been
// reaped, so no zombie is left behind.
func (p *process) terminate(ctx context.Context, grace time.Duration) error {
	if p == nil {
		return nil
	}
	if p.hasExited() {
		// The leader is gone but children it spawned may still hold the
		// group; they get no grace period.
		_ = killGroup(p.pid())
		return nil
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	if err := terminateGroup(p.pid()); err != nil {
		return fmt.Errorf("signal %s (pid %d): %w", p.name, p.pid(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := killGroup(p.pid()); err != nil {
		return fmt.Errorf("kill %s (pid %d): %w", p.name, p.pid(), err)
	}
	<-p.exited
	return nil
}
