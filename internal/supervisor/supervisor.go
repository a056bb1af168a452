package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
)

// DefaultTimeout bounds how long a launch waits for a ready or conflict
// signal.
const DefaultTimeout = 5 * time.Second

// exitDrainWindow bounds how long output is still read after the viewer
// exits, so a conflict line written just before exit is not missed.
const exitDrainWindow = 500 * time.Millisecond

// maxLineBytes is the longest viewer output line that is inspected.
const maxLineBytes = 256 * 1024

// Prober reports whether a port can currently be bound.
type Prober interface {
	IsPortAvailable(port int) bool
}

// ConfirmFunc double-checks readiness after the ready line was seen, for
// example with an HTTP request against the port. It is called with a
// context that expires at the launch deadline.
type ConfirmFunc func(ctx context.Context, port int) error

// Spec describes one launch attempt.
type Spec struct {
	// Producer streams the log file to its stdout (e.g. tail -F file).
	Producer Command

	// Consumer reads stdin and serves the viewer on Port.
	Consumer Command

	// Port is the port the consumer was told to bind.
	Port int

	// Ready matches a consumer stdout line signalling readiness. If it has
	// a capture group, the first group is parsed as the bound port.
	Ready *regexp.Regexp

	// Conflict matches a consumer stderr line signalling that the port is
	// already in use.
	Conflict *regexp.Regexp

	// Timeout bounds the wait for Ready or Conflict. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// StopGrace is the SIGTERM-to-SIGKILL delay. Defaults to
	// DefaultStopGrace.
	StopGrace time.Duration

	// Prober, if set, re-checks Port after an unexplained consumer exit. A
	// port that is now busy turns the exit into a Conflict.
	Prober Prober

	// Confirm, if set, runs after the ready line and must succeed before
	// the deadline for the attempt to count as Ready.
	Confirm ConfirmFunc

	Logger *slog.Logger
}

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

func (s stream) String() string {
	if s == streamStderr {
		return "stderr"
	}
	return "stdout"
}

type lineEvent struct {
	stream stream
	text   string
}

// LaunchPair spawns the producer and consumer, connects them with a live
// pipe, and waits for a terminal outcome.
//
// The returned attempt always has Port set to spec.Port. The *Pair is
// non-nil only when the outcome is model.OutcomeSuccess; on every other
// outcome both processes have already been terminated and reaped.
func LaunchPair(ctx context.Context, spec Spec) (model.LaunchAttempt, *Pair) {
	started := time.Now()
	logger := spec.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.Int(logging.FieldPort, spec.Port))
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultTimeout
	}
	if spec.StopGrace <= 0 {
		spec.StopGrace = DefaultStopGrace
	}

	attempt := model.LaunchAttempt{Port: spec.Port}
	finish := func(outcome model.Outcome, detail string) model.LaunchAttempt {
		attempt.Outcome = outcome
		attempt.Detail = detail
		attempt.Duration = time.Since(started)
		return attempt
	}

	// Step 1: Create the pipes. The producer's stdout is wired directly to
	// the consumer's stdin, so lines appended to the log file reach the
	// viewer as they are written.
	feedR, feedW, err := os.Pipe()
	if err != nil {
		return finish(model.OutcomeProcessError, fmt.Sprintf("create pipe: %v", err)), nil
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(feedR, feedW)
		return finish(model.OutcomeProcessError, fmt.Sprintf("create pipe: %v", err)), nil
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(feedR, feedW, outR, outW)
		return finish(model.OutcomeProcessError, fmt.Sprintf("create pipe: %v", err)), nil
	}

	// Step 2: Spawn both processes. The child ends of the pipes are closed
	// in the parent right after spawning so EOF propagates when the
	// children exit.
	producer, err := startProcess("producer", spec.Producer, nil, feedW, nil)
	if err != nil {
		closeAll(feedR, feedW, outR, outW, errR, errW)
		return finish(model.OutcomeProcessError, err.Error()), nil
	}
	consumer, err := startProcess("viewer", spec.Consumer, feedR, outW, errW)
	closeAll(feedR, feedW, outW, errW)
	if err != nil {
		_ = producer.terminate(context.Background(), spec.StopGrace)
		closeAll(outR, errR)
		return finish(model.OutcomeProcessError, err.Error()), nil
	}

	logger.Debug("process pair started",
		logging.Event("launch_started"),
		logging.Int("producer_pid", producer.pid()),
		logging.Int("consumer_pid", consumer.pid()),
		logging.String("consumer", spec.Consumer.String()),
	)

	// Step 3: Fan both consumer streams into one channel. It is closed once
	// both streams hit EOF.
	output := make(chan lineEvent)
	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(&readers, outR, streamStdout, output)
	go readLines(&readers, errR, streamStderr, output)
	go func() {
		readers.Wait()
		close(output)
	}()

	fail := func(outcome model.Outcome, detail string) (model.LaunchAttempt, *Pair) {
		// Keep the readers unblocked while the processes shut down.
		go drain(output, nil)
		stopCtx := context.WithoutCancel(ctx)
		_ = consumer.terminate(stopCtx, spec.StopGrace)
		_ = producer.terminate(stopCtx, spec.StopGrace)
		logger.Debug("launch attempt failed",
			logging.Event("launch_failed"),
			logging.String(logging.FieldOutcome, string(outcome)),
			logging.String("detail", detail),
		)
		return finish(outcome, detail), nil
	}

	deadline := time.NewTimer(spec.Timeout)
	defer deadline.Stop()
	deadlineAt := started.Add(spec.Timeout)

	// Step 4: Wait for the first terminal signal. Channels that can no
	// longer fire are set to nil so the select ignores them. Confirmation
	// runs in its own goroutine so a conflict or an exit reported after the
	// ready line still ends the attempt.
	lines := (<-chan lineEvent)(output)
	producerExited := producer.exited
	var (
		lastStderr    string
		readyLine     string
		confirmed     chan error
		cancelConfirm context.CancelFunc = func() {}
	)
	defer func() { cancelConfirm() }()

	succeed := func() (model.LaunchAttempt, *Pair) {
		effective := attempt.EffectivePort()
		pair := newPair(producer, consumer, effective, spec.StopGrace, logger)
		go drain(output, logger)
		logger.Info("viewer ready",
			logging.Event("launch_ready"),
			logging.Int("bound_port", effective),
			logging.Duration("elapsed", time.Since(started)),
		)
		return finish(model.OutcomeSuccess, readyLine), pair
	}

	for {
		select {
		case ev, ok := <-lines:
			if !ok {
				// Both streams closed but the viewer is still running.
				// Only exit, confirmation or the deadline can end the
				// attempt now.
				lines = nil
				continue
			}
			logger.Debug("viewer output", logging.String("stream", ev.stream.String()), logging.String("line", ev.text))

			if ev.stream == streamStderr {
				if strings.TrimSpace(ev.text) != "" {
					lastStderr = ev.text
				}
				if matches(spec.Conflict, ev.text) {
					return fail(model.OutcomePortConflict, ev.text)
				}
				continue
			}
			if readyLine != "" {
				continue
			}

			bound, ok := readyPort(spec.Ready, ev.text)
			if !ok {
				continue
			}
			attempt.BoundPort = bound
			readyLine = ev.text
			if spec.Confirm == nil {
				return succeed()
			}

			var confirmCtx context.Context
			confirmCtx, cancelConfirm = context.WithDeadline(ctx, deadlineAt)
			confirmed = make(chan error, 1)
			go func(port int, result chan<- error) {
				result <- spec.Confirm(confirmCtx, port)
			}(attempt.EffectivePort(), confirmed)

		case err := <-confirmed:
			confirmed = nil
			if err != nil {
				if ctx.Err() != nil {
					return fail(model.OutcomeProcessError, fmt.Sprintf("launch cancelled: %v", ctx.Err()))
				}
				return fail(model.OutcomeTimeout, fmt.Sprintf("ready line seen but port %d did not answer: %v", attempt.EffectivePort(), err))
			}
			return succeed()

		case <-consumer.exited:
			outcome, detail := classifyExit(spec, consumer.err, output, lastStderr)
			return fail(outcome, detail)

		case <-producerExited:
			if producer.err == nil {
				// A producer that finished cleanly (a fixed file streamed
				// to completion) does not affect the viewer.
				producerExited = nil
				continue
			}
			return fail(model.OutcomeProcessError, fmt.Sprintf("producer exited: %v", producer.err))

		case <-deadline.C:
			if readyLine != "" {
				return fail(model.OutcomeTimeout, fmt.Sprintf("ready line seen but port %d did not answer within %s", attempt.EffectivePort(), spec.Timeout))
			}
			return fail(model.OutcomeTimeout, fmt.Sprintf("no ready signal within %s", spec.Timeout))

		case <-ctx.Done():
			return fail(model.OutcomeProcessError, fmt.Sprintf("launch cancelled: %v", ctx.Err()))
		}
	}
}

// classifyExit decides why the consumer exited before becoming ready.
// Output written just before exit is still scanned for a conflict line;
// failing that, a re-probe of the port decides between Conflict and
// ProcessError.
func classifyExit(spec Spec, exitErr error, lines <-chan lineEvent, lastStderr string) (model.Outcome, string) {
	window := time.NewTimer(exitDrainWindow)
	defer window.Stop()
scan:
	for {
		select {
		case ev, ok := <-lines:
			if !ok {
				break scan
			}
			if ev.stream != streamStderr {
				continue
			}
			if strings.TrimSpace(ev.text) != "" {
				lastStderr = ev.text
			}
			if matches(spec.Conflict, ev.text) {
				return model.OutcomePortConflict, ev.text
			}
		case <-window.C:
			break scan
		}
	}

	if exitErr == nil {
		return model.OutcomeProcessError, withStderr("viewer exited before becoming ready", lastStderr)
	}
	if spec.Prober != nil && spec.Port > 0 && !spec.Prober.IsPortAvailable(spec.Port) {
		return model.OutcomePortConflict, withStderr(fmt.Sprintf("viewer exited (%v) and port %d is bound", exitErr, spec.Port), lastStderr)
	}
	return model.OutcomeProcessError, withStderr(fmt.Sprintf("viewer exited: %v", exitErr), lastStderr)
}

func withStderr(msg, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return msg
	}
	return msg + ": " + stderr
}

// readyPort reports whether line matches the ready pattern and, when the
// pattern captures a port, returns it.
func readyPort(re *regexp.Regexp, line string) (int, bool) {
	if re == nil {
		return 0, false
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	if len(m) > 1 {
		if p, err := strconv.Atoi(m[1]); err == nil && p > 0 && p <= model.MaxPort {
			return p, true
		}
	}
	return 0, true
}

func matches(re *regexp.Regexp, line string) bool {
	return re != nil && re.MatchString(line)
}

func readLines(wg *sync.WaitGroup, r io.ReadCloser, s stream, out chan<- lineEvent) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		out <- lineEvent{stream: s, text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// An over-long line stops the scanner; keep the pipe flowing so
		// the viewer never blocks on a full stdout buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// drain consumes viewer output for the lifetime of a pair, logging it at
// debug level when a logger is given.
func drain(lines <-chan lineEvent, logger *slog.Logger) {
	for ev := range lines {
		if logger != nil {
			logger.Debug("viewer output", logging.String("stream", ev.stream.String()), logging.String("line", ev.text))
		}
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
