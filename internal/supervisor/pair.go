package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pozicube/logdy-runner/internal/logging"
)

// Pair is a running producer/consumer pair whose viewer reached Ready.
// It is owned by whoever received it from LaunchPair.
type Pair struct {
	producer *process
	consumer *process
	port     int
	grace    time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

func newPair(producer, consumer *process, port int, grace time.Duration, logger *slog.Logger) *Pair {
	p := &Pair{
		producer: producer,
		consumer: consumer,
		port:     port,
		grace:    grace,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.watch()
	return p
}

// watch takes the producer down with the viewer. Without this a tail -F
// producer would idle forever once nobody reads its output.
func (p *Pair) watch() {
	select {
	case <-p.consumer.exited:
		select {
		case <-p.stopped:
		default:
			p.logger.Warn("viewer exited unexpectedly",
				logging.Event("viewer_exited"),
				logging.Int(logging.FieldPID, p.consumer.pid()),
				logging.Error(p.consumer.err),
			)
		}
	case <-p.stopped:
		// Stop terminates the consumer itself.
		<-p.consumer.exited
	}
	_ = p.producer.terminate(context.Background(), p.grace)
	close(p.done)
}

// Port returns the port the viewer is serving on.
func (p *Pair) Port() int { return p.port }

// ProducerPID returns the process ID of the producer.
func (p *Pair) ProducerPID() int { return p.producer.pid() }

// ConsumerPID returns the process ID of the viewer.
func (p *Pair) ConsumerPID() int { return p.consumer.pid() }

// Done is closed once both processes have exited, whether through Stop or
// because the viewer died on its own.
func (p *Pair) Done() <-chan struct{} { return p.done }

// ExitErr returns the viewer's exit error. It is only meaningful after Done
// is closed.
func (p *Pair) ExitErr() error {
	select {
	case <-p.done:
		return p.consumer.err
	default:
		return nil
	}
}

// Stop terminates both process groups and waits until they are reaped.
// Cancelling ctx skips the remaining grace period and kills immediately.
// Stop is safe to call repeatedly and after the pair exited on its own.
func (p *Pair) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopped)
		err = errors.Join(
			p.consumer.terminate(ctx, p.grace),
			p.producer.terminate(ctx, p.grace),
		)
	})
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// HTTPConfirm returns a ConfirmFunc that polls the viewer with HEAD requests
// until one gets any HTTP response or ctx expires.
func HTTPConfirm(client *http.Client, host string, interval time.Duration) ConfirmFunc {
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return func(ctx context.Context, port int) error {
		url := fmt.Sprintf("http://%s:%d/", host, port)
		var lastErr error
		for {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				return nil
			}
			lastErr = err

			select {
			case <-ctx.Done():
				return fmt.Errorf("HEAD %s: %w", url, lastErr)
			case <-time.After(interval):
			}
		}
	}
}
