// Package eventloop provides the single-threaded execution context that
// serializes control request handling and transition completions.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Loop runs posted functions one at a time, in FIFO order, on the goroutine
// that called Run. Work posted from inside a running task is queued behind
// it, never executed re-entrantly.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	logger  logr.Logger
}

// New creates a loop that is not yet running
func New(logger logr.Logger) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger.WithName("eventloop"),
	}
}

// Post queues fn for execution. It never blocks and returns false once the
// loop has stopped, in which case fn will not run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued tasks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	l.logger.V(1).Info("Event loop started")

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.run(fn)
		}

		if len(batch) > 0 {
			// Tasks may have queued more work; drain before sleeping.
			if ctx.Err() == nil {
				continue
			}
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.Info("Event loop stopped with pending tasks", "dropped", dropped)
			}
			l.logger.V(1).Info("Event loop stopped")
			return nil
		}
	}
}

// Done is closed after Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(fmt.Errorf("panic: %v", r), "Event loop task panicked")
		}
	}()
	fn()
}
