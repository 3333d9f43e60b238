// Package tasks runs a session's fire-and-forget side effects under one owner.
//
// Handlers that must answer quickly (RPCs, model events) hand slower work such
// as recording control, toasts and bus publishes to a [Supervisor]. The
// supervisor gives every task a context that is cancelled at teardown, logs
// task failures, and lets the session wait for stragglers before it exits.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Go after Shutdown has begun.
var ErrStopped = errors.New("tasks: supervisor stopped")

// Supervisor owns a set of background tasks. The zero value is not usable;
// use [New].
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	log    *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New returns a Supervisor whose task contexts derive from parent.
func New(parent context.Context, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

// Go starts fn in the background. A returned error is logged with the task
// name and otherwise dropped; one failing task never cancels the others.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Warn("tasks: rejected task after shutdown", "task", name)
		return fmt.Errorf("%w: %s", ErrStopped, name)
	}

	s.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tasks: task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(s.ctx); err != nil {
			if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
				s.log.Debug("tasks: task cancelled", "task", name)
				return nil
			}
			s.log.Error("tasks: task failed", "task", name, "err", err)
		}
		return nil
	})
	return nil
}

// Context returns the context handed to tasks.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Shutdown cancels all task contexts and waits for the tasks to return, or
// for ctx to be done, whichever comes first. Idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks: shutdown: %w", ctx.Err())
	}
}
