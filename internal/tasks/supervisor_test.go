package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSupervisor_RunsTasks(t *testing.T) {
	s := New(context.Background(), nil)

	var n atomic.Int32
	for range 5 {
		if err := s.Go("count", func(context.Context) error {
			n.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := n.Load(); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
}

func TestSupervisor_FailureDoesNotCancelOthers(t *testing.T) {
	s := New(context.Background(), nil)

	release := make(chan struct{})
	done := make(chan struct{})
	var survived atomic.Bool
	_ = s.Go("slow", func(ctx context.Context) error {
		defer close(done)
		<-release
		survived.Store(ctx.Err() == nil)
		return nil
	})

	failed := make(chan struct{})
	panicked := make(chan struct{})
	_ = s.Go("fails", func(context.Context) error {
		defer close(failed)
		return errors.New("boom")
	})
	_ = s.Go("panics", func(context.Context) error {
		defer close(panicked)
		panic("oops")
	})
	<-failed
	<-panicked

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow task did not finish")
	}
	if !survived.Load() {
		t.Error("slow task was cancelled by a sibling failure")
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSupervisor_ShutdownCancelsTasks(t *testing.T) {
	s := New(context.Background(), nil)

	started := make(chan struct{})
	_ = s.Go("blocked", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSupervisor_ShutdownBounded(t *testing.T) {
	s := New(context.Background(), nil)

	release := make(chan struct{})
	_ = s.Go("stubborn", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}

	close(release)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestSupervisor_GoAfterShutdown(t *testing.T) {
	s := New(context.Background(), nil)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	err := s.Go("late", func(context.Context) error {
		t.Error("task ran after shutdown")
		return nil
	})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
