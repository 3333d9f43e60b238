package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/bus"
)

func TestNew_NoBrokers(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestNew_DeliveryTimeoutTooShort(t *testing.T) {
	_, err := New([]string{"127.0.0.1:1"}, WithDeliveryTimeout(500*time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "delivery timeout") {
		t.Fatalf("err = %v, want delivery timeout error", err)
	}
}

// TestProduce_UnreachableBroker checks that a record that cannot be delivered
// is reported once through the callback rather than blocking the caller.
func TestProduce_UnreachableBroker(t *testing.T) {
	p, err := New([]string{"127.0.0.1:1"},
		WithDefaultTopic("GENERAL_MESSAGE_TOPIC"),
		WithDeliveryTimeout(MinDeliveryTimeout),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 2)
	p.Produce(context.Background(), bus.Record{Key: []byte("key"), Value: []byte("{}")}, func(d bus.Delivery, err error) {
		if d.Topic != "GENERAL_MESSAGE_TOPIC" {
			t.Errorf("delivery topic = %q, want GENERAL_MESSAGE_TOPIC", d.Topic)
		}
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected delivery failure")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("delivery callback not called")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Close(ctx)

	select {
	case <-done:
		t.Fatal("callback called more than once")
	default:
	}
}

func TestProduce_CancelledContext(t *testing.T) {
	p, err := New([]string{"127.0.0.1:1"}, WithDefaultTopic("t"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	p.Produce(ctx, bus.Record{Value: []byte("x")}, func(_ bus.Delivery, err error) { done <- err })

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery callback not called")
	}
}
