package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MrWong99/parley/pkg/bus"
)

func setupProducer(t *testing.T, cfg Config) (*miniredis.Miniredis, *Producer) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return mr, p
}

func produceSync(t *testing.T, p *Producer, rec bus.Record) (bus.Delivery, error) {
	t.Helper()
	type result struct {
		d   bus.Delivery
		err error
	}
	ch := make(chan result, 1)
	p.Produce(context.Background(), rec, func(d bus.Delivery, err error) { ch <- result{d, err} })
	select {
	case r := <-ch:
		return r.d, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("delivery callback not called")
		return bus.Delivery{}, nil
	}
}

func TestProduce_AppendsToStream(t *testing.T) {
	mr, p := setupProducer(t, Config{DefaultTopic: "GENERAL_MESSAGE_TOPIC"})

	d, err := produceSync(t, p, bus.Record{Key: []byte("key"), Value: []byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("delivery error: %v", err)
	}
	if d.Topic != "GENERAL_MESSAGE_TOPIC" {
		t.Errorf("topic = %q, want GENERAL_MESSAGE_TOPIC", d.Topic)
	}
	if d.Offset <= 0 {
		t.Errorf("offset = %d, want positive stream timestamp", d.Offset)
	}

	entries, err := mr.Stream("GENERAL_MESSAGE_TOPIC")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := map[string]string{}
	vals := entries[0].Values
	for i := 0; i+1 < len(vals); i += 2 {
		fields[vals[i]] = vals[i+1]
	}
	if fields["key"] != "key" {
		t.Errorf("key field = %q, want key", fields["key"])
	}
	if fields["value"] != `{"a":1}` {
		t.Errorf("value field = %q", fields["value"])
	}
}

func TestProduce_ExplicitTopic(t *testing.T) {
	mr, p := setupProducer(t, Config{DefaultTopic: "default"})

	if _, err := produceSync(t, p, bus.Record{Topic: "other", Value: []byte("x")}); err != nil {
		t.Fatalf("delivery error: %v", err)
	}
	entries, err := mr.Stream("other")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 entry in stream other, got %d (err %v)", len(entries), err)
	}
}

func TestProduce_NoTopic(t *testing.T) {
	_, p := setupProducer(t, Config{})
	if _, err := produceSync(t, p, bus.Record{Value: []byte("x")}); err == nil {
		t.Fatal("expected error for record without topic")
	}
}

func TestProduce_AfterClose(t *testing.T) {
	_, p := setupProducer(t, Config{DefaultTopic: "t"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := produceSync(t, p, bus.Record{Value: []byte("x")}); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestProduce_ServerDown(t *testing.T) {
	mr, p := setupProducer(t, Config{DefaultTopic: "t"})
	mr.Close()
	if _, err := produceSync(t, p, bus.Record{Value: []byte("x")}); err == nil {
		t.Fatal("expected delivery error when server is down")
	}
}

func TestPing(t *testing.T) {
	mr, p := setupProducer(t, Config{})
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error after server close")
	}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, Config{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestStreamOffset(t *testing.T) {
	if got := streamOffset("1700000000000-3"); got != 1700000000000 {
		t.Errorf("got %d", got)
	}
	if got := streamOffset("garbage"); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}
