// Package redis implements bus.Producer on Redis Streams.
//
// Each record is appended with XADD to a stream named after the record's
// topic, with fields "key" and "value". Streams are capped approximately at
// MaxLen entries.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/parley/pkg/bus"
)

var _ bus.Producer = (*Producer)(nil)

// Config holds Redis connection and stream settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// DefaultTopic is the stream used for records without a topic.
	DefaultTopic string

	// MaxLen caps each stream (approximate trimming). Zero disables trimming.
	MaxLen int64
}

// Producer implements bus.Producer.
type Producer struct {
	client       *goredis.Client
	defaultTopic string
	maxLen       int64

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a producer and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Producer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	slog.Info("redis: connected to bus", "addr", cfg.Addr, "db", cfg.DB)
	return &Producer{client: client, defaultTopic: cfg.DefaultTopic, maxLen: cfg.MaxLen}, nil
}

// Produce implements bus.Producer. The XADD runs on its own goroutine; the
// stream entry ID is reported as the offset when it is numeric.
func (p *Producer) Produce(ctx context.Context, rec bus.Record, fn bus.DeliveryFunc) {
	topic := rec.Topic
	if topic == "" {
		topic = p.defaultTopic
	}
	report := func(d bus.Delivery, err error) {
		if fn != nil {
			fn(d, err)
		}
	}
	failed := bus.Delivery{Topic: topic, Partition: -1, Offset: -1}

	if topic == "" {
		report(failed, fmt.Errorf("redis: record has no topic"))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		report(failed, fmt.Errorf("redis: producer closed"))
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		args := &goredis.XAddArgs{
			Stream: topic,
			Values: map[string]any{"key": string(rec.Key), "value": string(rec.Value)},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		id, err := p.client.XAdd(ctx, args).Result()
		if err != nil {
			report(failed, fmt.Errorf("redis: xadd %s: %w", topic, err))
			return
		}
		report(bus.Delivery{Topic: topic, Partition: 0, Offset: streamOffset(id)}, nil)
	}()
}

// streamOffset extracts the millisecond part of a stream ID ("1700000000000-0").
func streamOffset(id string) int64 {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Ping implements bus.Producer.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close waits for in-flight XADDs (bounded by ctx) and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("redis: close: %w", ctx.Err())
	}
	if err := p.client.Close(); err != nil && waitErr == nil {
		return fmt.Errorf("redis: close: %w", err)
	}
	return waitErr
}
