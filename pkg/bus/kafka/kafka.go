// Package kafka implements bus.Producer with franz-go.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/MrWong99/parley/pkg/bus"
)

var _ bus.Producer = (*Producer)(nil)

// Option is a functional option for Producer.
type Option func(*config)

type config struct {
	clientID        string
	defaultTopic    string
	deliveryTimeout time.Duration
	linger          time.Duration
	extra           []kgo.Opt
}

// WithClientID sets the Kafka client id.
func WithClientID(id string) Option {
	return func(c *config) { c.clientID = id }
}

// WithDefaultTopic sets the topic used for records without one.
func WithDefaultTopic(topic string) Option {
	return func(c *config) { c.defaultTopic = topic }
}

// MinDeliveryTimeout is the smallest delivery timeout the client accepts.
const MinDeliveryTimeout = time.Second

// WithDeliveryTimeout bounds how long a record may wait for acknowledgement
// before its DeliveryFunc reports failure. Must be at least
// MinDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(c *config) { c.deliveryTimeout = d }
}

// WithLinger sets the producer linger.
func WithLinger(d time.Duration) Option {
	return func(c *config) { c.linger = d }
}

// WithKgoOpts appends raw franz-go options.
func WithKgoOpts(opts ...kgo.Opt) Option {
	return func(c *config) { c.extra = append(c.extra, opts...) }
}

// Producer implements bus.Producer.
type Producer struct {
	client *kgo.Client
}

// New creates a producer for the given bootstrap brokers. The client connects
// lazily; use Ping to check reachability.
func New(brokers []string, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one bootstrap broker is required")
	}
	cfg := &config{clientID: "parley", deliveryTimeout: 10 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.deliveryTimeout < MinDeliveryTimeout {
		return nil, fmt.Errorf("kafka: delivery timeout %v is below %v", cfg.deliveryTimeout, MinDeliveryTimeout)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.clientID),
		kgo.RecordDeliveryTimeout(cfg.deliveryTimeout),
		kgo.ProduceRequestTimeout(cfg.deliveryTimeout),
	}
	if cfg.defaultTopic != "" {
		kopts = append(kopts, kgo.DefaultProduceTopic(cfg.defaultTopic))
	}
	if cfg.linger > 0 {
		kopts = append(kopts, kgo.ProducerLinger(cfg.linger))
	}
	kopts = append(kopts, cfg.extra...)

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	return &Producer{client: client}, nil
}

// Produce implements bus.Producer.
func (p *Producer) Produce(ctx context.Context, rec bus.Record, fn bus.DeliveryFunc) {
	r := &kgo.Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
	p.client.Produce(ctx, r, func(r *kgo.Record, err error) {
		if fn == nil {
			return
		}
		if err != nil {
			fn(bus.Delivery{Topic: r.Topic, Partition: -1, Offset: -1}, fmt.Errorf("kafka: produce: %w", err))
			return
		}
		fn(bus.Delivery{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil)
	})
}

// Ping implements bus.Producer.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka: ping: %w", err)
	}
	return nil
}

// Close implements bus.Producer.
func (p *Producer) Close(ctx context.Context) error {
	defer p.client.Close()
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("kafka: flush: %w", err)
	}
	return nil
}
