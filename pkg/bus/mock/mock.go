// Package mock provides a test double for bus.Producer.
//
// Produce records the call and, unless Hold is set, invokes the delivery
// callback synchronously with DeliverErr.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/bus"
)

var _ bus.Producer = (*Producer)(nil)

// Producer is a mock implementation of bus.Producer.
type Producer struct {
	mu sync.Mutex

	// DeliverErr is passed to every delivery callback.
	DeliverErr error

	// Hold keeps callbacks pending until Release is called.
	Hold bool

	// PingErr and CloseErr are returned by Ping and Close.
	PingErr  error
	CloseErr error

	// Records records every produced record in order.
	Records []bus.Record

	pending []func()
	closed  bool
}

// Produce implements bus.Producer.
func (p *Producer) Produce(_ context.Context, rec bus.Record, fn bus.DeliveryFunc) {
	p.mu.Lock()
	p.Records = append(p.Records, rec)
	err := p.DeliverErr
	d := bus.Delivery{Topic: rec.Topic, Partition: 0, Offset: int64(len(p.Records) - 1)}
	if err != nil {
		d.Partition, d.Offset = -1, -1
	}
	call := func() {
		if fn != nil {
			fn(d, err)
		}
	}
	if p.Hold {
		p.pending = append(p.pending, call)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	call()
}

// Release runs all held delivery callbacks.
func (p *Producer) Release() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, call := range pending {
		call()
	}
}

// Ping implements bus.Producer.
func (p *Producer) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PingErr
}

// Close implements bus.Producer.
func (p *Producer) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

// Produced returns a copy of the produced records.
func (p *Producer) Produced() []bus.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bus.Record, len(p.Records))
	copy(out, p.Records)
	return out
}

// Closed reports whether Close was called.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
