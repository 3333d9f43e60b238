// Package bus defines the outbound message bus parley publishes interaction
// events to.
//
// Publishing is fire-and-forget: Produce enqueues the record and returns, and
// the outcome is reported once through the DeliveryFunc. Producers never
// retry on their own.
package bus

import "context"

// Record is a single message to publish.
type Record struct {
	Topic string
	Key   []byte
	Value []byte
}

// Delivery reports where a record landed. Partition and Offset are -1 when
// the backend has no such notion.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
}

// DeliveryFunc is called exactly once per produced record, from a backend
// goroutine. err is nil on success.
type DeliveryFunc func(d Delivery, err error)

// Producer publishes records. Implementations must be safe for concurrent use.
type Producer interface {
	// Produce enqueues rec. The outcome is reported through fn, which may be
	// nil. A record that cannot be enqueued is reported through fn as well.
	Produce(ctx context.Context, rec Record, fn DeliveryFunc)

	// Ping checks connectivity with the backend.
	Ping(ctx context.Context) error

	// Close flushes outstanding records (bounded by ctx) and releases
	// resources.
	Close(ctx context.Context) error
}
