package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/room"
)

const publishTimeout = 5 * time.Second

// Publish kinds, used as the metrics "kind" attribute.
const (
	kindOpen   = "open"
	kindClose  = "close"
	kindFailed = "failed"
)

type pending struct {
	t    room.Transcription
	kind string
}

// outbox is an unbounded FIFO drained by one worker goroutine, so publishes
// reach the room in enqueue order without blocking the enqueuer.
type outbox struct {
	room    room.Room
	log     *slog.Logger
	metrics *observe.Metrics

	mu    sync.Mutex
	queue []pending
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newOutbox(rm room.Room, log *slog.Logger, m *observe.Metrics) *outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		room:    rm,
		log:     log,
		metrics: m,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(t room.Transcription, kind string) {
	o.mu.Lock()
	o.queue = append(o.queue, pending{t: t, kind: kind})
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.wake:
		}
		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			next := o.queue[0]
			o.queue = o.queue[1:]
			o.mu.Unlock()

			if o.ctx.Err() != nil {
				return
			}
			o.publish(next)
		}
	}
}

func (o *outbox) publish(p pending) {
	ctx, cancel := context.WithTimeout(o.ctx, publishTimeout)
	defer cancel()

	err := o.room.PublishTranscription(ctx, p.t)
	o.metrics.RecordTranscriptPublish(ctx, p.kind, observe.Status(err))
	if err != nil {
		o.log.Warn("transcript: publish failed", "kind", p.kind, "segment", p.t.Segments[0].ID, "err", err)
	}
}

func (o *outbox) close() {
	o.once.Do(func() {
		o.cancel()
		<-o.done
	})
}
