// Package recording starts and stops the audio recording of a session's room.
//
// Start and Stop are meant to be run as background tasks: failures are logged
// and counted, never returned to the RPC that triggered them.
//
// Stop reads whatever handle Start has stored so far. When the participant
// asks for a summary right after changing configuration, Stop can run before
// Start has stored its handle; Stop then logs a warning and does nothing, and
// the recording keeps running until the egress service ends it with the room.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/egress"
)

const defaultTimeout = 30 * time.Second

// Controller owns the recording handle of one session.
type Controller struct {
	client  egress.Client
	storage egress.S3
	log     *slog.Logger
	metrics *observe.Metrics
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	handle *egress.Handle
}

// Option is a functional option for Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTimeout bounds each egress call. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a Controller recording to storage through client.
func New(client egress.Client, storage egress.S3, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		storage: storage,
		log:     slog.Default(),
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// FilePath returns the object key for a recording of roomName started at t.
func FilePath(roomName string, t time.Time) string {
	millis := strconv.FormatInt(t.UnixMilli(), 10)
	return "livekit_" + roomName + "_to_" + roomName + "_at_" + millis + "_audio.mp4"
}

// Start begins recording roomName and stores the returned handle. A handle
// from an earlier Start is replaced.
func (c *Controller) Start(ctx context.Context, roomName string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	storage := c.storage
	storage.ForcePathStyle = true
	req := egress.Request{
		RoomName: roomName,
		Filepath: FilePath(roomName, c.now()),
		Storage:  storage,
	}

	h, err := c.client.Start(ctx, req)
	c.metrics.RecordRecording(ctx, "start", observe.Status(err))
	if err != nil {
		c.log.Error("recording: start failed", "room", roomName, "err", err)
		return fmt.Errorf("recording: start: %w", err)
	}

	c.mu.Lock()
	if c.handle != nil {
		c.log.Warn("recording: replacing active recording", "old", c.handle.EgressID, "new", h.EgressID)
	}
	c.handle = &h
	c.mu.Unlock()

	c.log.Info("recording: started", "room", roomName, "egress_id", h.EgressID, "file", req.Filepath)
	return nil
}

// Stop ends the active recording, if any. Without a stored handle it logs a
// warning and returns nil without contacting the egress service. Egress
// failures are logged, not returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h == nil {
		c.metrics.RecordRecording(ctx, "stop", "skipped")
		c.log.Warn("recording: stop requested without an active recording")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.client.Stop(ctx, *h)
	c.metrics.RecordRecording(ctx, "stop", observe.Status(err))
	if err != nil {
		c.log.Error("recording: stop failed", "egress_id", h.EgressID, "err", err)
		return nil
	}

	c.mu.Lock()
	if c.handle != nil && c.handle.EgressID == h.EgressID {
		c.handle = nil
	}
	c.mu.Unlock()

	c.log.Info("recording: stopped", "egress_id", h.EgressID)
	return nil
}

// Active returns the stored handle.
func (c *Controller) Active() (egress.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return egress.Handle{}, false
	}
	return *c.handle, true
}
