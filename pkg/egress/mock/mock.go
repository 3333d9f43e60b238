// Package mock provides a test double for egress.Client.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/egress"
)

var _ egress.Client = (*Client)(nil)

// Client is a mock implementation of egress.Client.
type Client struct {
	mu sync.Mutex

	// Handle is returned by Start when StartErr is nil.
	Handle egress.Handle

	// StartErr and StopErr, if non-nil, are returned by Start and Stop.
	StartErr error
	StopErr  error

	// StartGate, if non-nil, makes Start wait until the channel is closed or
	// ctx is done before returning.
	StartGate chan struct{}

	// StartCalls and StopCalls record every call in order.
	StartCalls []egress.Request
	StopCalls  []egress.Handle
}

// Start records the call and returns Handle, StartErr.
func (c *Client) Start(ctx context.Context, req egress.Request) (egress.Handle, error) {
	c.mu.Lock()
	c.StartCalls = append(c.StartCalls, req)
	gate := c.StartGate
	h, err := c.Handle, c.StartErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return egress.Handle{}, ctx.Err()
		}
	}
	if err != nil {
		return egress.Handle{}, err
	}
	return h, nil
}

// Stop records the call and returns StopErr.
func (c *Client) Stop(_ context.Context, h egress.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalls = append(c.StopCalls, h)
	return c.StopErr
}

// Starts returns a copy of the recorded Start calls.
func (c *Client) Starts() []egress.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]egress.Request, len(c.StartCalls))
	copy(out, c.StartCalls)
	return out
}

// Stops returns a copy of the recorded Stop calls.
func (c *Client) Stops() []egress.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]egress.Handle, len(c.StopCalls))
	copy(out, c.StopCalls)
	return out
}
