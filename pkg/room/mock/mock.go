// Package mock provides an in-memory room.Room for tests.
//
// Participants are set directly; inbound RPCs are simulated with Invoke, which
// calls the registered handler the same way the transport would. Outbound
// calls and transcription publishes are recorded.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/room"
)

var _ room.Room = (*Room)(nil)

// Room is a mock implementation of room.Room.
type Room struct {
	mu sync.Mutex

	// RoomName is returned by Name.
	RoomName string

	// Participants is returned by RemoteParticipants.
	Participants []room.Participant

	// PerformRPCResponse and PerformRPCErr are returned by PerformRPC.
	PerformRPCResponse string
	PerformRPCErr      error

	// PublishErr, if non-nil, is returned by PublishTranscription.
	PublishErr error

	// RegisterErr, if non-nil, is returned by RegisterRPC.
	RegisterErr error

	// Calls records every PerformRPC call in order.
	Calls []room.Call

	// Published records every successful PublishTranscription call in order.
	Published []room.Transcription

	handlers map[string]room.Handler

	joined   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New returns a Room with the given name and participants.
func New(name string, participants ...room.Participant) *Room {
	return &Room{
		RoomName:     name,
		Participants: participants,
		handlers:     make(map[string]room.Handler),
		joined:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Join appends a participant and wakes WaitForParticipant.
func (r *Room) Join(p room.Participant) {
	r.mu.Lock()
	r.Participants = append(r.Participants, p)
	r.mu.Unlock()
	select {
	case r.joined <- struct{}{}:
	default:
	}
}

// Leave removes the participant with the given identity.
func (r *Room) Leave(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p.Identity != identity {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
}

// Name implements room.Room.
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RoomName
}

// RemoteParticipants implements room.Room.
func (r *Room) RemoteParticipants() []room.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Participant, len(r.Participants))
	copy(out, r.Participants)
	return out
}

// WaitForParticipant implements room.Room.
func (r *Room) WaitForParticipant(ctx context.Context) (room.Participant, error) {
	for {
		if ps := r.RemoteParticipants(); len(ps) > 0 {
			return ps[0], nil
		}
		select {
		case <-r.joined:
		case <-ctx.Done():
			return room.Participant{}, ctx.Err()
		case <-r.done:
			return room.Participant{}, room.ErrNotConnected
		}
	}
}

// RegisterRPC implements room.Room.
func (r *Room) RegisterRPC(method string, h room.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	r.handlers[method] = h
	return nil
}

// Registered reports whether a handler is installed for method.
func (r *Room) Registered(method string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[method]
	return ok
}

// Invoke simulates an inbound RPC from caller.
func (r *Room) Invoke(ctx context.Context, method, caller, payload string) (string, error) {
	r.mu.Lock()
	h, ok := r.handlers[method]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mock: method %q not registered", method)
	}
	return h(ctx, room.Invocation{
		RequestID:      method + "-" + caller,
		CallerIdentity: caller,
		Payload:        payload,
	})
}

// PerformRPC implements room.Room.
func (r *Room) PerformRPC(_ context.Context, call room.Call) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, call)
	if r.PerformRPCErr != nil {
		return "", r.PerformRPCErr
	}
	return r.PerformRPCResponse, nil
}

// PublishTranscription implements room.Room.
func (r *Room) PublishTranscription(_ context.Context, t room.Transcription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr != nil {
		return r.PublishErr
	}
	r.Published = append(r.Published, t)
	return nil
}

// RPCCalls returns a copy of the recorded PerformRPC calls.
func (r *Room) RPCCalls() []room.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Call, len(r.Calls))
	copy(out, r.Calls)
	return out
}

// Transcriptions returns a copy of the recorded transcription publishes.
func (r *Room) Transcriptions() []room.Transcription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Transcription, len(r.Published))
	copy(out, r.Published)
	return out
}

// Done implements room.Room.
func (r *Room) Done() <-chan struct{} { return r.done }

// Disconnect implements room.Room.
func (r *Room) Disconnect() {
	r.doneOnce.Do(func() { close(r.done) })
}
