// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out a controllable Session.
// Tests drive the session by sending on Session.EventsCh and inspect Update
// and CreateUserMessage calls afterwards.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, params)
//	sess.EventsCh <- realtime.Event{Type: realtime.EventSpeechStarted}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx    context.Context
	Params realtime.SessionParams
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

var _ realtime.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, params realtime.SessionParams) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Params: params})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// UserMessage records a single invocation of Session.CreateUserMessage.
type UserMessage struct {
	ID   string
	Text string
}

// Session is a mock implementation of realtime.Session. EventsCh is closed by
// Close; tests may also close it directly to simulate the model ending the
// session (use End for that so Close stays safe).
type Session struct {
	mu sync.Mutex

	// EventsCh is returned by Events.
	EventsCh chan realtime.Event

	// UpdateErr, if non-nil, is returned by Update.
	UpdateErr error

	// CreateUserMessageErr, if non-nil, is returned by CreateUserMessage.
	CreateUserMessageErr error

	// SessionErr is returned by Err.
	SessionErr error

	// Updates records every Update call in order.
	Updates []realtime.SessionParams

	// UserMessages records every CreateUserMessage call in order.
	UserMessages []UserMessage

	// CloseCount is the number of times Close was called.
	CloseCount int

	endOnce sync.Once
}

var _ realtime.Session = (*Session)(nil)

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan realtime.Event, 64)}
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event { return s.EventsCh }

// Update records the call and returns UpdateErr.
func (s *Session) Update(_ context.Context, params realtime.SessionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates = append(s.Updates, params)
	return s.UpdateErr
}

// CreateUserMessage records the call and returns CreateUserMessageErr.
func (s *Session) CreateUserMessage(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserMessages = append(s.UserMessages, UserMessage{ID: id, Text: text})
	return s.CreateUserMessageErr
}

// Err returns SessionErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionErr
}

// Close records the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// End closes EventsCh once, simulating the model ending the session.
func (s *Session) End() {
	s.endOnce.Do(func() { close(s.EventsCh) })
}

// UpdateCalls returns a copy of the recorded Update calls.
func (s *Session) UpdateCalls() []realtime.SessionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.SessionParams, len(s.Updates))
	copy(out, s.Updates)
	return out
}

// UserMessageCalls returns a copy of the recorded CreateUserMessage calls.
func (s *Session) UserMessageCalls() []UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserMessage, len(s.UserMessages))
	copy(out, s.UserMessages)
	return out
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}
