// Package transcript relays the realtime model's input-speech lifecycle to the
// media room as transcription segments. The room's client renders an open
// (non-final) segment as a typing indicator and removes it when the segment
// is finalised.
package transcript

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/room"
)

// Texts published by the relay.
const (
	// Placeholder is shown while the participant is speaking.
	Placeholder = "…"

	// FailedMarker replaces the placeholder when transcription failed.
	FailedMarker = "⚠️ Transcription failed"

	language = "en"
)

// Relay keeps the room's "user is speaking" indicator in step with the
// realtime model. At most one indicator segment is open at a time.
//
// SpeechStarted, TranscriptionCompleted and TranscriptionFailed may be called
// concurrently; they serialise on one mutex and enqueue their publishes in
// the order they decide them, so the room sees a close before the next open.
type Relay struct {
	room    room.Room
	log     *slog.Logger
	metrics *observe.Metrics
	newID   func() string

	mu     sync.Mutex
	openID string

	out *outbox
}

// Option is a functional option for Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithIDGenerator replaces the segment id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(r *Relay) { r.newID = fn }
}

// NewRelay returns a Relay publishing to rm and starts its outbox worker.
// Call Close to stop it.
func NewRelay(rm room.Room, opts ...Option) *Relay {
	r := &Relay{
		room:  rm,
		log:   slog.Default(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.out = newOutbox(rm, r.log, r.metrics)
	return r
}

// OpenID returns the currently open segment id, or "" if none.
func (r *Relay) OpenID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID
}

// SpeechStarted closes any open indicator and opens a new one.
func (r *Relay) SpeechStarted(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.speaker()
	if !ok {
		return
	}
	if r.openID != "" {
		r.out.push(segment(p, r.openID, "", true), kindClose)
	}
	r.openID = r.newID()
	r.out.push(segment(p, r.openID, Placeholder, false), kindOpen)
}

// TranscriptionCompleted closes the open indicator, if any.
func (r *Relay) TranscriptionCompleted(ctx context.Context) {
	r.closeOpen("")
}

// TranscriptionFailed closes the open indicator with FailedMarker, if any.
func (r *Relay) TranscriptionFailed(ctx context.Context) {
	r.closeOpen(FailedMarker)
}

func (r *Relay) closeOpen(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openID == "" {
		return
	}
	p, ok := r.speaker()
	if !ok {
		return
	}
	kind := kindClose
	if text != "" {
		kind = kindFailed
	}
	r.out.push(segment(p, r.openID, text, true), kind)
	r.openID = ""
}

// speaker resolves the first remote participant.
func (r *Relay) speaker() (room.Participant, bool) {
	ps := r.room.RemoteParticipants()
	if len(ps) == 0 {
		r.log.Debug("transcript: no remote participant, skipping")
		return room.Participant{}, false
	}
	return ps[0], true
}

func segment(p room.Participant, id, text string, final bool) room.Transcription {
	track, _ := p.MicrophoneTrack()
	return room.Transcription{
		ParticipantIdentity: p.Identity,
		TrackSID:            track.SID,
		Segments: []room.Segment{{
			ID:       id,
			Text:     text,
			Final:    final,
			Language: language,
		}},
	}
}

// Close stops the outbox worker. Publishes still queued are dropped.
func (r *Relay) Close() {
	r.out.close()
}
