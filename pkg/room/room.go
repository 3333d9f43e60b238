// Package room defines the media-room transport parley runs inside.
//
// A Room is the agent's view of a joined room: who else is in it, which
// tracks they publish, an RPC surface in both directions, and a way to publish
// transcription segments. Audio itself is not carried here; the realtime
// model consumes the participant's audio through its own transport.
package room

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by operations on a room that has disconnected.
var ErrNotConnected = errors.New("room: not connected")

// TrackSource identifies what a published track carries.
type TrackSource int

const (
	SourceUnknown TrackSource = iota
	SourceMicrophone
	SourceCamera
	SourceScreenShare
	SourceScreenShareAudio
)

// Track is a published track of a remote participant.
type Track struct {
	SID    string
	Source TrackSource
}

// Participant is a remote participant in the room.
type Participant struct {
	Identity string
	Name     string

	// Metadata is the participant's metadata string, verbatim.
	Metadata string

	Tracks []Track
}

// MicrophoneTrack returns the first microphone track, if any.
func (p Participant) MicrophoneTrack() (Track, bool) {
	for _, t := range p.Tracks {
		if t.Source == SourceMicrophone {
			return t, true
		}
	}
	return Track{}, false
}

// Segment is one transcription segment.
type Segment struct {
	ID        string
	Text      string
	StartTime uint64
	EndTime   uint64
	Final     bool
	Language  string
}

// Transcription attributes a set of segments to a participant's track.
type Transcription struct {
	ParticipantIdentity string
	TrackSID            string
	Segments            []Segment
}

// Invocation is an inbound RPC call.
type Invocation struct {
	RequestID       string
	CallerIdentity  string
	Payload         string
	ResponseTimeout time.Duration
}

// Handler serves an inbound RPC method. A returned error is sent to the caller
// as an RPC error.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Call describes an outbound RPC call.
type Call struct {
	DestinationIdentity string
	Method              string
	Payload             string

	// ResponseTimeout overrides the transport default when positive.
	ResponseTimeout time.Duration
}

// Room is a joined media room. Implementations must be safe for concurrent
// use; inbound RPC handlers may run on transport goroutines concurrently with
// each other and with any other method.
type Room interface {
	// Name returns the room name.
	Name() string

	// RemoteParticipants returns a snapshot of the remote participants in join
	// order where the transport preserves it.
	RemoteParticipants() []Participant

	// WaitForParticipant blocks until at least one remote participant is
	// present and returns it.
	WaitForParticipant(ctx context.Context) (Participant, error)

	// RegisterRPC installs h for method. Registering the same method twice
	// replaces the handler.
	RegisterRPC(method string, h Handler) error

	// PerformRPC calls a method on a remote participant and returns its
	// response payload.
	PerformRPC(ctx context.Context, call Call) (string, error)

	// PublishTranscription publishes transcription segments to the room.
	PublishTranscription(ctx context.Context, t Transcription) error

	// Done is closed when the room connection ends.
	Done() <-chan struct{}

	// Disconnect leaves the room. Idempotent.
	Disconnect()
}
