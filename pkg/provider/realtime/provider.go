// Package realtime defines the Provider interface for streaming speech models.
//
// A realtime provider wraps a stateful voice model session (for example the
// OpenAI Realtime API). parley does not carry audio through this package; the
// media path between the room and the model is owned by the room transport.
// What flows here is the control plane: session parameters pushed to the model
// and the model's lifecycle events (speech detected, input transcribed,
// response finished) flowing back.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"strings"
)

// Modality is an output channel the model may respond on.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// UnboundedTokens is the MaxOutputTokens value that lifts the per-response
// token cap. Providers translate it to their own "infinite" marker.
const UnboundedTokens = -1

// TurnDetection holds the server-side voice activity detection parameters
// that decide when the user has finished speaking.
type TurnDetection struct {
	// Threshold is the activation threshold in [0, 1].
	Threshold float64

	// PrefixPaddingMs is the amount of audio kept before detected speech.
	PrefixPaddingMs int

	// SilenceDurationMs is the silence needed to end a user turn.
	SilenceDurationMs int
}

// SessionParams is the full set of model parameters for a session. It is sent
// whole on connect and on every update.
type SessionParams struct {
	Instructions string
	Voice        string
	Temperature  float64

	// MaxOutputTokens caps tokens per response. [UnboundedTokens] removes the cap.
	MaxOutputTokens int

	Modalities    []Modality
	TurnDetection TurnDetection
}

// EventType identifies a model lifecycle event.
type EventType int

const (
	// EventSpeechStarted fires when the model's VAD detects the start of user speech.
	EventSpeechStarted EventType = iota + 1

	// EventTranscriptionCompleted fires when transcription of a user turn finished.
	EventTranscriptionCompleted

	// EventTranscriptionFailed fires when transcription of a user turn failed.
	EventTranscriptionFailed

	// EventResponseDone fires when the model finished a response, successfully or not.
	EventResponseDone
)

// String returns a short name for the event type, used in logs and metrics.
func (t EventType) String() string {
	switch t {
	case EventSpeechStarted:
		return "speech_started"
	case EventTranscriptionCompleted:
		return "transcription_completed"
	case EventTranscriptionFailed:
		return "transcription_failed"
	case EventResponseDone:
		return "response_done"
	default:
		return "unknown"
	}
}

// ResponseStatus is the closed set of response outcomes parley reacts to.
type ResponseStatus int

const (
	// StatusOther covers every status without a dedicated variant
	// (cancelled, in_progress, unknown values).
	StatusOther ResponseStatus = iota
	StatusCompleted
	StatusIncomplete
	StatusFailed
)

// ParseResponseStatus maps a wire status string onto [ResponseStatus].
func ParseResponseStatus(s string) ResponseStatus {
	switch strings.ToLower(s) {
	case "completed":
		return StatusCompleted
	case "incomplete":
		return StatusIncomplete
	case "failed":
		return StatusFailed
	default:
		return StatusOther
	}
}

// String returns the wire form of the status.
func (s ResponseStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusIncomplete:
		return "incomplete"
	case StatusFailed:
		return "failed"
	default:
		return "other"
	}
}

// Response summarises a finished model response.
type Response struct {
	ID     string
	Status ResponseStatus

	// Reason is status_details.reason. Set for incomplete responses.
	Reason string

	// ErrorCode is status_details.error.code. Set for failed responses.
	ErrorCode string
}

// Event is a single model lifecycle event. Only the fields relevant to Type
// are populated.
type Event struct {
	Type EventType

	// ItemID is the conversation item the event refers to, when known.
	ItemID string

	// Transcript is the recognised user text for EventTranscriptionCompleted.
	Transcript string

	// Err describes the failure for EventTranscriptionFailed.
	Err error

	// Response is set for EventResponseDone.
	Response Response
}

// Session is an open model session.
//
// Events returns a channel that is closed when the session ends; callers check
// Err afterwards to learn whether the end was clean. All methods are safe for
// concurrent use. Close is idempotent.
type Session interface {
	// Events returns the channel carrying model lifecycle events.
	Events() <-chan Event

	// Update replaces the session parameters. The change applies to the next
	// model turn.
	Update(ctx context.Context, params SessionParams) error

	// CreateUserMessage appends a user text item to the conversation under the
	// given item id.
	CreateUserMessage(ctx context.Context, id, text string) error

	// Err returns the error that ended the session, or nil.
	Err() error

	// Close terminates the session and closes the Events channel.
	Close() error
}

// Provider opens realtime model sessions.
type Provider interface {
	// Connect opens a session configured with params. The caller owns the
	// returned Session and must Close it.
	Connect(ctx context.Context, params SessionParams) (Session, error)
}
