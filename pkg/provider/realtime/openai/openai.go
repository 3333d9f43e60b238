// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It opens a WebSocket to the Realtime endpoint and exchanges JSON events.
// Session parameters go out as session.update events; the lifecycle events
// parley cares about (speech started, input transcription completed/failed,
// response.done) come back on the Events channel. All other server events are
// ignored.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/realtime"
)

var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"

	// defaultReadLimit caps one server message. session.updated echoes the
	// full instructions and response.done the full response text.
	defaultReadLimit int64 = 16 << 20
)

// errSessionClosed is returned by session methods after Close.
var errSessionClosed = errors.New("openai: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTranscriptionModel selects the model used to transcribe user input.
// Input transcription drives the transcript relay, so it is always enabled.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// WithReadLimit caps the size of one server message in bytes. -1 disables
// the limit. Default 16 MiB.
func WithReadLimit(n int64) Option {
	return func(p *Provider) { p.readLimit = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
	readLimit          int64
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
		readLimit:          defaultReadLimit,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Realtime endpoint and configures the session with params.
// The receive loop is running when Connect returns.
func (p *Provider) Connect(ctx context.Context, params realtime.SessionParams) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(p.readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:               conn,
		events:             make(chan realtime.Event, 64),
		transcriptionModel: p.transcriptionModel,
		ctx:                sessCtx,
		cancel:             sessCancel,
	}

	if err := sess.Update(ctx, params); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice,omitempty"`
	Temperature             float64             `json:"temperature"`
	MaxResponseOutputTokens maxTokens           `json:"max_response_output_tokens"`
	Modalities              []string            `json:"modalities"`
	TurnDetection           turnDetection       `json:"turn_detection"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

// maxTokens encodes realtime.UnboundedTokens as the API's "inf" marker.
type maxTokens int

func (m maxTokens) MarshalJSON() ([]byte, error) {
	if int(m) == realtime.UnboundedTokens {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(int(m))
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	ID      string             `json:"id,omitempty"`
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object carried by error events and
// failed transcriptions: {"type":"...","code":"...","message":"..."}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// input_audio_buffer.speech_started /
	// conversation.item.input_audio_transcription.*
	ItemID string `json:"item_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.done
	Response *serverResponse `json:"response,omitempty"`

	// error / conversation.item.input_audio_transcription.failed
	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *statusDetails `json:"status_details,omitempty"`
}

type statusDetails struct {
	Type   string             `json:"type"`
	Reason string             `json:"reason,omitempty"`
	Error  *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn               *websocket.Conn
	events             chan realtime.Event
	transcriptionModel string

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// toSessionParams converts realtime parameters into the session.update body.
func (s *session) toSessionParams(params realtime.SessionParams) sessionParams {
	modalities := make([]string, len(params.Modalities))
	for i, m := range params.Modalities {
		modalities[i] = string(m)
	}
	out := sessionParams{
		Instructions:            params.Instructions,
		Voice:                   params.Voice,
		Temperature:             params.Temperature,
		MaxResponseOutputTokens: maxTokens(params.MaxOutputTokens),
		Modalities:              modalities,
		TurnDetection: turnDetection{
			Type:              "server_vad",
			Threshold:         params.TurnDetection.Threshold,
			PrefixPaddingMs:   params.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: params.TurnDetection.SilenceDurationMs,
		},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if s.transcriptionModel != "" {
		out.InputAudioTranscription = &inputTranscription{Model: s.transcriptionModel}
	}
	return out
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("openai: write: %w", err)
	}
	return nil
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.emit(realtime.Event{Type: realtime.EventSpeechStarted, ItemID: evt.ItemID})

	case "conversation.item.input_audio_transcription.completed":
		s.emit(realtime.Event{
			Type:       realtime.EventTranscriptionCompleted,
			ItemID:     evt.ItemID,
			Transcript: evt.Transcript,
		})

	case "conversation.item.input_audio_transcription.failed":
		msg := "transcription failed"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(realtime.Event{
			Type:   realtime.EventTranscriptionFailed,
			ItemID: evt.ItemID,
			Err:    fmt.Errorf("openai: %s", msg),
		})

	case "response.done":
		if evt.Response == nil {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventResponseDone, Response: toResponse(evt.Response)})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai realtime error event", "message", msg)
	}
}

func toResponse(r *serverResponse) realtime.Response {
	out := realtime.Response{
		ID:     r.ID,
		Status: realtime.ParseResponseStatus(r.Status),
	}
	if d := r.StatusDetails; d != nil {
		out.Reason = d.Reason
		if d.Error != nil {
			out.ErrorCode = d.Error.Code
		}
	}
	return out
}

func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// Events returns the channel on which model lifecycle events arrive.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Update replaces the session parameters by sending a session.update event.
func (s *session) Update(ctx context.Context, params realtime.SessionParams) error {
	return s.writeJSON(ctx, sessionUpdateMessage{
		Type:    "session.update",
		Session: s.toSessionParams(params),
	})
}

// CreateUserMessage appends a user text item to the conversation.
func (s *session) CreateUserMessage(ctx context.Context, id, text string) error {
	return s.writeJSON(ctx, createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			ID:   id,
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
