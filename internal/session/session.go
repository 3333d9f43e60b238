// Package session wires one participant's live agent session: it opens the
// realtime model with the participant's configuration, registers the RPC
// surface and dispatches model events until the model or the room goes away.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/event"
	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/rpc"
	"github.com/MrWong99/parley/internal/sessionconfig"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/internal/tasks"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/bus"
	"github.com/MrWong99/parley/pkg/egress"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	"github.com/MrWong99/parley/pkg/room"
)

// GreetingText asks the model to open the conversation.
const GreetingText = "Please begin the interaction with the user in a manner consistent with your instructions."

const defaultShutdownTimeout = 10 * time.Second

// Config holds the collaborators and settings of a session. Room, Participant,
// Model, Egress, Summary and Bus are required.
type Config struct {
	Room        room.Room
	Participant room.Participant

	// Model opens the realtime model session.
	Model realtime.Provider

	// Egress records the room. Storage is the recording destination and is
	// also reported in the interaction event.
	Egress  egress.Client
	Storage egress.S3

	// Summary generates the end-of-session summary.
	Summary llm.Provider

	// Bus receives the interaction event.
	Bus bus.Producer

	// InstanceID identifies this service as the event's message owner.
	InstanceID string

	// Topic and Key of the bus record. Empty values use the event defaults.
	Topic string
	Key   string

	// Timeouts. Zero values use each component's default.
	SummaryTimeout   time.Duration
	BusTimeout       time.Duration
	RecordingTimeout time.Duration
	ToastTimeout     time.Duration

	// Breaker configures the circuit breaker in front of Summary.
	Breaker resilience.CircuitBreakerConfig

	// ShutdownTimeout bounds waiting for background tasks in Close.
	// Default 10s.
	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Session is one running participant session.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	config     sessionconfig.Configuration
	model      realtime.Session
	sup        *tasks.Supervisor
	relay      *transcript.Relay
	recorder   *recording.Controller
	toaster    *notify.Toaster
	dispatcher *rpc.Dispatcher

	counted   bool
	closeOnce sync.Once
	closeErr  error
}

// Start parses the participant's metadata, opens the model session and
// registers the RPC handlers. A configuration without an API key fails with
// [sessionconfig.ErrMissingAPIKey] before anything is opened.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	log := cfg.Logger.With("room", cfg.Room.Name(), "participant", cfg.Participant.Identity)

	conf, err := sessionconfig.Parse([]byte(cfg.Participant.Metadata))
	if err != nil {
		return nil, fmt.Errorf("session: parse metadata: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	log.Info("session: starting", "voice", conf.Voice, "temperature", conf.Temperature,
		"max_output_tokens", conf.MaxOutputTokens, "modalities", conf.Modalities)

	model, err := cfg.Model.Connect(ctx, conf.Params())
	if err != nil {
		return nil, fmt.Errorf("session: connect model: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		config:  conf,
		model:   model,
		sup:     tasks.New(context.WithoutCancel(ctx), log),
	}

	if conf.WantsGreeting() {
		id := uuid.NewString()[:10]
		if err := model.CreateUserMessage(ctx, id, GreetingText); err != nil {
			log.Warn("session: greeting failed", "err", err)
		}
	}

	if err := s.wire(); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.counted = true
	return s, nil
}

// wire builds the per-session components and registers the RPC surface.
func (s *Session) wire() error {
	cfg := s.cfg
	identity := cfg.Participant.Identity

	s.relay = transcript.NewRelay(cfg.Room,
		transcript.WithLogger(s.log),
		transcript.WithMetrics(s.metrics))
	s.toaster = notify.NewToaster(cfg.Room, identity,
		notify.WithTimeout(cfg.ToastTimeout),
		notify.WithLogger(s.log),
		notify.WithMetrics(s.metrics))

	s.recorder = recording.New(cfg.Egress, cfg.Storage,
		recording.WithLogger(s.log),
		recording.WithMetrics(s.metrics),
		recording.WithTimeout(cfg.RecordingTimeout))

	publisher := event.NewPublisher(cfg.Bus, event.Config{
		RoomName:   cfg.Room.Name(),
		InstanceID: cfg.InstanceID,
		Storage:    cfg.Storage,
		Topic:      cfg.Topic,
		Key:        cfg.Key,
		Timeout:    cfg.BusTimeout,
	}, event.WithLogger(s.log), event.WithMetrics(s.metrics))

	breaker := cfg.Breaker
	if breaker.Name == "" {
		breaker.Name = "summary"
	}
	breaker.Logger = s.log
	pipeline := summary.New(cfg.Summary, publisher,
		summary.WithTimeout(cfg.SummaryTimeout),
		summary.WithBreaker(resilience.NewCircuitBreaker(breaker)),
		summary.WithLogger(s.log),
		summary.WithMetrics(s.metrics))

	s.dispatcher = rpc.New(identity, cfg.Room.Name(), s.config, rpc.Deps{
		Model:      s.model,
		Recorder:   s.recorder,
		Summariser: pipeline,
		Tasks:      s.sup,
	}, rpc.WithLogger(s.log), rpc.WithMetrics(s.metrics))

	if err := s.dispatcher.Register(cfg.Room); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// Config returns the configuration the session is currently running with.
func (s *Session) Config() sessionconfig.Configuration {
	return s.dispatcher.Active()
}

// Recording returns the handle of the active room recording, if any.
func (s *Session) Recording() (egress.Handle, bool) {
	return s.recorder.Active()
}

// Run dispatches model events until the model session ends, the room
// disconnects or ctx is done. A model session that ended with an error is
// reported; the other cases return nil.
func (s *Session) Run(ctx context.Context) error {
	events := s.model.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.cfg.Room.Done():
			s.log.Info("session: room disconnected")
			return nil
		case ev, ok := <-events:
			if !ok {
				if err := s.model.Err(); err != nil {
					return fmt.Errorf("session: model: %w", err)
				}
				s.log.Info("session: model session ended")
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev realtime.Event) {
	s.metrics.RecordModelEvent(ctx, ev.Type.String())

	switch ev.Type {
	case realtime.EventSpeechStarted:
		s.relay.SpeechStarted(ctx)

	case realtime.EventTranscriptionCompleted:
		s.relay.TranscriptionCompleted(ctx)

	case realtime.EventTranscriptionFailed:
		s.log.Warn("session: input transcription failed", "item", ev.ItemID, "err", ev.Err)
		s.relay.TranscriptionFailed(ctx)

	case realtime.EventResponseDone:
		n, ok := notify.FromResponse(ev.Response)
		if !ok {
			return
		}
		s.log.Info("session: response not completed", "response", ev.Response.ID,
			"status", ev.Response.Status.String(), "reason", ev.Response.Reason, "code", ev.Response.ErrorCode)
		if err := s.sup.Go("toast", func(ctx context.Context) error {
			return s.toaster.Show(ctx, n)
		}); err != nil {
			s.log.Debug("session: toast dropped", "err", err)
		}

	default:
		s.log.Debug("session: ignoring model event", "type", ev.Type.String())
	}
}

// Close cancels and awaits background work, stops the transcript relay and
// closes the model session. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.sup.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.relay != nil {
			s.relay.Close()
		}
		if err := s.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close model: %w", err))
		}
		if s.counted {
			s.metrics.ActiveSessions.Add(ctx, -1)
		}
		s.closeErr = errors.Join(errs...)
		s.log.Info("session: closed")
	})
	return s.closeErr
}
