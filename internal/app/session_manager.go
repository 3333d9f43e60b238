package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/egress"
	"github.com/MrWong99/parley/pkg/room"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while another
	// session is running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when an operation needs a running session.
	ErrNoSession = errors.New("app: no active session")
)

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// Room is the name of the room the session runs in.
	Room string

	// Participant is the identity of the participant the agent serves.
	Participant string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager manages the lifecycle of the agent session.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active *session.Session
	info   SessionInfo

	// Dependencies injected at construction.
	room      room.Room
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Room      room.Room
	Config    *config.Config
	Providers *Providers
	Logger    *slog.Logger
	Metrics   *observe.Metrics

	// Now overrides the clock used for [SessionInfo.StartedAt].
	Now func() time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		room:      cfg.Room,
		cfg:       cfg.Config,
		providers: cfg.Providers,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Start opens a session for participant p.
//
// Returns [ErrSessionActive] if a session is already running.
func (sm *SessionManager) Start(ctx context.Context, p room.Participant) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return fmt.Errorf("%w (participant=%s)", ErrSessionActive, sm.info.Participant)
	}

	s, err := session.Start(ctx, sm.sessionConfig(p))
	if err != nil {
		return err
	}

	sm.active = s
	sm.info = SessionInfo{
		Room:        sm.room.Name(),
		Participant: p.Identity,
		StartedAt:   sm.now().UTC(),
	}
	sm.log.Info("session started", "room", sm.info.Room, "participant", p.Identity)
	return nil
}

// Run dispatches the active session's model events until it ends or ctx is
// done. The manager's lock is not held while the session runs.
func (sm *SessionManager) Run(ctx context.Context) error {
	sm.mu.Lock()
	s := sm.active
	sm.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.Run(ctx)
}

// Stop closes the active session and clears it.
//
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active == nil {
		return ErrNoSession
	}

	err := sm.active.Close(ctx)
	participant := sm.info.Participant
	sm.active = nil
	sm.info = SessionInfo{}

	if err != nil {
		sm.log.Warn("session stopped with errors", "participant", participant, "err", err)
		return err
	}
	sm.log.Info("session stopped", "participant", participant)
	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Session returns the active session, or nil.
func (sm *SessionManager) Session() *session.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// sessionConfig maps the process configuration onto one session's settings.
func (sm *SessionManager) sessionConfig(p room.Participant) session.Config {
	c := sm.cfg
	return session.Config{
		Room:        sm.room,
		Participant: p,
		Model:       sm.providers.Realtime,
		Egress:      sm.providers.Egress,
		Storage: egress.S3{
			Bucket:    c.Storage.Bucket,
			Region:    c.Storage.Region,
			AccessKey: c.Storage.AccessKey,
			Secret:    c.Storage.Secret,
			Endpoint:  c.Storage.Endpoint,
		},
		Summary:          sm.providers.Summary,
		Bus:              sm.providers.Bus,
		InstanceID:       c.Agent.InstanceID,
		Topic:            c.Bus.Topic,
		Key:              c.Bus.Key,
		SummaryTimeout:   c.Summary.Timeout,
		BusTimeout:       c.Bus.Timeout,
		RecordingTimeout: c.Agent.RecordingTimeout,
		ToastTimeout:     c.Agent.ToastTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			Name:         "summary",
			MaxFailures:  c.Summary.MaxFailures,
			ResetTimeout: c.Summary.ResetTimeout,
		},
		ShutdownTimeout: c.Agent.ShutdownTimeout,
		Logger:          sm.log,
		Metrics:         sm.metrics,
	}
}
