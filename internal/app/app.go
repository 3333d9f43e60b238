// Package app wires all parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects to the room and builds
// the ops HTTP server, Run waits for the first participant and runs the agent
// session, and Shutdown tears everything down in order.
//
// For testing, inject a room via [WithRoom] (or a custom [Connector]) and mock
// providers through [Providers]. When no room is injected, New joins the
// LiveKit room named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/bus"
	"github.com/MrWong99/parley/pkg/egress"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	"github.com/MrWong99/parley/pkg/room"
	"github.com/MrWong99/parley/pkg/room/livekit"
)

// readHeaderTimeout bounds reading request headers on the ops server.
const readHeaderTimeout = 5 * time.Second

// Providers holds one interface value per external collaborator. All fields
// are required. Populated by main.go via the config registry.
type Providers struct {
	Realtime realtime.Provider
	Summary  llm.Provider
	Bus      bus.Producer
	Egress   egress.Client
}

func (p *Providers) validate() error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.Realtime == nil {
		errs = append(errs, errors.New("app: realtime provider is required"))
	}
	if p.Summary == nil {
		errs = append(errs, errors.New("app: summary provider is required"))
	}
	if p.Bus == nil {
		errs = append(errs, errors.New("app: bus producer is required"))
	}
	if p.Egress == nil {
		errs = append(errs, errors.New("app: egress client is required"))
	}
	return errors.Join(errs...)
}

// Connector joins the room described by cfg.
type Connector func(ctx context.Context, cfg config.RoomConfig) (room.Room, error)

// ConnectLiveKit is the default [Connector].
func ConnectLiveKit(ctx context.Context, cfg config.RoomConfig) (room.Room, error) {
	return livekit.Connect(ctx, livekit.Config{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		RoomName:  cfg.Name,
		Identity:  cfg.Identity,
		Name:      cfg.DisplayName,
	})
}

// App owns all subsystem lifetimes of the agent.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	connect        Connector
	metricsHandler http.Handler

	room     room.Room
	sessions *SessionManager
	router   chi.Router
	server   *http.Server
	serveWG  sync.WaitGroup

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRoom injects an already joined room instead of connecting.
func WithRoom(r room.Room) Option {
	return func(a *App) { a.room = r }
}

// WithConnector replaces the function used to join the room.
func WithConnector(c Connector) Option {
	return func(a *App) { a.connect = c }
}

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App: it joins the room (unless one was injected), prepares
// the session manager and builds the ops router. The ops server is created
// only when cfg.Server.ListenAddr is set; it starts listening in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		connect:   ConnectLiveKit,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Room ──────────────────────────────────────────────────────────
	if a.room == nil {
		r, err := a.connect(ctx, cfg.Room)
		if err != nil {
			return nil, fmt.Errorf("app: connect room: %w", err)
		}
		a.room = r
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Room:      a.room,
		Config:    cfg,
		Providers: providers,
		Logger:    a.log,
		Metrics:   a.metrics,
	})

	// ── 3. Ops router ────────────────────────────────────────────────────
	a.router = a.newRouter()
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.router,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	return a, nil
}

func (a *App) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	health.New(
		health.ChannelClosed("room", a.room.Done()),
		health.Ping("bus", a.providers.Bus),
	).Register(r)
	r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	return r
}

// Handler returns the ops router.
func (a *App) Handler() http.Handler { return a.router }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the ops server, waits for the first remote participant, and runs
// the agent session for them until the session ends, the room disconnects or
// ctx is cancelled. When ctx is done, Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
		a.serveWG.Add(1)
		go func() {
			defer a.serveWG.Done()
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("ops server error", "err", err)
			}
		}()
		a.log.Info("ops server listening", "addr", ln.Addr().String())
	}

	a.log.Info("waiting for participant", "room", a.room.Name())
	p, err := a.room.WaitForParticipant(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("app: wait for participant: %w", err)
	}
	a.log.Info("participant joined", "participant", p.Identity)

	if err := a.sessions.Start(ctx, p); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	if err := a.sessions.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the session first (so its background
// work can still reach the room and the bus), then the room, then the bus
// (flushing pending deliveries), then the ops server. Errors are joined.
// Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		var errs []error

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}

		a.room.Disconnect()

		if err := a.providers.Bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: close bus: %w", err))
		}

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: ops server: %w", err))
			}
			a.serveWG.Wait()
		}

		a.stopErr = errors.Join(errs...)
		a.log.Info("shutdown complete")
	})
	return a.stopErr
}
