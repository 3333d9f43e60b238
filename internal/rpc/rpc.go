// Package rpc serves the participant-facing RPC methods of a session.
//
// Only the session participant may call them. Calls from anyone else are
// dropped: the handler returns an empty payload and no error, and nothing is
// changed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sessionconfig"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	"github.com/MrWong99/parley/pkg/room"
)

// Method names.
const (
	MethodUpdateConfig = "pg.updateConfig"
	MethodGetSummary   = "pg.getSummary"
)

// Outcome attribute values for RPC metrics.
const (
	outcomeChanged      = "changed"
	outcomeUnchanged    = "unchanged"
	outcomeOK           = "ok"
	outcomeError        = "error"
	outcomeUnauthorized = "unauthorized"
)

// ErrUnauthorized marks a call from someone other than the session
// participant. It is logged, never sent to the caller.
var ErrUnauthorized = errors.New("rpc: caller is not the session participant")

// ModelUpdater pushes parameters into the live model session.
type ModelUpdater interface {
	Update(ctx context.Context, params realtime.SessionParams) error
}

// Recorder starts and stops the room recording.
type Recorder interface {
	Start(ctx context.Context, roomName string) error
	Stop(ctx context.Context) error
}

// Summariser produces the end-of-session summary. It always returns text.
type Summariser interface {
	Summarise(ctx context.Context, req summary.Request) string
}

// Spawner runs fire-and-forget work owned by the session.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of a Dispatcher. All are required.
type Deps struct {
	Model      ModelUpdater
	Recorder   Recorder
	Summariser Summariser
	Tasks      Spawner
}

// Dispatcher owns the active configuration and routes inbound calls.
type Dispatcher struct {
	participant string
	roomName    string
	deps        Deps
	log         *slog.Logger
	metrics     *observe.Metrics

	mu     sync.Mutex
	active sessionconfig.Configuration
	token  string
}

// Option is a functional option for Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns a Dispatcher for participant in roomName, starting from the
// configuration the session was opened with.
func New(participant, roomName string, initial sessionconfig.Configuration, deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		participant: participant,
		roomName:    roomName,
		deps:        deps,
		log:         slog.Default(),
		active:      initial,
		token:       initial.JWT,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Register installs the handlers on r.
func (d *Dispatcher) Register(r room.Room) error {
	if err := r.RegisterRPC(MethodUpdateConfig, d.UpdateConfig); err != nil {
		return fmt.Errorf("rpc: register %s: %w", MethodUpdateConfig, err)
	}
	if err := r.RegisterRPC(MethodGetSummary, d.GetSummary); err != nil {
		return fmt.Errorf("rpc: register %s: %w", MethodGetSummary, err)
	}
	return nil
}

// Active returns the active configuration.
func (d *Dispatcher) Active() sessionconfig.Configuration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) authorize(inv room.Invocation) error {
	if inv.CallerIdentity != d.participant {
		return fmt.Errorf("%w: %q", ErrUnauthorized, inv.CallerIdentity)
	}
	return nil
}

// begin opens the span for an inbound call and returns a finisher that
// records the outcome.
func (d *Dispatcher) begin(ctx context.Context, method string, inv room.Invocation) (context.Context, func(outcome string, err error)) {
	ctx, span := observe.StartSpan(ctx, "rpc."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("rpc.caller", inv.CallerIdentity),
			attribute.String("rpc.request_id", inv.RequestID),
		))
	start := time.Now()
	return ctx, func(outcome string, err error) {
		span.SetAttributes(attribute.String("rpc.outcome", outcome))
		observe.EndSpan(span, err)
		d.metrics.RecordRPC(ctx, method, outcome, time.Since(start).Seconds())
	}
}

type updateResult struct {
	Changed bool `json:"changed"`
}

// UpdateConfig serves pg.updateConfig. The compare-and-swap of the active
// configuration runs under one lock, so of two concurrent identical updates
// exactly one reports a change.
func (d *Dispatcher) UpdateConfig(ctx context.Context, inv room.Invocation) (string, error) {
	ctx, finish := d.begin(ctx, MethodUpdateConfig, inv)
	log := observe.Logger(ctx, d.log).With("method", MethodUpdateConfig, "request_id", inv.RequestID)

	if err := d.authorize(inv); err != nil {
		log.Warn("rpc: dropped call", "err", err)
		finish(outcomeUnauthorized, nil)
		return "", nil
	}

	next, err := sessionconfig.Parse([]byte(inv.Payload))
	if err != nil {
		log.Warn("rpc: malformed config", "err", err)
		finish(outcomeError, err)
		return "", fmt.Errorf("rpc: update config: %w", err)
	}

	changed := d.swap(ctx, next, log)
	outcome := outcomeUnchanged
	if changed {
		outcome = outcomeChanged
	}
	out, err := json.Marshal(updateResult{Changed: changed})
	if err != nil {
		finish(outcomeError, err)
		return "", fmt.Errorf("rpc: update config: %w", err)
	}
	finish(outcome, nil)
	return string(out), nil
}

// swap replaces the active configuration with next if they differ, pushes
// the new parameters and schedules the recording start.
func (d *Dispatcher) swap(ctx context.Context, next sessionconfig.Configuration, log *slog.Logger) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active.Equal(next) {
		log.Debug("rpc: config unchanged")
		return false
	}
	d.active = next
	if next.JWT != "" {
		d.token = next.JWT
	}
	log.Info("rpc: config changed", "voice", next.Voice, "temperature", next.Temperature,
		"max_output_tokens", next.MaxOutputTokens, "modalities", next.Modalities)

	if err := d.deps.Model.Update(ctx, next.Params()); err != nil {
		log.Error("rpc: push config to model failed", "err", err)
	}
	if err := d.deps.Tasks.Go("recording.start", func(ctx context.Context) error {
		return d.deps.Recorder.Start(ctx, d.roomName)
	}); err != nil {
		log.Warn("rpc: recording start not scheduled", "err", err)
	}
	return true
}

// GetSummary serves pg.getSummary. It schedules the recording stop, then
// returns the summary text. A malformed payload yields
// [summary.FallbackText].
func (d *Dispatcher) GetSummary(ctx context.Context, inv room.Invocation) (string, error) {
	ctx, finish := d.begin(ctx, MethodGetSummary, inv)
	log := observe.Logger(ctx, d.log).With("method", MethodGetSummary, "request_id", inv.RequestID)

	if err := d.authorize(inv); err != nil {
		log.Warn("rpc: dropped call", "err", err)
		finish(outcomeUnauthorized, nil)
		return "", nil
	}

	if err := d.deps.Tasks.Go("recording.stop", d.deps.Recorder.Stop); err != nil {
		log.Warn("rpc: recording stop not scheduled", "err", err)
	}

	req, err := summary.DecodeRequest(inv.Payload)
	if err != nil {
		log.Warn("rpc: malformed summary request", "err", err)
		finish(outcomeError, err)
		return summary.FallbackText, nil
	}

	d.mu.Lock()
	req.Token = d.token
	d.mu.Unlock()

	text := d.deps.Summariser.Summarise(ctx, req)
	outcome := outcomeOK
	if text == summary.FallbackText {
		outcome = outcomeError
	}
	finish(outcome, nil)
	return text, nil
}
