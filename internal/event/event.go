// Package event builds the interaction event emitted after a successful
// summary and publishes it to the message bus.
//
// Publishing is at-most-once: the record is handed to the bus producer and the
// outcome is only logged. Nothing is returned to the caller.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/bus"
	"github.com/MrWong99/parley/pkg/egress"
)

// Event constants for a summary-completed interaction.
const (
	NameRequestCreateMedia = "REQUEST_CREATE_MEDIA"
	TypeRequestCreateMedia = 177
)

// Defaults for the bus record.
const (
	DefaultTopic   = "GENERAL_MESSAGE_TOPIC"
	DefaultKey     = "key"
	defaultTimeout = 10 * time.Second
)

// Agent identifies the human user behind an event.
type Agent struct {
	UserID string `json:"userId"`
}

// SystemParticipant identifies the emitting service instance.
type SystemParticipant struct {
	InstanceID string `json:"instanceId"`
}

// Participant is either an agent or a system participant; the other field is
// encoded as null.
type Participant struct {
	Agent             *Agent             `json:"agent"`
	SystemParticipant *SystemParticipant `json:"systemParticipant"`
}

// InteractionEvent is the event body.
type InteractionEvent struct {
	EventName      string            `json:"eventName"`
	EventType      int               `json:"eventType"`
	EventTimestamp int64             `json:"eventTimestamp"`
	EventOwner     Participant       `json:"eventOwner"`
	UserData       map[string]string `json:"userData"`
}

// Envelope is the bus message.
type Envelope struct {
	InteractionEvent InteractionEvent `json:"interactionEvent"`
	MessageOwner     Participant      `json:"messageOwner"`
}

// Interaction is the input for one event.
type Interaction struct {
	// Transcript is the full transcript, one "key: text" line per item.
	Transcript string

	// Summary is the generated summary.
	Summary string

	// Token is the participant's JWT; its preferred_username becomes the
	// event owner.
	Token string
}

// Config holds the fixed parts of every event.
type Config struct {
	// RoomName is reported as userData.roomId.
	RoomName string

	// InstanceID identifies this service as the message owner.
	InstanceID string

	// Storage is reported in userData so downstream consumers can fetch the
	// recording.
	Storage egress.S3

	// Topic and Key of the bus record. Defaults: DefaultTopic, DefaultKey.
	Topic string
	Key   string

	// Timeout bounds delivery. Default 10s.
	Timeout time.Duration
}

// Publisher builds and publishes interaction events.
type Publisher struct {
	producer bus.Producer
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time
}

// Option is a functional option for Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher returns a Publisher producing to producer.
func NewPublisher(producer bus.Producer, cfg Config, opts ...Option) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &Publisher{producer: producer, cfg: cfg, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Build assembles the envelope for in.
func (p *Publisher) Build(in Interaction) Envelope {
	owner, err := OwnerFromToken(in.Token)
	if err != nil {
		p.log.Warn("event: could not resolve event owner", "err", err)
	}
	s := p.cfg.Storage
	return Envelope{
		InteractionEvent: InteractionEvent{
			EventName:      NameRequestCreateMedia,
			EventType:      TypeRequestCreateMedia,
			EventTimestamp: p.now().UnixMilli(),
			EventOwner:     Participant{Agent: &Agent{UserID: owner}},
			UserData: map[string]string{
				"transcript": in.Transcript,
				"summary":    in.Summary,
				"roomId":     p.cfg.RoomName,
				"bucket":     s.Bucket,
				"region":     s.Region,
				"access_key": s.AccessKey,
				"secret":     s.Secret,
			},
		},
		MessageOwner: Participant{SystemParticipant: &SystemParticipant{InstanceID: p.cfg.InstanceID}},
	}
}

// Publish builds the event for in and hands it to the bus. It returns once
// the record is enqueued; delivery is reported in the log. The record outlives
// ctx's cancellation but not the configured timeout.
func (p *Publisher) Publish(ctx context.Context, in Interaction) {
	env := p.Build(in)
	value, err := json.Marshal(env)
	if err != nil {
		p.log.Error("event: marshal failed", "err", err)
		p.metrics.RecordBusPublish(ctx, observe.StatusError)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	p.log.Info("event: publishing", "event", env.InteractionEvent.EventName, "topic", p.cfg.Topic, "bytes", len(value))
	p.producer.Produce(pctx, bus.Record{
		Topic: p.cfg.Topic,
		Key:   []byte(p.cfg.Key),
		Value: value,
	}, func(d bus.Delivery, err error) {
		defer cancel()
		p.metrics.RecordBusPublish(pctx, observe.Status(err))
		if err != nil {
			p.log.Error("event: delivery failed", "topic", d.Topic, "err", err)
			return
		}
		p.log.Info("event: delivered", "topic", d.Topic, "partition", d.Partition, "offset", d.Offset)
	})
}

// OwnerFromToken returns the preferred_username claim of token without
// verifying its signature. An absent token, an undecodable token or a missing
// claim yields "" and an error describing which.
func OwnerFromToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("event: no jwt token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("event: decode jwt: %w", err)
	}
	name, ok := claims["preferred_username"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("event: jwt has no preferred_username claim")
	}
	return name, nil
}
