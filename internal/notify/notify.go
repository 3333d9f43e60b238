// Package notify turns finished model responses into user-facing toasts and
// delivers them to the session participant over the pg.toast RPC.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	"github.com/MrWong99/parley/pkg/room"
)

// ToastMethod is the RPC method the participant's client serves.
const ToastMethod = "pg.toast"

// Variant is the visual style of a toast.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantSuccess     Variant = "success"
	VariantWarning     Variant = "warning"
	VariantDestructive Variant = "destructive"
)

// Notification is a toast payload. A nil Description is sent as JSON null.
type Notification struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Variant     Variant `json:"variant"`
}

func describe(s string) *string { return &s }

const mayBeIncomplete = "Response may be incomplete"

// FromResponse maps a finished response to a notification. The second result
// is false when the response warrants none.
func FromResponse(r realtime.Response) (Notification, bool) {
	switch r.Status {
	case realtime.StatusIncomplete:
		n := Notification{Variant: VariantWarning}
		switch r.Reason {
		case "max_output_tokens":
			n.Title, n.Description = "Max output tokens reached", describe(mayBeIncomplete)
		case "content_filter":
			n.Title, n.Description = "Content filter applied", describe(mayBeIncomplete)
		default:
			n.Title = "Response incomplete"
		}
		return n, true

	case realtime.StatusFailed:
		n := Notification{Variant: VariantDestructive}
		switch r.ErrorCode {
		case "server_error":
			n.Title = "Server error"
		case "rate_limit_exceeded":
			n.Title = "Rate limit exceeded"
		default:
			n.Title = "Response failed"
		}
		return n, true

	case realtime.StatusCompleted, realtime.StatusOther:
		return Notification{}, false
	}
	return Notification{}, false
}

// Toaster sends notifications to one participant.
type Toaster struct {
	room        room.Room
	participant string
	timeout     time.Duration
	log         *slog.Logger
	metrics     *observe.Metrics
}

// Option is a functional option for Toaster.
type Option func(*Toaster)

// WithTimeout bounds each pg.toast call. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(t *Toaster) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets the toaster logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Toaster) { t.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Toaster) { t.metrics = m }
}

// NewToaster returns a Toaster addressing participant in r.
func NewToaster(r room.Room, participant string, opts ...Option) *Toaster {
	t := &Toaster{room: r, participant: participant, timeout: 5 * time.Second, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Show delivers n via pg.toast.
func (t *Toaster) Show(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err = t.room.PerformRPC(ctx, room.Call{
		DestinationIdentity: t.participant,
		Method:              ToastMethod,
		Payload:             string(payload),
		ResponseTimeout:     t.timeout,
	})
	if err != nil {
		return fmt.Errorf("notify: show %q: %w", n.Title, err)
	}
	t.metrics.RecordNotification(ctx, string(n.Variant))
	t.log.Debug("notify: toast sent", "title", n.Title, "variant", n.Variant)
	return nil
}
