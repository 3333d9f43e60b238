// Package summary turns the participant's accumulated transcript into an
// end-of-session summary with an LLM completion, and hands a successful
// summary to the event publisher.
//
// Summarise never fails from the caller's point of view: any error yields
// [FallbackText] and nothing is published.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/event"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// FallbackText is returned in place of a summary whenever generation fails.
const FallbackText = "An error occurred while generating the summary."

const defaultTimeout = 60 * time.Second

// ErrEmptySummary is reported when the backend answered with no text.
var ErrEmptySummary = errors.New("summary: completion returned no text")

// Value is one transcribed utterance.
type Value struct {
	FirstReceivedTime int64  `json:"firstReceivedTime"`
	Text              string `json:"text"`
}

// Transcription pairs a speaker key with an utterance.
type Transcription struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Request is the pg.getSummary payload.
type Request struct {
	SummaryInstruction  string          `json:"summaryInstruction"`
	TranscriptionsArray []Transcription `json:"transcriptionsArray"`

	// Token is the session's JWT, used to resolve the event owner. It is set
	// by the caller, never decoded from the payload.
	Token string `json:"-"`
}

// DecodeRequest parses a pg.getSummary payload.
func DecodeRequest(payload string) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return Request{}, fmt.Errorf("summary: decode request: %w", err)
	}
	return req, nil
}

// Transcript renders the items as "key: text" lines, each newline-terminated.
func Transcript(items []Transcription) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.Key)
		b.WriteString(": ")
		b.WriteString(it.Value.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Prompt is the user message sent to the backend: the instruction, a blank
// line, then the transcript.
func Prompt(req Request) string {
	return req.SummaryInstruction + "\n\n" + Transcript(req.TranscriptionsArray)
}

// Publisher receives every successful summary.
type Publisher interface {
	Publish(ctx context.Context, in event.Interaction)
}

// Pipeline generates summaries.
type Pipeline struct {
	provider  llm.Provider
	publisher Publisher
	breaker   *resilience.CircuitBreaker
	timeout   time.Duration
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option is a functional option for Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds each completion call. Default 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.breaker = cb }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline completing with provider and publishing to publisher.
func New(provider llm.Provider, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider:  provider,
		publisher: publisher,
		timeout:   defaultTimeout,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.breaker == nil {
		p.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "summary",
			Logger: p.log,
		})
	}
	return p
}

// Summarise returns the summary for req, or [FallbackText] on any failure.
// On success the interaction event is published before returning.
func (p *Pipeline) Summarise(ctx context.Context, req Request) string {
	ctx, span := observe.StartSpan(ctx, "summary.generate")
	text, err := p.generate(ctx, req)
	observe.EndSpan(span, err)
	if err != nil {
		p.log.Error("summary: generation failed", "err", err, "items", len(req.TranscriptionsArray))
		return FallbackText
	}

	p.publisher.Publish(ctx, event.Interaction{
		Transcript: Transcript(req.TranscriptionsArray),
		Summary:    text,
		Token:      req.Token,
	})
	return text
}

func (p *Pipeline) generate(ctx context.Context, req Request) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var text string
	err := p.breaker.Execute(func() error {
		resp, err := p.provider.Complete(cctx, llm.CompletionRequest{
			SystemPrompt: req.SummaryInstruction,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: Prompt(req)}},
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(resp.Content) == "" {
			return ErrEmptySummary
		}
		text = resp.Content
		return nil
	})
	p.metrics.RecordCompletion(ctx, observe.Status(err), time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("summary: complete: %w", err)
	}
	p.log.Debug("summary: generated", "chars", len(text), "elapsed", time.Since(start))
	return text, nil
}
