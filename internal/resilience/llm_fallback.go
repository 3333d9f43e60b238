package resilience

import (
	"context"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several completion
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	f := &LLMFallback{}
	f.group = NewFallbackGroup[llm.Provider](f.measure(primaryName, primary), primaryName, cfg)
	return f
}

// SetMetrics records per-backend request and error counts on m. Call before
// first use.
func (f *LLMFallback) SetMetrics(m *observe.Metrics) { f.metrics = m }

// AddFallback registers another backend. Call before first use.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, f.measure(name, p))
}

// Backends returns the backend names in try order.
func (f *LLMFallback) Backends() []string { return f.group.Names() }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

func (f *LLMFallback) measure(name string, p llm.Provider) llm.Provider {
	return &measured{name: name, next: p, owner: f}
}

// measured reports each call of one backend to the owner's metrics.
type measured struct {
	name  string
	next  llm.Provider
	owner *LLMFallback
}

func (m *measured) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := m.next.Complete(ctx, req)
	if met := m.owner.metrics; met != nil {
		status := observe.StatusOK
		if err != nil {
			status = observe.StatusError
			met.RecordProviderError(ctx, m.name, "llm")
		}
		met.RecordProviderRequest(ctx, m.name, "llm", status)
	}
	return resp, err
}
