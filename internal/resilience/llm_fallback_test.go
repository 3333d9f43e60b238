package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	req := llm.CompletionRequest{
		SystemPrompt: "Summarize",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "A: hello\n"}},
	}

	t.Run("primary", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}}
		secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}
		fb := NewLLMFallback(primary, "openai", FallbackConfig{})
		fb.AddFallback("anthropic", secondary)

		resp, err := fb.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != "from primary" {
			t.Errorf("content = %q, want %q", resp.Content, "from primary")
		}
		if n := len(secondary.Calls()); n != 0 {
			t.Errorf("secondary called %d times, want 0", n)
		}
		calls := primary.Calls()
		if len(calls) != 1 || calls[0].Req.SystemPrompt != "Summarize" {
			t.Errorf("primary calls = %+v", calls)
		}
	})

	t.Run("failover", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteErr: errors.New("503")}
		secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}
		fb := NewLLMFallback(primary, "openai", FallbackConfig{})
		fb.AddFallback("anthropic", secondary)

		resp, err := fb.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != "from secondary" {
			t.Errorf("content = %q, want %q", resp.Content, "from secondary")
		}
	})

	t.Run("all fail", func(t *testing.T) {
		fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("503")}, "openai", FallbackConfig{})
		fb.AddFallback("anthropic", &llmmock.Provider{CompleteErr: errors.New("overloaded")})

		_, err := fb.Complete(context.Background(), req)
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}

func TestLLMFallback_Backends(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{}, "openai", FallbackConfig{})
	fb.AddFallback("gemini", &llmmock.Provider{})
	got := fb.Backends()
	if len(got) != 2 || got[0] != "openai" || got[1] != "gemini" {
		t.Fatalf("Backends() = %v", got)
	}
}

func TestLLMFallback_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("503")}, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}})
	fb.SetMetrics(met)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	requests := map[string]int64{}
	errs := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				name, _ := dp.Attributes.Value("provider")
				status, _ := dp.Attributes.Value("status")
				switch m.Name {
				case "parley.provider.requests":
					requests[name.AsString()+"/"+status.AsString()] += dp.Value
				case "parley.provider.errors":
					errs[name.AsString()] += dp.Value
				}
			}
		}
	}
	if requests["openai/error"] != 1 || requests["anthropic/ok"] != 1 {
		t.Errorf("requests = %v", requests)
	}
	if errs["openai"] != 1 || errs["anthropic"] != 0 {
		t.Errorf("errors = %v", errs)
	}
}
