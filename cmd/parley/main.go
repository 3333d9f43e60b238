// Command parley is the voice agent: it joins a LiveKit room, serves the first
// participant with a realtime speech model and reports the conversation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/event"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/bus"
	"github.com/MrWong99/parley/pkg/bus/kafka"
	"github.com/MrWong99/parley/pkg/bus/redis"
	lkegress "github.com/MrWong99/parley/pkg/egress/livekit"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/realtime"
	oarealtime "github.com/MrWong99/parley/pkg/provider/realtime/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables suffice)")
	dotEnv := flag.String("env", ".env", "path to a .env file loaded before reading the environment")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath, *dotEnv)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"version", version,
		"room", cfg.Room.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"bus", cfg.Bus.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     cfg.Agent.InstanceID,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetricsHandler(tel.Handler))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Bus.Close(context.Background())
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// The remaining vendors go through any-llm-go. Local servers (ollama,
	// llamacpp, llamafile) only need BaseURL.
	for _, vendor := range anyllm.Supported() {
		if vendor == "openai" {
			continue
		}
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(vendor, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── Realtime ──────────────────────────────────────────────────────────────
	reg.RegisterRealtime("openai", func(entry config.ProviderEntry) (realtime.Provider, error) {
		var opts []oarealtime.Option
		if entry.Model != "" {
			opts = append(opts, oarealtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oarealtime.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, oarealtime.WithTranscriptionModel(m))
		}
		return oarealtime.New(entry.APIKey, opts...), nil
	})

	// ── Bus ───────────────────────────────────────────────────────────────────
	reg.RegisterBus(config.BusKafka, func(_ context.Context, cfg config.BusConfig) (bus.Producer, error) {
		opts := []kafka.Option{kafka.WithDefaultTopic(topicOrDefault(cfg.Topic))}
		if cfg.ClientID != "" {
			opts = append(opts, kafka.WithClientID(cfg.ClientID))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, kafka.WithDeliveryTimeout(cfg.Timeout))
		}
		p, err := kafka.New(cfg.Brokers, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterBus(config.BusRedis, func(ctx context.Context, cfg config.BusConfig) (bus.Producer, error) {
		p, err := redis.New(ctx, redis.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DefaultTopic: topicOrDefault(cfg.Topic),
			MaxLen:       cfg.RedisMaxLen,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// buildProviders instantiates every collaborator named in cfg.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	rt, err := reg.CreateRealtime(cfg.Providers.Realtime)
	if err != nil {
		return nil, fmt.Errorf("create realtime provider %q: %w", cfg.Providers.Realtime.Name, err)
	}
	slog.Info("provider created", "kind", "realtime", "name", cfg.Providers.Realtime.Name)

	summary, err := buildSummaryProvider(cfg, reg)
	if err != nil {
		return nil, err
	}

	producer, err := reg.CreateBus(ctx, cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("create %s bus: %w", cfg.Bus.Backend, err)
	}
	slog.Info("bus created", "backend", cfg.Bus.Backend)

	return &app.Providers{
		Realtime: rt,
		Summary:  summary,
		Bus:      producer,
		Egress:   lkegress.New(cfg.Room.URL, cfg.Room.APIKey, cfg.Room.APISecret),
	}, nil
}

// buildSummaryProvider creates the summary LLM. With fallbacks configured the
// primary and each fallback sit behind their own circuit breaker.
func buildSummaryProvider(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	if len(cfg.Providers.LLMFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Summary.MaxFailures,
			ResetTimeout: cfg.Summary.ResetTimeout,
		},
	})
	fb.SetMetrics(observe.DefaultMetrics())
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d (%q): %w", i, entry.Name, err)
		}
		fb.AddFallback(fmt.Sprintf("%s/%s", entry.Name, entry.Model), p)
	}
	slog.Info("llm fallback chain", "backends", fb.Backends())
	return fb, nil
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return event.DefaultTopic
	}
	return topic
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
