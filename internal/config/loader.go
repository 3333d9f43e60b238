package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"realtime": {"openai"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultIdentity   = "parley-agent"
	DefaultInstanceID = "parley"

	// minKafkaTimeout is the smallest record delivery timeout franz-go accepts.
	minKafkaTimeout = time.Second
)

// Load reads the YAML file at path, loads dotEnv (if it exists) into the
// process environment, applies environment overrides and defaults, and
// validates the result. An empty path skips the file; an empty dotEnv skips
// the .env step.
func Load(path, dotEnv string) (*Config, error) {
	if dotEnv != "" {
		if err := godotenv.Load(dotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %q: %w", dotEnv, err)
		}
	}

	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environ (a map of
// environment overrides; nil reads the process environment) and defaults,
// and validates the result. Useful in tests.
func LoadFromReader(r io.Reader, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables named in the struct
// tags. Unset variables leave the YAML value in place. environ replaces the
// process environment when non-nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	p := &cfg.Providers
	if p.OpenAISecret != "" {
		if p.Realtime.APIKey == "" {
			p.Realtime.APIKey = p.OpenAISecret
		}
		if p.LLM.Name == "openai" && p.LLM.APIKey == "" {
			p.LLM.APIKey = p.OpenAISecret
		}
		for i := range p.LLMFallbacks {
			if p.LLMFallbacks[i].Name == "openai" && p.LLMFallbacks[i].APIKey == "" {
				p.LLMFallbacks[i].APIKey = p.OpenAISecret
			}
		}
	}
	return nil
}

// ApplyDefaults fills in unset fields that have a sensible default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Room.Identity == "" {
		cfg.Room.Identity = DefaultIdentity
	}
	if cfg.Providers.Realtime.Name == "" {
		cfg.Providers.Realtime.Name = "openai"
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "openai"
		if cfg.Providers.LLM.APIKey == "" {
			cfg.Providers.LLM.APIKey = cfg.Providers.OpenAISecret
		}
	}
	if cfg.Providers.LLM.Name == "openai" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = "gpt-4o-mini"
	}
	if cfg.Bus.Backend == "" {
		cfg.Bus.Backend = BusKafka
	}
	if cfg.Bus.Backend == BusKafka && len(cfg.Bus.Brokers) == 0 {
		cfg.Bus.Brokers = []string{"localhost:9092"}
	}
	if cfg.Summary.Timeout <= 0 {
		cfg.Summary.Timeout = 60 * time.Second
	}
	if cfg.Agent.InstanceID == "" {
		cfg.Agent.InstanceID = DefaultInstanceID
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be within [0, 1]", r))
	}

	if cfg.Room.URL == "" {
		errs = append(errs, errors.New("room.url is required (or LIVEKIT_URL)"))
	}
	if cfg.Room.APIKey == "" || cfg.Room.APISecret == "" {
		errs = append(errs, errors.New("room.api_key and room.api_secret are required (or LIVEKIT_API_KEY, LIVEKIT_API_SECRET)"))
	}
	if cfg.Room.Name == "" {
		errs = append(errs, errors.New("room.name is required (or LIVEKIT_ROOM)"))
	}

	validateProviderName("realtime", cfg.Providers.Realtime.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.Realtime.APIKey == "" {
		errs = append(errs, errors.New("providers.realtime.api_key is required (or OPENAI_API_SECRET)"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	if cfg.Storage.Bucket == "" {
		slog.Warn("storage.bucket is empty; recordings will fail to upload")
	}

	if cfg.Bus.Backend != "" && !cfg.Bus.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("bus.backend %q is invalid; valid values: kafka, redis", cfg.Bus.Backend))
	}
	if cfg.Bus.Backend == BusRedis && cfg.Bus.RedisAddr == "" {
		errs = append(errs, errors.New("bus.redis_addr is required when bus.backend is redis"))
	}
	switch t := cfg.Bus.Timeout; {
	case t < 0:
		errs = append(errs, fmt.Errorf("bus.timeout %v must not be negative", t))
	case t > 0 && t < minKafkaTimeout && cfg.Bus.Backend != BusRedis:
		errs = append(errs, fmt.Errorf("bus.timeout %v is below the kafka minimum of %v", t, minKafkaTimeout))
	}
	if cfg.Summary.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("summary.max_failures %d must not be negative", cfg.Summary.MaxFailures))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
