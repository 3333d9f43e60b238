// Package config provides the process configuration schema, loader, and
// provider registry for parley.
//
// Configuration is read from a YAML file and then overridden from the
// environment, so deployments can keep secrets out of the file.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BusBackend selects the message bus implementation.
type BusBackend string

const (
	BusKafka BusBackend = "kafka"
	BusRedis BusBackend = "redis"
)

// IsValid reports whether b is a recognised bus backend.
func (b BusBackend) IsValid() bool {
	return b == BusKafka || b == BusRedis
}

// Config is the root configuration structure for parley.
// It is typically loaded with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Room      RoomConfig      `yaml:"room"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Bus       BusConfig       `yaml:"bus"`
	Summary   SummaryConfig   `yaml:"summary"`
	Agent     AgentConfig     `yaml:"agent"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the ops server (/healthz, /readyz,
	// /metrics). Empty disables it.
	ListenAddr string `yaml:"listen_addr" env:"PARLEY_LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"PARLEY_LOG_LEVEL"`

	// TraceSampleRatio is the fraction of root traces sampled, in [0, 1].
	// Zero samples everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio" env:"PARLEY_TRACE_SAMPLE_RATIO"`
}

// RoomConfig holds the media server connection.
type RoomConfig struct {
	// URL is the LiveKit server URL (wss://...).
	URL string `yaml:"url" env:"LIVEKIT_URL"`

	// APIKey and APISecret authenticate against the LiveKit server, both for
	// joining the room and for egress control.
	APIKey    string `yaml:"api_key" env:"LIVEKIT_API_KEY"`
	APISecret string `yaml:"api_secret" env:"LIVEKIT_API_SECRET"`

	// Name is the room to join.
	Name string `yaml:"name" env:"LIVEKIT_ROOM"`

	// Identity and DisplayName of the agent participant.
	Identity    string `yaml:"identity" env:"PARLEY_IDENTITY"`
	DisplayName string `yaml:"display_name"`
}

// ProvidersConfig selects the model backends.
type ProvidersConfig struct {
	// Realtime is the streaming speech model.
	Realtime ProviderEntry `yaml:"realtime"`

	// LLM generates session summaries.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks" env:"-"`

	// OpenAISecret is the process-wide OpenAI key. It fills in the API key of
	// the realtime provider and of any openai LLM entry that has none.
	OpenAISecret string `yaml:"-" env:"OPENAI_API_SECRET"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig is the object-storage destination for recordings.
type StorageConfig struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Region    string `yaml:"region" env:"S3_REGION"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	Secret    string `yaml:"secret" env:"S3_SECRET"`

	// Endpoint is set for S3-compatible stores other than AWS.
	Endpoint string `yaml:"endpoint" env:"S3_ENDPOINT"`
}

// BusConfig configures the outbound message bus.
type BusConfig struct {
	// Backend is "kafka" (default) or "redis".
	Backend BusBackend `yaml:"backend" env:"BUS_BACKEND"`

	// Brokers are the Kafka seed brokers.
	Brokers []string `yaml:"brokers" env:"KAFKA_BOOTSTRAP_SERVERS" envSeparator:","`

	// ClientID identifies this producer to Kafka.
	ClientID string `yaml:"client_id" env:"KAFKA_CLIENT_ID"`

	// Topic and Key of the interaction event record.
	Topic string `yaml:"topic" env:"BUS_TOPIC"`
	Key   string `yaml:"key" env:"BUS_KEY"`

	// Timeout bounds delivery of one record.
	Timeout time.Duration `yaml:"timeout" env:"BUS_TIMEOUT"`

	// Redis stream settings, used when Backend is "redis".
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisMaxLen   int64  `yaml:"redis_max_len"`
}

// SummaryConfig tunes summary generation.
type SummaryConfig struct {
	// Timeout bounds one completion call. Default 60s.
	Timeout time.Duration `yaml:"timeout" env:"SUMMARY_TIMEOUT"`

	// MaxFailures consecutive failures open the circuit breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AgentConfig holds per-session settings of the agent.
type AgentConfig struct {
	// InstanceID identifies this service as the message owner of emitted
	// events.
	InstanceID string `yaml:"instance_id" env:"PARLEY_INSTANCE_ID"`

	// RecordingTimeout bounds each egress call. Default 30s.
	RecordingTimeout time.Duration `yaml:"recording_timeout"`

	// ToastTimeout bounds each pg.toast call. Default 5s.
	ToastTimeout time.Duration `yaml:"toast_timeout"`

	// ShutdownTimeout bounds session teardown. Default 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
