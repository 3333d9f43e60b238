// Package sessionconfig parses and compares the per-session configuration a
// participant attaches to its metadata and sends with pg.updateConfig.
//
// A [Configuration] is a value: it is never mutated after [Parse] returns it,
// and a newer configuration supersedes an older one as a whole.
package sessionconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/realtime"
)

// ErrConfig is the base error for malformed session configuration.
var ErrConfig = errors.New("sessionconfig: invalid configuration")

// ErrMissingAPIKey is returned by Validate when no model API key was supplied.
// It matches ErrConfig under errors.Is.
var ErrMissingAPIKey = fmt.Errorf("%w: OpenAI API Key is required", ErrConfig)

// Defaults applied by Parse.
const (
	DefaultVoice           = "alloy"
	DefaultTemperature     = 0.8
	DefaultMaxOutputTokens = 2048
)

// Modality strings accepted in the "modalities" field.
const (
	ModalitiesTextAndAudio = "text_and_audio"
	ModalitiesTextOnly     = "text_only"
)

// TurnDetection holds server-VAD parameters.
type TurnDetection struct {
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// DefaultTurnDetection is used when the participant supplies none.
var DefaultTurnDetection = TurnDetection{Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 500}

// Sub-field defaults used when turn_detection is present but incomplete.
const (
	partialThreshold         = 0.5
	partialPrefixPaddingMs   = 200
	partialSilenceDurationMs = 300
)

// TokenLimit is a response token cap. [Unbounded] means no cap.
type TokenLimit int

// Unbounded is the "inf" token limit.
const Unbounded TokenLimit = TokenLimit(realtime.UnboundedTokens)

// MarshalJSON encodes Unbounded as "inf" and any other value as a number.
func (l TokenLimit) MarshalJSON() ([]byte, error) {
	if l == Unbounded {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(int(l))
}

// Configuration is one parsed session configuration.
type Configuration struct {
	Instructions    string              `json:"instructions"`
	Voice           string              `json:"voice"`
	Temperature     float64             `json:"temperature"`
	MaxOutputTokens TokenLimit          `json:"max_output_tokens"`
	Modalities      []realtime.Modality `json:"modalities"`
	TurnDetection   TurnDetection       `json:"turn_detection"`
	JWT             string              `json:"jwtToken"`

	// APIKey is never compared or serialised.
	APIKey string `json:"-"`
}

// rawConfig mirrors the metadata wire format. Numeric fields are raw because
// clients send both numbers and numeric strings.
type rawConfig struct {
	APIKey          string          `json:"openai_api_key"`
	Instructions    string          `json:"instructions"`
	Voice           string          `json:"voice"`
	Temperature     json.RawMessage `json:"temperature"`
	MaxOutputTokens json.RawMessage `json:"max_output_tokens"`
	Modalities      string          `json:"modalities"`
	TurnDetection   string          `json:"turn_detection"`
	JWT             string          `json:"jwtToken"`
}

type rawTurnDetection struct {
	Threshold         *float64 `json:"threshold"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms"`
	SilenceDurationMs *int     `json:"silence_duration_ms"`
}

// Parse decodes participant metadata or an updateConfig payload.
func Parse(raw []byte) (Configuration, error) {
	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return Configuration{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := Configuration{
		APIKey:       rc.APIKey,
		Instructions: rc.Instructions,
		Voice:        rc.Voice,
		JWT:          rc.JWT,
		Modalities:   parseModalities(rc.Modalities),
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	var err error
	if cfg.Temperature, err = parseTemperature(rc.Temperature); err != nil {
		return Configuration{}, err
	}
	if cfg.MaxOutputTokens, err = parseTokenLimit(rc.MaxOutputTokens); err != nil {
		return Configuration{}, err
	}
	if cfg.TurnDetection, err = parseTurnDetection(rc.TurnDetection); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func parseModalities(s string) []realtime.Modality {
	if s == ModalitiesTextOnly {
		return []realtime.Modality{realtime.ModalityText}
	}
	return []realtime.Modality{realtime.ModalityText, realtime.ModalityAudio}
}

// scalar returns the textual form of a JSON number or string, or "" for an
// absent or null value.
func scalar(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func parseTemperature(raw json.RawMessage) (float64, error) {
	s, err := scalar(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature: %v", ErrConfig, err)
	}
	if s == "" {
		return DefaultTemperature, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature %q: %v", ErrConfig, s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: temperature %q is not a finite number", ErrConfig, s)
	}
	return f, nil
}

func parseTokenLimit(raw json.RawMessage) (TokenLimit, error) {
	s, err := scalar(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: max_output_tokens: %v", ErrConfig, err)
	}
	switch s {
	case "inf":
		return Unbounded, nil
	case "", "0":
		return DefaultMaxOutputTokens, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: max_output_tokens %q: %v", ErrConfig, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: max_output_tokens %d is negative", ErrConfig, n)
	}
	return TokenLimit(n), nil
}

func parseTurnDetection(s string) (TurnDetection, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultTurnDetection, nil
	}
	var rt rawTurnDetection
	if err := json.Unmarshal([]byte(s), &rt); err != nil {
		return TurnDetection{}, fmt.Errorf("%w: turn_detection: %v", ErrConfig, err)
	}
	td := TurnDetection{
		Threshold:         partialThreshold,
		PrefixPaddingMs:   partialPrefixPaddingMs,
		SilenceDurationMs: partialSilenceDurationMs,
	}
	if rt.Threshold != nil {
		td.Threshold = *rt.Threshold
	}
	if rt.PrefixPaddingMs != nil {
		td.PrefixPaddingMs = *rt.PrefixPaddingMs
	}
	if rt.SilenceDurationMs != nil {
		td.SilenceDurationMs = *rt.SilenceDurationMs
	}
	return td, nil
}

// Validate checks the fields a session cannot start without.
func (c Configuration) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Equal reports whether c and other describe the same session, ignoring the
// API key.
func (c Configuration) Equal(other Configuration) bool {
	return c.Instructions == other.Instructions &&
		c.Voice == other.Voice &&
		c.Temperature == other.Temperature &&
		c.MaxOutputTokens == other.MaxOutputTokens &&
		slices.Equal(c.Modalities, other.Modalities) &&
		c.TurnDetection == other.TurnDetection &&
		c.JWT == other.JWT
}

// WantsGreeting reports whether the agent should speak first, which it does
// when both text and audio are enabled.
func (c Configuration) WantsGreeting() bool {
	return slices.Equal(c.Modalities, []realtime.Modality{realtime.ModalityText, realtime.ModalityAudio})
}

// Params converts c into realtime model parameters.
func (c Configuration) Params() realtime.SessionParams {
	return realtime.SessionParams{
		Instructions:    c.Instructions,
		Voice:           c.Voice,
		Temperature:     c.Temperature,
		MaxOutputTokens: int(c.MaxOutputTokens),
		Modalities:      slices.Clone(c.Modalities),
		TurnDetection: realtime.TurnDetection{
			Threshold:         c.TurnDetection.Threshold,
			PrefixPaddingMs:   c.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: c.TurnDetection.SilenceDurationMs,
		},
	}
}
