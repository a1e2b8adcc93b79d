package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"elevenlabs"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation, warn only so third-party names still load.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; windows will be buffered but never evaluated")
	}

	// LiveKit
	if cfg.LiveKit.URL != "" {
		if cfg.LiveKit.APIKey == "" {
			errs = append(errs, errors.New("livekit.api_key is required when livekit.url is set"))
		}
		if cfg.LiveKit.APISecret == "" {
			errs = append(errs, errors.New("livekit.api_secret is required when livekit.url is set"))
		}
	}
	if cfg.LiveKit.TrackWaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("livekit.track_wait_seconds %d must not be negative", cfg.LiveKit.TrackWaitSeconds))
	}

	// Room
	if cfg.Room.MinParticipants < 0 {
		errs = append(errs, fmt.Errorf("room.min_participants %d must not be negative", cfg.Room.MinParticipants))
	}
	if cfg.Room.ParticipantWaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("room.participant_wait_seconds %d must not be negative", cfg.Room.ParticipantWaitSeconds))
	}
	for identity, role := range cfg.Room.Roles {
		switch types.SpeakerLabel(role) {
		case types.LabelRecruiter, types.LabelCandidate:
		default:
			errs = append(errs, fmt.Errorf("room.roles[%q] = %q is invalid; valid values: recruiter, candidate", identity, role))
		}
	}

	// Window
	if cfg.Window.SizeSeconds < 0 {
		errs = append(errs, fmt.Errorf("window.size_seconds %d must not be negative", cfg.Window.SizeSeconds))
	}
	if cfg.Window.OverlapSeconds < 0 {
		errs = append(errs, fmt.Errorf("window.overlap_seconds %d must not be negative", cfg.Window.OverlapSeconds))
	}
	if cfg.Window.SizeSeconds > 0 && cfg.Window.OverlapSeconds >= cfg.Window.SizeSeconds {
		errs = append(errs, fmt.Errorf("window.overlap_seconds %d must be smaller than window.size_seconds %d", cfg.Window.OverlapSeconds, cfg.Window.SizeSeconds))
	}
	if cfg.Window.MinTranscripts < 0 {
		errs = append(errs, fmt.Errorf("window.min_transcripts %d must not be negative", cfg.Window.MinTranscripts))
	}

	// Evaluator
	if cfg.Evaluator.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("evaluator.max_tokens %d must not be negative", cfg.Evaluator.MaxTokens))
	}

	// Resilience
	if cfg.Resilience.BackoffFactor != 0 && cfg.Resilience.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("resilience.backoff_factor %.2f must be at least 1", cfg.Resilience.BackoffFactor))
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka.enabled is true"))
		}
		if cfg.Kafka.TopicWindows == "" {
			errs = append(errs, errors.New("kafka.topic_windows is required when kafka.enabled is true"))
		}
		if cfg.Kafka.TopicEvaluations == "" {
			errs = append(errs, errors.New("kafka.topic_evaluations is required when kafka.enabled is true"))
		}
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
