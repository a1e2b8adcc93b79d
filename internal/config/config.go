// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the crosstalk engine.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the crosstalk server.
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

// Slog maps l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for crosstalk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LiveKit    LiveKitConfig    `yaml:"livekit"`
	Room       RoomConfig       `yaml:"room"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Window     WindowConfig     `yaml:"window"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics and /healthz
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveKitConfig holds the realtime room server connection settings.
type LiveKitConfig struct {
	// URL is the LiveKit server websocket URL (wss://...). Empty disables
	// the LiveKit source; a track source must then be injected.
	URL string `yaml:"url"`

	// APIKey and APISecret authenticate the worker participant.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Identity is the worker's own participant identity in the room.
	Identity string `yaml:"identity"`

	// TrackWaitSeconds bounds the wait for a participant's audio track to
	// attach. Default: 30.
	TrackWaitSeconds int `yaml:"track_wait_seconds"`
}

// TrackWait returns the track wait as a duration, 0 when unset.
func (l LiveKitConfig) TrackWait() time.Duration {
	return time.Duration(l.TrackWaitSeconds) * time.Second
}

// RoomConfig describes the conversation room and participant handling.
type RoomConfig struct {
	// Name identifies the session; it keys all published events.
	Name string `yaml:"name"`

	// Language is the recognition language code passed to the STT provider.
	Language string `yaml:"language"`

	// MinParticipants is how many conversation participants must join
	// before streaming starts. Default: 2.
	MinParticipants int `yaml:"min_participants"`

	// ParticipantWaitSeconds bounds the wait for participants to join.
	// Default: 60.
	ParticipantWaitSeconds int `yaml:"participant_wait_seconds"`

	// StabilizationSeconds is the settle delay after enough participants
	// are present. Default: 5.
	StabilizationSeconds int `yaml:"stabilization_seconds"`

	// Roles maps participant identities to speaker roles ("recruiter" or
	// "candidate"). Identities not listed fall back to substring matching
	// and role balancing.
	Roles map[string]string `yaml:"roles"`

	// RecruiterHint and CandidateHint are the identity substrings used when
	// Roles has no entry for a participant.
	RecruiterHint string `yaml:"recruiter_hint"`
	CandidateHint string `yaml:"candidate_hint"`
}

// ParticipantWait returns the join wait as a duration, 0 when unset.
func (r RoomConfig) ParticipantWait() time.Duration {
	return time.Duration(r.ParticipantWaitSeconds) * time.Second
}

// Stabilization returns the settle delay as a duration, 0 when unset.
func (r RoomConfig) Stabilization() time.Duration {
	return time.Duration(r.StabilizationSeconds) * time.Second
}

// ProvidersConfig declares which provider implementation to use for each
// external service. Each Name selects a factory registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "elevenlabs", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "scribe_v2_realtime", "claude-sonnet-4-5").
	Model string `yaml:"model"`
}

// WindowConfig tunes the transcript window buffer.
type WindowConfig struct {
	// SizeSeconds is the time-limit trigger threshold. Default: 20.
	SizeSeconds int `yaml:"size_seconds"`

	// OverlapSeconds is how much trailing context carries into the next
	// window. Default: 10.
	OverlapSeconds int `yaml:"overlap_seconds"`

	// MinTranscripts is the floor below which no window is emitted.
	// Default: 2.
	MinTranscripts int `yaml:"min_transcripts"`

	// StaleGapSeconds discards the buffer when the gap between consecutive
	// transcripts exceeds it. Zero defaults to twice the window size;
	// negative disables the check.
	StaleGapSeconds int `yaml:"stale_gap_seconds"`
}

// Size returns the window size as a duration, 0 when unset.
func (w WindowConfig) Size() time.Duration {
	return time.Duration(w.SizeSeconds) * time.Second
}

// Overlap returns the overlap as a duration, 0 when unset.
func (w WindowConfig) Overlap() time.Duration {
	return time.Duration(w.OverlapSeconds) * time.Second
}

// StaleGap returns the stale gap as a duration, preserving the sign
// convention of StaleGapSeconds.
func (w WindowConfig) StaleGap() time.Duration {
	return time.Duration(w.StaleGapSeconds) * time.Second
}

// EvaluatorConfig tunes the LLM evaluation stage.
type EvaluatorConfig struct {
	// MaxTokens caps the completion size of one evaluation. Default: 1024.
	MaxTokens int `yaml:"max_tokens"`
}

// ResilienceConfig tunes retry, circuit breaker, and health monitoring for
// the STT connection path.
type ResilienceConfig struct {
	// MaxRetries is the retry budget for session establishment. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelayMs is the first retry delay in milliseconds. Default: 1000.
	InitialDelayMs int `yaml:"initial_delay_ms"`

	// BackoffFactor multiplies the delay after each retry. Default: 2.0.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// FailureThreshold opens the circuit breaker after this many consecutive
	// failures. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeoutSeconds is how long an open breaker waits before
	// allowing a probe. Default: 60.
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`

	// TimeoutThresholdSeconds is the silence gap after which a connection is
	// considered lost. Default: 30.
	TimeoutThresholdSeconds int `yaml:"timeout_threshold_seconds"`
}

// InitialDelay returns the first retry delay as a duration, 0 when unset.
func (r ResilienceConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// RecoveryTimeout returns the breaker recovery timeout as a duration.
func (r ResilienceConfig) RecoveryTimeout() time.Duration {
	return time.Duration(r.RecoveryTimeoutSeconds) * time.Second
}

// TimeoutThreshold returns the health monitor threshold as a duration.
func (r ResilienceConfig) TimeoutThreshold() time.Duration {
	return time.Duration(r.TimeoutThresholdSeconds) * time.Second
}

// KafkaConfig controls event publishing.
type KafkaConfig struct {
	// Enabled toggles real publishing. False means log-only mode.
	Enabled bool `yaml:"enabled"`

	// Brokers is the Kafka bootstrap address list.
	Brokers []string `yaml:"brokers"`

	// TopicWindows receives emitted window events.
	TopicWindows string `yaml:"topic_windows"`

	// TopicEvaluations receives evaluation result events.
	TopicEvaluations string `yaml:"topic_evaluations"`
}
