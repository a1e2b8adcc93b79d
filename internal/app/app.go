// Package app wires all crosstalk subsystems into a running engine.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the main processing loop, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTrackSource, WithPublisher, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/evaluate"
	"github.com/crosstalkhq/crosstalk/internal/events"
	"github.com/crosstalkhq/crosstalk/internal/observe"
	"github.com/crosstalkhq/crosstalk/internal/pipeline"
	"github.com/crosstalkhq/crosstalk/internal/resilience"
	"github.com/crosstalkhq/crosstalk/internal/window"
	"github.com/crosstalkhq/crosstalk/pkg/provider/llm"
	"github.com/crosstalkhq/crosstalk/pkg/provider/stt"
	"github.com/crosstalkhq/crosstalk/pkg/room"
	"github.com/crosstalkhq/crosstalk/pkg/room/livekit"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
}

// App owns all subsystem lifetimes and orchestrates the transcription and
// evaluation pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	source    room.TrackSource
	orch      *pipeline.Orchestrator
	buffer    *window.Buffer
	evaluator *evaluate.Evaluator
	publisher *events.Publisher
	metrics   *observe.Metrics

	logger *slog.Logger

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTrackSource injects a track source instead of creating a LiveKit
// client from config.
func WithTrackSource(s room.TrackSource) Option {
	return func(a *App) { a.source = s }
}

// WithPublisher injects an event publisher instead of creating one from
// config.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics injects a metrics set instead of using the default provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, fmt.Errorf("app: an STT provider is required")
	}
	if providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default().With("component", "app"),
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init track source: %w", err)
	}
	a.initPipeline()
	a.initEvaluation()
	a.initPublisher()

	return a, nil
}

// initSource creates the LiveKit track source unless one was injected.
func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}
	if a.cfg.LiveKit.URL == "" {
		return fmt.Errorf("livekit.url is required when no track source is injected")
	}
	src, err := livekit.New(livekit.Config{
		URL:       a.cfg.LiveKit.URL,
		APIKey:    a.cfg.LiveKit.APIKey,
		APISecret: a.cfg.LiveKit.APISecret,
		RoomName:  a.cfg.Room.Name,
		Identity:  a.cfg.LiveKit.Identity,
		TrackWait: a.cfg.LiveKit.TrackWait(),
	})
	if err != nil {
		return err
	}
	a.source = src
	return nil
}

// initPipeline builds the speaker labeler and the streaming orchestrator.
func (a *App) initPipeline() {
	roles := make(map[string]types.SpeakerLabel, len(a.cfg.Room.Roles))
	for identity, role := range a.cfg.Room.Roles {
		roles[identity] = types.SpeakerLabel(role)
	}

	labeler := pipeline.NewLabeler(pipeline.LabelerConfig{
		Roles:         roles,
		RecruiterHint: a.cfg.Room.RecruiterHint,
		CandidateHint: a.cfg.Room.CandidateHint,
	})

	a.orch = pipeline.NewOrchestrator(pipeline.Config{
		Source:          a.source,
		Provider:        a.providers.STT,
		Labeler:         labeler,
		Language:        a.cfg.Room.Language,
		MinParticipants: a.cfg.Room.MinParticipants,
		ParticipantWait: a.cfg.Room.ParticipantWait(),
		Stabilization:   a.cfg.Room.Stabilization(),
		Retry: resilience.RetryConfig{
			MaxRetries:    a.cfg.Resilience.MaxRetries,
			InitialDelay:  a.cfg.Resilience.InitialDelay(),
			BackoffFactor: a.cfg.Resilience.BackoffFactor,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: a.cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  a.cfg.Resilience.RecoveryTimeout(),
		},
		Monitor: resilience.HealthMonitorConfig{
			TimeoutThreshold: a.cfg.Resilience.TimeoutThreshold(),
		},
		Metrics: a.metrics,
	})
}

// initEvaluation builds the window buffer and the LLM evaluator.
func (a *App) initEvaluation() {
	a.buffer = window.New(window.Config{
		WindowSize:     a.cfg.Window.Size(),
		Overlap:        a.cfg.Window.Overlap(),
		MinTranscripts: a.cfg.Window.MinTranscripts,
		StaleGap:       a.cfg.Window.StaleGap(),
	})
	a.evaluator = evaluate.New(evaluate.Config{
		Provider:  a.providers.LLM,
		MaxTokens: a.cfg.Evaluator.MaxTokens,
		Metrics:   a.metrics,
	})
}

// initPublisher creates the Kafka publisher unless one was injected.
func (a *App) initPublisher() {
	if a.publisher == nil {
		a.publisher = events.New(events.Config{
			Brokers:          a.cfg.Kafka.Brokers,
			TopicWindows:     a.cfg.Kafka.TopicWindows,
			TopicEvaluations: a.cfg.Kafka.TopicEvaluations,
			Session:          a.cfg.Room.Name,
			Enabled:          a.cfg.Kafka.Enabled,
		})
	}
	a.closers = append(a.closers, a.publisher.Close)
}

// Run connects to the room, starts per-speaker streaming, and consumes the
// merged transcript stream until it closes or ctx is cancelled.
//
// Final transcripts feed the window buffer; each emitted window is published
// and evaluated. When the merged stream ends, the buffered remainder is
// flushed through a final evaluation so the tail of the conversation is
// never lost.
func (a *App) Run(ctx context.Context) error {
	if err := a.orch.Initialize(ctx); err != nil {
		return fmt.Errorf("app: initialize pipeline: %w", err)
	}

	a.logger.Info("engine running", "session", a.cfg.Room.Name)
	merged := a.orch.Run(ctx)

	for tr := range merged {
		if !tr.IsFinal {
			continue
		}
		win, trigger, ok := a.buffer.Add(tr)
		if !ok {
			continue
		}
		a.handleWindow(ctx, win, string(trigger))
	}

	// The stream is closed; publish and evaluate whatever remains. Shutdown
	// may already have cancelled ctx, so the flush gets its own deadline.
	if win, ok := a.buffer.Flush(); ok {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		a.handleWindow(flushCtx, win, string(window.TriggerFlush))
	}

	return ctx.Err()
}

// handleWindow publishes one emitted window and runs it through evaluation.
// Publish failures are logged and never block the pipeline.
func (a *App) handleWindow(ctx context.Context, win types.BufferedWindow, trigger string) {
	a.metrics.RecordWindow(ctx, trigger)

	if err := a.publisher.PublishWindow(ctx, win, trigger); err != nil {
		a.logger.Warn("publishing window event", "error", err)
	}

	result := a.evaluator.Evaluate(ctx, win)
	a.logger.Info("window evaluated",
		"trigger", trigger,
		"transcripts", len(win.Transcripts),
		"subject_relevance", result.SubjectRelevance,
		"interviewer_tone", result.InterviewerTone,
	)

	if err := a.publisher.PublishEvaluation(ctx, result); err != nil {
		a.logger.Warn("publishing evaluation event", "error", err)
	}
}

// Source exposes the track source for health checks.
func (a *App) Source() room.TrackSource {
	return a.source
}

// Breakers exposes the circuit breakers of all running speaker streams for
// readiness checks. Empty until the pipeline has initialized.
func (a *App) Breakers() []*resilience.CircuitBreaker {
	return a.orch.Breakers()
}

// Shutdown stops streaming, disconnects from the room, and tears down all
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if err := a.orch.Stop(ctx); err != nil {
			a.logger.Warn("stopping pipeline", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
