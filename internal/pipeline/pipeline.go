package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/observe"
	"github.com/crosstalkhq/crosstalk/internal/resilience"
	"github.com/crosstalkhq/crosstalk/pkg/provider/stt"
	"github.com/crosstalkhq/crosstalk/pkg/room"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// Config holds the collaborators and tuning knobs for an [Orchestrator].
type Config struct {
	// Source supplies participants and their audio streams.
	Source room.TrackSource

	// Provider is the streaming STT backend shared by all speakers.
	Provider stt.Provider

	// Labeler assigns speaker roles to participant identities. Nil uses a
	// default Labeler with no explicit role mapping.
	Labeler *Labeler

	// Language is the recognition language code passed to the provider.
	Language string

	// MinParticipants is how many conversation participants must be present
	// before streaming starts. Default: 2.
	MinParticipants int

	// ParticipantWait bounds how long Initialize waits for MinParticipants
	// to join. Default: 60s.
	ParticipantWait time.Duration

	// Stabilization is the settle delay after enough participants are seen,
	// giving late audio tracks a chance to attach. Default: 5s.
	Stabilization time.Duration

	// PollInterval is how often Initialize re-checks the participant list.
	// Default: 500ms.
	PollInterval time.Duration

	// Retry, Breaker, and Monitor are passed through to every speaker
	// stream manager. Zero values use the resilience defaults.
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	Monitor resilience.HealthMonitorConfig

	// Metrics receives instrumentation. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Orchestrator supervises one speaker stream manager per conversation
// participant and merges their transcript output into a single stream.
//
// Fault isolation is the core contract: a failure in one speaker's audio or
// transcription path is logged and ends that speaker's contribution, but
// never terminates the other speakers or the merged stream. The merged
// channel closes only when every speaker's stream has ended.
type Orchestrator struct {
	source   room.TrackSource
	provider stt.Provider
	labeler  *Labeler
	language string

	minParticipants int
	participantWait time.Duration
	stabilization   time.Duration
	pollInterval    time.Duration

	retryCfg   resilience.RetryConfig
	breakerCfg resilience.CircuitBreakerConfig
	monitorCfg resilience.HealthMonitorConfig

	metrics *observe.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	managers []*SpeakerStreamManager
}

// NewOrchestrator creates an [Orchestrator] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Labeler == nil {
		cfg.Labeler = NewLabeler(LabelerConfig{})
	}
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = 2
	}
	if cfg.ParticipantWait <= 0 {
		cfg.ParticipantWait = 60 * time.Second
	}
	if cfg.Stabilization <= 0 {
		cfg.Stabilization = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		source:          cfg.Source,
		provider:        cfg.Provider,
		labeler:         cfg.Labeler,
		language:        cfg.Language,
		minParticipants: cfg.MinParticipants,
		participantWait: cfg.ParticipantWait,
		stabilization:   cfg.Stabilization,
		pollInterval:    cfg.PollInterval,
		retryCfg:        cfg.Retry,
		breakerCfg:      cfg.Breaker,
		monitorCfg:      cfg.Monitor,
		metrics:         metrics,
		logger:          slog.Default().With("component", "orchestrator"),
	}
}

// Initialize connects to the room, waits for the conversation participants
// to join, and opens one STT session per participant.
//
// The wait is bounded by ParticipantWait. If no conversation participant is
// present at the deadline the error wraps types.ErrTimeout and the session
// cannot proceed. A single participant is accepted with a warning so a
// partially joined conversation still gets transcribed. Individual session
// failures are logged and skip that speaker; Initialize fails only when
// every session fails.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.source.Connect(ctx); err != nil {
		return fmt.Errorf("pipeline: connect track source: %w", err)
	}

	participants, err := o.awaitParticipants(ctx)
	if err != nil {
		return err
	}

	if len(participants) < o.minParticipants {
		o.logger.Warn("starting with fewer participants than expected",
			"got", len(participants),
			"want", o.minParticipants)
	}

	var started []*SpeakerStreamManager
	for _, p := range participants {
		if !p.HasAudioTrack {
			o.logger.Warn("participant has no audio track yet, stream will wait for it",
				"identity", p.Identity)
		}
		mgr := NewSpeakerStreamManager(SpeakerConfig{
			Identity: p.Identity,
			Label:    p.Label,
			Source:   o.source,
			Provider: o.provider,
			Language: o.language,
			Retry:    o.retryCfg,
			Breaker:  o.breakerCfg,
			Monitor:  o.monitorCfg,
			Metrics:  o.metrics,
		})
		if err := mgr.Start(ctx); err != nil {
			o.logger.Error("failed to start speaker stream, excluding speaker",
				"identity", p.Identity,
				"error", err)
			continue
		}
		started = append(started, mgr)
	}

	if len(started) == 0 {
		return fmt.Errorf("pipeline: no speaker stream could be started")
	}

	o.mu.Lock()
	o.managers = started
	o.mu.Unlock()

	o.logger.Info("pipeline initialized", "speakers", len(started))
	return nil
}

// awaitParticipants polls the track source until enough conversation
// participants are present or the wait deadline expires, then applies the
// stabilization delay and returns the labeled snapshot. Agent participants
// are excluded from the count and the result.
func (o *Orchestrator) awaitParticipants(ctx context.Context) ([]types.ParticipantInfo, error) {
	deadline := time.Now().Add(o.participantWait)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if len(o.conversationParticipants()) >= o.minParticipants {
			break
		}
		if time.Now().After(deadline) {
			o.logger.Warn("participant wait deadline reached",
				"present", len(o.conversationParticipants()))
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	// Settle delay so audio tracks published right after join are visible.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.stabilization):
	}

	participants := o.conversationParticipants()
	if len(participants) == 0 {
		return nil, fmt.Errorf("pipeline: no conversation participant joined within %s: %w",
			o.participantWait, types.ErrTimeout)
	}
	return participants, nil
}

// conversationParticipants returns the current non-agent participants with
// their resolved speaker labels.
func (o *Orchestrator) conversationParticipants() []types.ParticipantInfo {
	var out []types.ParticipantInfo
	for _, p := range o.source.Participants() {
		label := o.labeler.Label(p.Identity)
		if label == types.LabelAgent {
			continue
		}
		p.Label = label
		out = append(out, p)
	}
	return out
}

// Breakers returns the circuit breakers of all active speaker streams, for
// readiness checks. Empty before Initialize and after Stop.
func (o *Orchestrator) Breakers() []*resilience.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*resilience.CircuitBreaker, 0, len(o.managers))
	for _, mgr := range o.managers {
		out = append(out, mgr.Breaker())
	}
	return out
}

// Run starts audio streaming for every speaker and returns the merged
// transcript channel. The channel carries both partial and final transcripts
// in arrival order and is closed once every speaker's stream has ended.
//
// Speaker failures never propagate: an audio path error ends only that
// speaker's contribution. Call after Initialize.
func (o *Orchestrator) Run(ctx context.Context) <-chan types.Transcript {
	o.mu.Lock()
	managers := make([]*SpeakerStreamManager, len(o.managers))
	copy(managers, o.managers)
	o.mu.Unlock()

	out := make(chan types.Transcript, 64)

	var wg sync.WaitGroup
	for _, mgr := range managers {
		wg.Add(1)
		go func(mgr *SpeakerStreamManager) {
			defer wg.Done()
			o.runSpeaker(ctx, mgr, out)
		}(mgr)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// runSpeaker drives one speaker: the audio pump runs in the background while
// transcripts are forwarded into the merged channel. Returns when the
// speaker's transcript stream ends.
func (o *Orchestrator) runSpeaker(ctx context.Context, mgr *SpeakerStreamManager, out chan<- types.Transcript) {
	go func() {
		err := mgr.StreamAudio(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, types.ErrTimeout):
			o.logger.Warn("audio track never arrived, speaker will not contribute",
				"identity", mgr.Identity(),
				"error", err)
		default:
			o.logger.Error("audio streaming failed, speaker stopped contributing",
				"identity", mgr.Identity(),
				"error", err)
		}
		// Close the session so the transcript forwarders unblock once the
		// provider has flushed its remaining results.
		if err := mgr.Stop(); err != nil {
			o.logger.Warn("stopping speaker stream", "identity", mgr.Identity(), "error", err)
		}
	}()

	for tr := range mgr.Transcripts(ctx) {
		select {
		case <-ctx.Done():
			return
		case out <- tr:
		}
	}
}

// Stop shuts down all speaker streams and disconnects from the room.
// Individual shutdown failures are logged and do not abort the rest.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	managers := o.managers
	o.managers = nil
	o.mu.Unlock()

	for _, mgr := range managers {
		if err := mgr.Stop(); err != nil {
			o.logger.Warn("stopping speaker stream", "identity", mgr.Identity(), "error", err)
		}
	}

	if err := o.source.Disconnect(ctx); err != nil {
		return fmt.Errorf("pipeline: disconnect track source: %w", err)
	}
	o.logger.Info("pipeline stopped")
	return nil
}
