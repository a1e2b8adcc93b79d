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
	"github.com/crosstalkhq/crosstalk/pkg/audio"
	"github.com/crosstalkhq/crosstalk/pkg/provider/stt"
	"github.com/crosstalkhq/crosstalk/pkg/room"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// sttChunkMs is the audio chunk duration sent per SendAudio call. 200ms keeps
// the transcription service fed without flooding it with tiny writes.
const sttChunkMs = 200

// SpeakerConfig holds the collaborators and tuning knobs for a
// [SpeakerStreamManager].
type SpeakerConfig struct {
	// Identity is the raw participant identity in the room.
	Identity string

	// Label is the logical speaker role stamped onto every transcript.
	Label types.SpeakerLabel

	// Source supplies the participant's audio frames.
	Source room.TrackSource

	// Provider is the streaming STT backend.
	Provider stt.Provider

	// Language is the recognition language code passed to the provider.
	Language string

	// Retry configures session establishment retries. Zero value uses the
	// resilience defaults.
	Retry resilience.RetryConfig

	// Breaker configures the session-establishment circuit breaker. Zero
	// value uses the resilience defaults.
	Breaker resilience.CircuitBreakerConfig

	// Monitor configures the connection health monitor. Zero value uses the
	// resilience defaults.
	Monitor resilience.HealthMonitorConfig

	// Metrics receives instrumentation. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// SpeakerStreamManager owns the full audio path for one participant: it
// opens an STT session, pumps the participant's audio frames into it in
// fixed-size chunks, and republishes the session's transcription results as
// labeled [types.Transcript] values.
//
// Lifecycle: Start, then StreamAudio and Transcripts concurrently, then Stop.
// A manager is single-use; create a new one to reconnect a speaker.
type SpeakerStreamManager struct {
	identity string
	label    types.SpeakerLabel
	source   room.TrackSource
	provider stt.Provider
	language string

	retry   *resilience.RetryExecutor
	breaker *resilience.CircuitBreaker
	monitor *resilience.HealthMonitor
	metrics *observe.Metrics
	logger  *slog.Logger

	conv      *audio.FormatConverter
	chunkSize int

	mu      sync.Mutex
	session stt.SessionHandle

	stopOnce sync.Once
	stopErr  error
}

// NewSpeakerStreamManager creates a manager for one participant. The session
// is not opened until Start.
func NewSpeakerStreamManager(cfg SpeakerConfig) *SpeakerStreamManager {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "stt-" + cfg.Identity
	}
	if cfg.Monitor.Name == "" {
		cfg.Monitor.Name = "stt-" + cfg.Identity
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	breakerName := cfg.Breaker.Name
	if cfg.Breaker.OnOpen == nil {
		cfg.Breaker.OnOpen = func() {
			metrics.RecordBreakerOpen(context.Background(), breakerName)
		}
	}
	return &SpeakerStreamManager{
		identity:  cfg.Identity,
		label:     cfg.Label,
		source:    cfg.Source,
		provider:  cfg.Provider,
		language:  cfg.Language,
		retry:     resilience.NewRetryExecutor(cfg.Retry),
		breaker:   resilience.NewCircuitBreaker(cfg.Breaker),
		monitor:   resilience.NewHealthMonitor(cfg.Monitor),
		metrics:   metrics,
		logger:    slog.Default().With("component", "speaker", "identity", cfg.Identity, "label", cfg.Label),
		conv:      &audio.FormatConverter{Target: audio.STTFormat},
		chunkSize: audio.ChunkSize(sttChunkMs, audio.STTFormat),
	}
}

// Label returns the speaker role this manager stamps onto transcripts.
func (m *SpeakerStreamManager) Label() types.SpeakerLabel { return m.label }

// Identity returns the raw participant identity this manager serves.
func (m *SpeakerStreamManager) Identity() string { return m.identity }

// Breaker returns the session-establishment circuit breaker, for readiness
// checks.
func (m *SpeakerStreamManager) Breaker() *resilience.CircuitBreaker { return m.breaker }

// Start opens the STT session, retrying with backoff behind the circuit
// breaker, and begins connection health monitoring. Failures are wrapped
// with types.ErrConnection.
func (m *SpeakerStreamManager) Start(ctx context.Context) error {
	err := m.retry.Execute(ctx, func() error {
		return m.breaker.Execute(func() error {
			sess, err := m.provider.StartStream(ctx, stt.StreamConfig{
				SampleRate: audio.STTFormat.SampleRate,
				Language:   m.language,
				Tag:        string(m.label),
			})
			if err != nil {
				m.metrics.RecordProviderError(ctx, "stt", "start_stream")
				return err
			}
			m.mu.Lock()
			m.session = sess
			m.mu.Unlock()
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("pipeline: start stt session for %s: %w: %w", m.identity, types.ErrConnection, err)
	}

	m.monitor.Start(ctx, func(ctx context.Context) {
		m.metrics.RecordProviderError(ctx, "stt", "connection_lost")
		m.logger.Warn("stt connection considered lost, awaiting new audio")
	})

	m.metrics.ActiveSpeakers.Add(ctx, 1)
	m.logger.Info("speaker stream started")
	return nil
}

// StreamAudio subscribes to the participant's audio track and forwards it to
// the STT session in fixed-duration chunks until the track ends or ctx is
// cancelled. Frames that fail format conversion are dropped with a log entry
// rather than terminating the stream. A trailing partial chunk is flushed on
// stream end.
func (m *SpeakerStreamManager) StreamAudio(ctx context.Context) error {
	frames, err := m.source.AudioStream(ctx, m.identity)
	if err != nil {
		return fmt.Errorf("pipeline: audio stream for %s: %w", m.identity, err)
	}

	sess := m.currentSession()
	if sess == nil {
		return fmt.Errorf("pipeline: audio stream for %s: session not started", m.identity)
	}

	buf := make([]byte, 0, m.chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				if len(buf) > 0 {
					if err := m.sendChunk(ctx, sess, buf); err != nil {
						return err
					}
				}
				m.logger.Info("audio track ended")
				return nil
			}

			converted, err := m.conv.Convert(frame)
			if err != nil {
				m.logger.Warn("dropping unconvertible audio frame",
					"sample_rate", frame.SampleRate,
					"channels", frame.Channels,
					"error", err)
				continue
			}

			buf = append(buf, converted.Data...)
			for len(buf) >= m.chunkSize {
				if err := m.sendChunk(ctx, sess, buf[:m.chunkSize]); err != nil {
					return err
				}
				buf = buf[:copy(buf, buf[m.chunkSize:])]
			}
		}
	}
}

// sendChunk delivers one chunk of PCM to the session and records activity.
func (m *SpeakerStreamManager) sendChunk(ctx context.Context, sess stt.SessionHandle, chunk []byte) error {
	start := time.Now()
	if err := sess.SendAudio(chunk); err != nil {
		m.metrics.RecordProviderError(ctx, "stt", "send_audio")
		return fmt.Errorf("pipeline: send audio for %s: %w: %w", m.identity, types.ErrAudioStream, err)
	}
	m.metrics.STTSendDuration.Record(ctx, time.Since(start).Seconds())
	m.metrics.RecordAudioBytes(ctx, string(m.label), len(chunk))
	m.monitor.RecordActivity()
	return nil
}

// Transcripts returns a channel of labeled transcripts merged from the STT
// session's partial and final result streams. The channel is closed when
// both session streams close or ctx is cancelled. Call after Start.
func (m *SpeakerStreamManager) Transcripts(ctx context.Context) <-chan types.Transcript {
	out := make(chan types.Transcript, 32)

	sess := m.currentSession()
	if sess == nil {
		close(out)
		return out
	}

	var wg sync.WaitGroup
	forward := func(results <-chan stt.Result) {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-results:
				if !ok {
					return
				}
				t := types.Transcript{
					Text:       res.Text,
					Speaker:    m.label,
					StartMs:    res.StartMs,
					EndMs:      res.EndMs,
					HasOffsets: res.HasOffsets,
					IsFinal:    res.IsFinal,
					ObservedAt: time.Now(),
				}
				m.monitor.RecordActivity()
				m.metrics.RecordTranscript(ctx, string(m.label), res.IsFinal)
				select {
				case <-ctx.Done():
					return
				case out <- t:
				}
			}
		}
	}

	wg.Add(2)
	go forward(sess.Partials())
	go forward(sess.Finals())
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Stop halts health monitoring and closes the STT session. Safe to call more
// than once; later calls return the first result.
func (m *SpeakerStreamManager) Stop() error {
	m.stopOnce.Do(func() {
		m.monitor.Stop()
		if sess := m.currentSession(); sess != nil {
			if err := sess.Close(); err != nil && !errors.Is(err, context.Canceled) {
				m.stopErr = fmt.Errorf("pipeline: close stt session for %s: %w", m.identity, err)
			}
			m.metrics.ActiveSpeakers.Add(context.Background(), -1)
		}
		m.logger.Info("speaker stream stopped")
	})
	return m.stopErr
}

func (m *SpeakerStreamManager) currentSession() stt.SessionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
