// Package window groups the merged transcript stream into bounded evaluation
// windows.
//
// The buffer accumulates final transcripts and emits a [types.BufferedWindow]
// when either the window duration ceiling is reached or the speaker changes
// after enough content has accumulated. A configurable overlap of trailing
// transcripts is retained across window boundaries so each evaluation sees
// the tail of the previous one.
package window

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// Trigger identifies why a window was emitted.
type Trigger string

const (
	// TriggerTimeLimit means the window duration ceiling was reached.
	TriggerTimeLimit Trigger = "time_limit"

	// TriggerSpeakerTurn means the speaker changed after the minimum content
	// floor.
	TriggerSpeakerTurn Trigger = "speaker_turn"

	// TriggerFlush means the caller forced emission at shutdown.
	TriggerFlush Trigger = "flush"
)

// speakerTurnFloor is the minimum accumulated duration before a speaker
// change may trigger a window. A bare turn after a few words is not worth an
// evaluation call.
const speakerTurnFloor = 5 * time.Second

// Config holds tuning knobs for a [Buffer].
type Config struct {
	// WindowSize is the duration ceiling that forces a window out regardless
	// of speaker turns. Default: 20s.
	WindowSize time.Duration

	// Overlap is how much trailing context is retained across window
	// boundaries. Default: 10s.
	Overlap time.Duration

	// MinTranscripts is the floor below which no window is ever emitted.
	// Default: 2.
	MinTranscripts int

	// StaleGap bounds the silence between consecutive transcripts. When a
	// new transcript arrives more than StaleGap after the previous one, the
	// buffered remainder is discarded so an old fragment cannot anchor the
	// window start indefinitely. Zero defaults to 2×WindowSize; negative
	// disables the check.
	StaleGap time.Duration
}

// Buffer implements sliding-window transcript accumulation with hybrid
// triggering. Safe for concurrent use, though in practice a single consumer
// of the merged stream feeds it.
type Buffer struct {
	windowSize     time.Duration
	overlap        time.Duration
	minTranscripts int
	staleGap       time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	buf         []types.Transcript
	windowStart time.Time
	lastSpeaker types.SpeakerLabel
	hasSpeaker  bool
}

// New creates a [Buffer] with the supplied configuration. Zero-value config
// fields are replaced with defaults.
func New(cfg Config) *Buffer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20 * time.Second
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 10 * time.Second
	}
	if cfg.MinTranscripts <= 0 {
		cfg.MinTranscripts = 2
	}
	if cfg.StaleGap == 0 {
		cfg.StaleGap = 2 * cfg.WindowSize
	}
	return &Buffer{
		windowSize:     cfg.WindowSize,
		overlap:        cfg.Overlap,
		minTranscripts: cfg.MinTranscripts,
		staleGap:       cfg.StaleGap,
		logger:         slog.Default().With("component", "window_buffer"),
	}
}

// Add appends a final transcript and reports whether a window should be
// evaluated. Non-final transcripts are rejected with a log line and no state
// change. The returned Trigger is valid only when ok is true.
func (b *Buffer) Add(t types.Transcript) (types.BufferedWindow, Trigger, bool) {
	if !t.IsFinal {
		b.logger.Warn("ignoring non-final transcript", "speaker", t.Speaker)
		return types.BufferedWindow{}, "", false
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Discard a stale remainder rather than letting an old fragment anchor
	// the window start.
	if b.staleGap > 0 && len(b.buf) > 0 {
		if gap := t.ObservedAt.Sub(b.buf[len(b.buf)-1].ObservedAt); gap > b.staleGap {
			b.logger.Info("discarding stale buffer",
				"gap", gap,
				"discarded", len(b.buf))
			b.buf = nil
			b.hasSpeaker = false
		}
	}

	if len(b.buf) == 0 {
		b.windowStart = t.ObservedAt
	}
	b.buf = append(b.buf, t)

	speakerChanged := b.hasSpeaker && b.lastSpeaker != t.Speaker
	b.lastSpeaker = t.Speaker
	b.hasSpeaker = true

	if len(b.buf) < b.minTranscripts {
		return types.BufferedWindow{}, "", false
	}

	elapsed := t.ObservedAt.Sub(b.windowStart)
	switch {
	case elapsed >= b.windowSize:
		return b.emit(TriggerTimeLimit), TriggerTimeLimit, true
	case speakerChanged && elapsed >= speakerTurnFloor:
		return b.emit(TriggerSpeakerTurn), TriggerSpeakerTurn, true
	}
	return types.BufferedWindow{}, "", false
}

// Flush force-emits the buffered remainder, ignoring the time and turn
// triggers, provided the minimum-count floor is met. Used once at shutdown so
// a trailing partial window is not lost.
func (b *Buffer) Flush() (types.BufferedWindow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) < b.minTranscripts {
		return types.BufferedWindow{}, false
	}
	b.logger.Info("flushing buffer", "transcripts", len(b.buf))
	return b.emit(TriggerFlush), true
}

// Len returns the number of buffered transcripts.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// emit builds a window from the current buffer and retains the overlap for
// the next one. Must be called with b.mu held and a non-empty buffer.
func (b *Buffer) emit(trigger Trigger) types.BufferedWindow {
	turns := 0
	for i := 1; i < len(b.buf); i++ {
		if b.buf[i].Speaker != b.buf[i-1].Speaker {
			turns++
		}
	}

	w := types.BufferedWindow{
		Transcripts:  append([]types.Transcript(nil), b.buf...),
		WindowStart:  b.windowStart,
		WindowEnd:    b.buf[len(b.buf)-1].ObservedAt,
		SpeakerTurns: turns,
	}

	b.logger.Info("created window",
		"transcripts", w.Len(),
		"duration", w.Duration(),
		"speaker_turns", turns,
		"trigger", trigger)

	b.retainOverlap()
	return w
}

// retainOverlap keeps only transcripts within the overlap of the last one
// and resets the window start accordingly. Must be called with b.mu held.
func (b *Buffer) retainOverlap() {
	cutoff := b.buf[len(b.buf)-1].ObservedAt.Add(-b.overlap)

	kept := b.buf[:0:0]
	for _, t := range b.buf {
		if !t.ObservedAt.Before(cutoff) {
			kept = append(kept, t)
		}
	}

	b.logger.Debug("retained overlap",
		"kept", len(kept),
		"total", len(b.buf))

	b.buf = kept
	if len(b.buf) > 0 {
		b.windowStart = b.buf[0].ObservedAt
	} else {
		b.windowStart = time.Time{}
		b.hasSpeaker = false
	}
}
