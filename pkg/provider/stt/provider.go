// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a realtime transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw PCM audio chunks and emits two streams of
// Result values, low-latency partials for responsiveness and authoritative
// finals for the transcript log.
//
// Implementations must be safe for concurrent use. One session is opened per
// speaker, so several sessions are typically live at once.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline always sends
	// 16000 Hz mono PCM.
	SampleRate int

	// Language is the language code for recognition (e.g., "en"). An empty
	// string uses the provider default.
	Language string

	// Tag identifies the session in provider logs (typically the speaker
	// role). It has no effect on recognition.
	Tag string
}

// Result is a single transcription result from an STT session. Both partial
// (interim) and committed (final) results use this type.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether the provider has committed to this result.
	// Partial results are superseded by later results for the same audio.
	IsFinal bool

	// StartMs and EndMs are utterance offsets in milliseconds relative to
	// session start, valid only when HasOffsets is true. Providers that do
	// not report timing leave HasOffsets false.
	StartMs    int
	EndMs      int
	HasOffsets bool
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and network connections inside the provider. All
// methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate agreed in
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim Result values. These
	// drive live display but must not enter the authoritative transcript.
	// The channel is closed when the session ends.
	Partials() <-chan Result

	// Finals returns a read-only channel of committed Result values. These
	// are the values the pipeline buffers and evaluates.
	// The channel is closed when the session ends.
	Finals() <-chan Result

	// Close terminates the session, flushes pending audio, and releases all
	// associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use with multiple sessions
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
