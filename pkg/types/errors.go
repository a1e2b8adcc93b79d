package types

import "errors"

// Error taxonomy for the streaming pipeline. Components wrap these sentinels
// with context via fmt.Errorf("…: %w", …) so that callers can classify
// failures with errors.Is regardless of where they originated.
var (
	// ErrConnection indicates a remote handshake or transport failure.
	ErrConnection = errors.New("connection failed")

	// ErrTranscription indicates a malformed or unexpected transcription
	// service response.
	ErrTranscription = errors.New("transcription failed")

	// ErrAudioStream indicates a local audio path failure.
	ErrAudioStream = errors.New("audio stream failed")

	// ErrTimeout indicates a bounded wait was exceeded (participant join,
	// audio track attach). Recoverable at the orchestrator boundary: the
	// affected speaker stops contributing, the session continues.
	ErrTimeout = errors.New("timed out")
)
