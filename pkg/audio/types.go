package audio

import "time"

// AudioFrame is a single frame of raw audio flowing from a participant's
// track into the pipeline. Frames are the atomic unit of audio transport.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for WebRTC capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
