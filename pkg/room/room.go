// Package room defines the TrackSource interface for realtime audio rooms.
//
// A track source wraps a multi-party realtime transport (e.g., a LiveKit or
// WebRTC SFU client) and exposes per-participant audio streams. The pipeline
// only depends on this interface, so the transport SDK stays behind it and
// test code can substitute the mock subpackage.
//
// Implementations must be safe for concurrent use.
package room

import (
	"context"

	"github.com/crosstalkhq/crosstalk/pkg/audio"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// TrackSource is the abstraction over a realtime audio room.
//
// The lifecycle is Connect, then any number of Participants and AudioStream
// calls, then Disconnect. AudioStream may be called concurrently for
// different participants.
type TrackSource interface {
	// Connect joins the room and begins tracking participants. Calling Connect
	// on an already-connected source is a no-op.
	Connect(ctx context.Context) error

	// Participants returns a snapshot of the currently known participants,
	// keyed by identity. HasAudioTrack reports whether an audio track has been
	// subscribed for the participant yet. The Label field is left empty;
	// speaker role assignment is the caller's concern.
	Participants() map[string]types.ParticipantInfo

	// AudioStream returns a channel of raw audio frames for the named
	// participant. If the participant has no subscribed audio track yet, the
	// call blocks until one appears or the track wait deadline expires, in
	// which case it returns an error wrapping types.ErrTimeout. An unknown
	// identity is an immediate error.
	//
	// The channel is closed when the track ends, the participant leaves, or
	// ctx is cancelled.
	AudioStream(ctx context.Context, identity string) (<-chan audio.AudioFrame, error)

	// Connected reports whether the source currently holds a live room
	// connection.
	Connected() bool

	// Disconnect leaves the room and closes all open audio streams. Calling
	// Disconnect on a disconnected source is a no-op.
	Disconnect(ctx context.Context) error
}
