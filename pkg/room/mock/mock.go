// Package mock provides a test double for the room package interfaces.
//
// Use Source to script a set of participants and feed controlled audio frames
// through per-participant channels, then inspect which streams were opened.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/crosstalkhq/crosstalk/pkg/audio"
	"github.com/crosstalkhq/crosstalk/pkg/room"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// AudioStreamCall records a single invocation of Source.AudioStream.
type AudioStreamCall struct {
	// Identity is the participant identity passed to AudioStream.
	Identity string
}

// Source is a mock implementation of room.TrackSource.
//
// Callers pre-populate ParticipantList and Streams before handing the mock to
// the code under test. Streams maps identity to the channel AudioStream
// returns; the caller owns those channels and closes them to end a stream.
type Source struct {
	mu sync.Mutex

	// ParticipantList is the snapshot returned by Participants.
	ParticipantList map[string]types.ParticipantInfo

	// Streams maps participant identity to the frame channel AudioStream
	// returns for that identity.
	Streams map[string]chan audio.AudioFrame

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// AudioStreamErr, if non-nil, is returned by every AudioStream call.
	AudioStreamErr error

	// DisconnectErr, if non-nil, is returned by Disconnect.
	DisconnectErr error

	// --- Call records ---

	// ConnectCallCount is the number of times Connect was called.
	ConnectCallCount int

	// AudioStreamCalls records every call to AudioStream in order.
	AudioStreamCalls []AudioStreamCall

	// DisconnectCallCount is the number of times Disconnect was called.
	DisconnectCallCount int

	connected bool
}

// Connect records the call and returns ConnectErr.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCallCount++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

// Participants returns a copy of ParticipantList.
func (s *Source) Participants() map[string]types.ParticipantInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.ParticipantInfo, len(s.ParticipantList))
	for k, v := range s.ParticipantList {
		out[k] = v
	}
	return out
}

// AudioStream records the call and returns the scripted channel for identity.
// Unknown identities return an error, matching the real contract.
func (s *Source) AudioStream(ctx context.Context, identity string) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioStreamCalls = append(s.AudioStreamCalls, AudioStreamCall{Identity: identity})
	if s.AudioStreamErr != nil {
		return nil, s.AudioStreamErr
	}
	ch, ok := s.Streams[identity]
	if !ok {
		return nil, fmt.Errorf("mock: no stream scripted for participant %q", identity)
	}
	return ch, nil
}

// Connected reports the state set by Connect and Disconnect.
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect records the call and returns DisconnectErr.
func (s *Source) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisconnectCallCount++
	if s.DisconnectErr != nil {
		return s.DisconnectErr
	}
	s.connected = false
	return nil
}

// SetParticipant adds or replaces a participant entry. Thread-safe, usable
// while the code under test is polling Participants.
func (s *Source) SetParticipant(info types.ParticipantInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ParticipantList == nil {
		s.ParticipantList = make(map[string]types.ParticipantInfo)
	}
	s.ParticipantList[info.Identity] = info
}

// Reset clears all recorded calls. Thread-safe.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCallCount = 0
	s.AudioStreamCalls = nil
	s.DisconnectCallCount = 0
}

// Ensure Source implements room.TrackSource at compile time.
var _ room.TrackSource = (*Source)(nil)
