// Package livekit implements room.TrackSource on top of a LiveKit room.
//
// The source joins the room as a hidden worker participant, subscribes to
// every remote audio track, decodes the Opus RTP stream to 48kHz mono PCM,
// and exposes it as audio.AudioFrame channels. Downstream format conversion
// (to 16kHz for transcription) is the consumer's concern.
package livekit

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/crosstalkhq/crosstalk/pkg/audio"
	"github.com/crosstalkhq/crosstalk/pkg/room"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

const (
	// decodeSampleRate is the PCM rate Opus tracks are decoded at.
	decodeSampleRate = 48000

	// maxOpusFrameSamples is the largest Opus frame (120ms at 48kHz mono).
	maxOpusFrameSamples = 5760

	// defaultTrackWait bounds how long AudioStream waits for a participant's
	// audio track to be published and subscribed.
	defaultTrackWait = 30 * time.Second
)

// Config holds LiveKit connection settings.
type Config struct {
	// URL is the LiveKit server websocket URL (wss://...).
	URL string

	// APIKey and APISecret authenticate the worker against the server.
	APIKey    string
	APISecret string

	// RoomName is the room to join.
	RoomName string

	// Identity is the worker's own participant identity. Default:
	// "audio-agent-crosstalk", which downstream labeling treats as a bot.
	Identity string

	// TrackWait bounds how long AudioStream waits for an audio track.
	// Default: 30s.
	TrackWait time.Duration
}

// participantState tracks one remote participant and their audio track.
type participantState struct {
	identity string

	mu    sync.Mutex
	track *webrtc.TrackRemote

	// ready is closed once an audio track is subscribed.
	ready chan struct{}

	// gone is closed when the participant leaves or the track is
	// unsubscribed; open streams terminate on it.
	gone chan struct{}
}

func newParticipantState(identity string) *participantState {
	return &participantState{
		identity: identity,
		ready:    make(chan struct{}),
		gone:     make(chan struct{}),
	}
}

func (p *participantState) setTrack(track *webrtc.TrackRemote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track != nil {
		return
	}
	p.track = track
	close(p.ready)
}

func (p *participantState) hasTrack() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track != nil
}

func (p *participantState) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.gone:
	default:
		close(p.gone)
	}
}

// Source implements room.TrackSource for LiveKit rooms.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	lkroom       *lksdk.Room
	connected    bool
	participants map[string]*participantState
}

// New creates a LiveKit track source. The room is not joined until Connect.
func New(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("livekit: URL must not be empty")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("livekit: APIKey and APISecret must not be empty")
	}
	if cfg.RoomName == "" {
		return nil, fmt.Errorf("livekit: RoomName must not be empty")
	}
	if cfg.Identity == "" {
		cfg.Identity = "audio-agent-crosstalk"
	}
	if cfg.TrackWait <= 0 {
		cfg.TrackWait = defaultTrackWait
	}
	return &Source{
		cfg:          cfg,
		logger:       slog.Default().With("component", "livekit", "room", cfg.RoomName),
		participants: make(map[string]*participantState),
	}, nil
}

// Connect joins the LiveKit room and begins tracking participants. Calling
// Connect on an already-connected source is a no-op.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	callbacks := &lksdk.RoomCallback{
		OnDisconnected:            s.onDisconnected,
		OnParticipantConnected:    s.onParticipantConnected,
		OnParticipantDisconnected: s.onParticipantDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   s.onTrackSubscribed,
			OnTrackUnsubscribed: s.onTrackUnsubscribed,
		},
	}

	lkroom, err := lksdk.ConnectToRoom(s.cfg.URL, lksdk.ConnectInfo{
		APIKey:              s.cfg.APIKey,
		APISecret:           s.cfg.APISecret,
		RoomName:            s.cfg.RoomName,
		ParticipantIdentity: s.cfg.Identity,
	}, callbacks)
	if err != nil {
		return fmt.Errorf("livekit: connect to room %q: %w: %w", s.cfg.RoomName, types.ErrConnection, err)
	}

	s.mu.Lock()
	s.lkroom = lkroom
	s.connected = true
	s.mu.Unlock()

	// Participants that joined before us never fire the connected callback.
	for _, rp := range lkroom.GetRemoteParticipants() {
		s.onParticipantConnected(rp)
		s.subscribeExistingTracks(rp)
	}

	s.logger.Info("connected to room", "identity", s.cfg.Identity)
	return nil
}

// subscribeExistingTracks subscribes to audio tracks a participant published
// before we joined and registers any already-live track.
func (s *Source) subscribeExistingTracks(rp *lksdk.RemoteParticipant) {
	for _, pub := range rp.TrackPublications() {
		if pub.Kind() != lksdk.TrackKindAudio {
			continue
		}
		remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
		if !ok {
			continue
		}
		if !remotePub.IsSubscribed() {
			if err := remotePub.SetSubscribed(true); err != nil {
				s.logger.Warn("subscribing to existing track",
					"identity", rp.Identity(), "error", err)
				continue
			}
		}
		if track, ok := remotePub.Track().(*webrtc.TrackRemote); ok && track != nil {
			s.onTrackSubscribed(track, remotePub, rp)
		}
	}
}

func (s *Source) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	identity := rp.Identity()
	s.mu.Lock()
	if _, ok := s.participants[identity]; !ok {
		s.participants[identity] = newParticipantState(identity)
	}
	s.mu.Unlock()
	s.logger.Info("participant connected", "identity", identity)
}

func (s *Source) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	identity := rp.Identity()
	s.mu.Lock()
	state, ok := s.participants[identity]
	delete(s.participants, identity)
	s.mu.Unlock()
	if ok {
		state.leave()
	}
	s.logger.Info("participant disconnected", "identity", identity)
}

func (s *Source) onTrackSubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	identity := rp.Identity()

	s.mu.Lock()
	state, ok := s.participants[identity]
	if !ok {
		state = newParticipantState(identity)
		s.participants[identity] = state
	}
	s.mu.Unlock()

	state.setTrack(track)
	s.logger.Info("audio track subscribed", "identity", identity)
}

func (s *Source) onTrackUnsubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	identity := rp.Identity()

	s.mu.Lock()
	state, ok := s.participants[identity]
	s.mu.Unlock()
	if ok {
		state.leave()
	}
	s.logger.Info("audio track unsubscribed", "identity", identity)
}

func (s *Source) onDisconnected() {
	s.mu.Lock()
	s.connected = false
	states := make([]*participantState, 0, len(s.participants))
	for _, st := range s.participants {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.leave()
	}
	s.logger.Warn("disconnected from room")
}

// Participants returns a snapshot of the currently known remote participants.
func (s *Source) Participants() map[string]types.ParticipantInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.ParticipantInfo, len(s.participants))
	for identity, state := range s.participants {
		out[identity] = types.ParticipantInfo{
			Identity:      identity,
			HasAudioTrack: state.hasTrack(),
		}
	}
	return out
}

// AudioStream returns decoded PCM frames for the named participant. If no
// audio track is subscribed yet, the call blocks until one appears or the
// track wait deadline expires.
func (s *Source) AudioStream(ctx context.Context, identity string) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	state, ok := s.participants[identity]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("livekit: unknown participant %q", identity)
	}

	select {
	case <-state.ready:
	case <-state.gone:
		return nil, fmt.Errorf("livekit: participant %q left before publishing audio", identity)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.TrackWait):
		return nil, fmt.Errorf("livekit: no audio track from %q within %s: %w",
			identity, s.cfg.TrackWait, types.ErrTimeout)
	}

	state.mu.Lock()
	track := state.track
	state.mu.Unlock()

	decoder, err := opus.NewDecoder(decodeSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus decoder for %q: %w", identity, err)
	}

	out := make(chan audio.AudioFrame, 64)
	go s.readTrack(ctx, state, track, decoder, out)
	return out, nil
}

// readTrack pumps one subscribed track: RTP in, decoded PCM frames out.
// Closes out when the track ends, the participant leaves, or ctx is
// cancelled.
func (s *Source) readTrack(ctx context.Context, state *participantState, track *webrtc.TrackRemote, decoder *opus.Decoder, out chan<- audio.AudioFrame) {
	defer close(out)

	buf := make([]byte, 1500)
	pcm := make([]int16, maxOpusFrameSamples)
	var pkt rtp.Packet

	for {
		select {
		case <-ctx.Done():
			return
		case <-state.gone:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("reading rtp packet", "identity", state.identity, "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Warn("unmarshaling rtp packet", "identity", state.identity, "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			// DTX silence packet.
			continue
		}

		samples, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			s.logger.Warn("decoding opus packet", "identity", state.identity, "error", err)
			continue
		}
		if samples == 0 {
			continue
		}

		frame := audio.AudioFrame{
			Data:       pcmToBytes(pcm[:samples]),
			SampleRate: decodeSampleRate,
			Channels:   1,
			Timestamp:  time.Now(),
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		case <-state.gone:
			return
		}
	}
}

// Connected reports whether the source currently holds a live room
// connection.
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect leaves the room and terminates all open audio streams. Calling
// Disconnect on a disconnected source is a no-op.
func (s *Source) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	lkroom := s.lkroom
	s.lkroom = nil
	states := make([]*participantState, 0, len(s.participants))
	for _, st := range s.participants {
		states = append(states, st)
	}
	s.participants = make(map[string]*participantState)
	s.mu.Unlock()

	for _, st := range states {
		st.leave()
	}
	if lkroom != nil {
		lkroom.Disconnect()
	}
	s.logger.Info("left room")
	return nil
}

// pcmToBytes serialises int16 samples as little-endian PCM bytes.
func pcmToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

// Ensure Source implements room.TrackSource at compile time.
var _ room.TrackSource = (*Source)(nil)
