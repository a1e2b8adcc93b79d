// Package elevenlabs provides an ElevenLabs-backed STT provider using the
// Scribe realtime WebSocket API. It implements the stt.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/crosstalkhq/crosstalk/pkg/provider/stt"
)

const (
	realtimeEndpoint  = "wss://api.elevenlabs.io/v1/speech-to-text/realtime"
	defaultModel      = "scribe_v2_realtime"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the Scribe model ID (e.g., "scribe_v2_realtime").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code for recognition (e.g., "en", "de").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithTimestamps requests word-level timestamps on committed transcripts.
// When enabled, Result values carry utterance offsets via HasOffsets.
func WithTimestamps(enabled bool) Option {
	return func(p *Provider) {
		p.timestamps = enabled
	}
}

// Provider implements stt.Provider backed by the ElevenLabs realtime API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	timestamps bool
	logger     *slog.Logger
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: realtimeEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with ElevenLabs.
// It respects cfg.SampleRate and cfg.Language; cfg.Tag labels log lines.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("xi-api-key", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	sess := &session{
		conn:       conn,
		sampleRate: sampleRate,
		logger:     p.logger.With("provider", "elevenlabs", "tag", cfg.Tag),
		partials:   make(chan stt.Result, 64),
		finals:     make(chan stt.Result, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
	}

	sess.readWG.Add(1)
	go sess.readLoop(ctx)
	sess.writeWG.Add(1)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the realtime endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("audio_format", fmt.Sprintf("pcm_%d", sr))
	q.Set("language_code", lang)
	q.Set("commit_strategy", "vad")
	q.Set("include_timestamps", fmt.Sprintf("%t", p.timestamps))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// realtimeMessage covers all inbound message shapes from the realtime API.
// The relevant fields depend on MessageType.
type realtimeMessage struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Words       []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// audioChunkMessage is the outbound audio frame envelope.
type audioChunkMessage struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	SampleRate  int    `json:"sample_rate"`
}

// session is a live ElevenLabs streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn       *websocket.Conn
	sampleRate int
	logger     *slog.Logger

	partials chan stt.Result
	finals   chan stt.Result
	audio    chan []byte

	done    chan struct{}
	once    sync.Once
	writeWG sync.WaitGroup
	readWG  sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to ElevenLabs.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("elevenlabs: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("elevenlabs: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Result { return s.partials }

// Finals returns the channel of committed transcripts.
func (s *session) Finals() <-chan stt.Result { return s.finals }

// Close terminates the session cleanly. Buffered audio is flushed before the
// connection is torn down; closing the connection unblocks the read loop.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.writeWG.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.readWG.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends base64-encoded JSON audio
// messages to ElevenLabs.
func (s *session) writeLoop(ctx context.Context) {
	defer s.writeWG.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.writeChunk(ctx, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting so buffered speech is
			// still transcribed.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.writeChunk(ctx, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *session) writeChunk(ctx context.Context, chunk []byte) error {
	msg := audioChunkMessage{
		MessageType: "input_audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
		SampleRate:  s.sampleRate,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// readLoop receives JSON messages from ElevenLabs and dispatches them to the
// partials and finals channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.readWG.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		r, kind := parseRealtimeMessage(msg)
		switch kind {
		case msgSessionStarted:
			s.logger.Info("transcription session started", "session_id", r.SessionID)
		case msgPartial:
			select {
			case s.partials <- r.Result:
			case <-s.done:
			}
		case msgFinal:
			select {
			case s.finals <- r.Result:
			case <-s.done:
			}
		case msgError:
			s.logger.Error("provider error", "type", r.ErrorType, "message", r.ErrorMessage)
		}
	}
}

// messageKind classifies an inbound realtime message.
type messageKind int

const (
	msgIgnore messageKind = iota
	msgSessionStarted
	msgPartial
	msgFinal
	msgError
)

// parsedMessage is the outcome of parseRealtimeMessage.
type parsedMessage struct {
	Result       stt.Result
	SessionID    string
	ErrorType    string
	ErrorMessage string
}

// parseRealtimeMessage parses a raw realtime API message. Empty transcripts
// and unrecognised message types are ignored.
func parseRealtimeMessage(data []byte) (parsedMessage, messageKind) {
	var m realtimeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return parsedMessage{}, msgIgnore
	}

	switch m.MessageType {
	case "session_started":
		return parsedMessage{SessionID: m.SessionID}, msgSessionStarted

	case "partial_transcript":
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return parsedMessage{}, msgIgnore
		}
		return parsedMessage{Result: stt.Result{Text: text, IsFinal: false}}, msgPartial

	case "committed_transcript", "committed_transcript_with_timestamps":
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return parsedMessage{}, msgIgnore
		}
		r := stt.Result{Text: text, IsFinal: true}
		if len(m.Words) > 0 {
			r.StartMs = int(m.Words[0].Start * 1000)
			r.EndMs = int(m.Words[len(m.Words)-1].End * 1000)
			r.HasOffsets = true
		}
		return parsedMessage{Result: r}, msgFinal

	case "auth_error", "quota_exceeded", "input_error", "error":
		errMsg := m.Message
		if errMsg == "" {
			errMsg = m.Error
		}
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return parsedMessage{ErrorType: m.MessageType, ErrorMessage: errMsg}, msgError
	}

	return parsedMessage{}, msgIgnore
}

// Ensure interfaces are implemented at compile time.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*session)(nil)
)
