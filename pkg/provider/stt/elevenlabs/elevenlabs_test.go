package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/crosstalkhq/crosstalk/pkg/provider/stt"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse built URL: %v", err)
	}

	if !strings.HasPrefix(raw, "wss://api.elevenlabs.io/v1/speech-to-text/realtime?") {
		t.Errorf("unexpected endpoint: %s", raw)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"model_id":           "scribe_v2_realtime",
		"audio_format":       "pcm_16000",
		"language_code":      "en",
		"commit_strategy":    "vad",
		"include_timestamps": "false",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestBuildURL_ConfigOverrides(t *testing.T) {
	p, err := New("key", WithModel("scribe_v1"), WithTimestamps(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{SampleRate: 8000, Language: "de"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(raw)

	if got := q.Query().Get("audio_format"); got != "pcm_8000" {
		t.Errorf("audio_format = %q, want pcm_8000", got)
	}
	if got := q.Query().Get("language_code"); got != "de" {
		t.Errorf("language_code = %q, want de", got)
	}
	if got := q.Query().Get("model_id"); got != "scribe_v1" {
		t.Errorf("model_id = %q, want scribe_v1", got)
	}
	if got := q.Query().Get("include_timestamps"); got != "true" {
		t.Errorf("include_timestamps = %q, want true", got)
	}
}

func TestParseRealtimeMessage_Partial(t *testing.T) {
	msg := []byte(`{"message_type":"partial_transcript","text":" hello there "}`)
	parsed, kind := parseRealtimeMessage(msg)
	if kind != msgPartial {
		t.Fatalf("kind = %v, want msgPartial", kind)
	}
	if parsed.Result.Text != "hello there" {
		t.Errorf("text = %q, want trimmed %q", parsed.Result.Text, "hello there")
	}
	if parsed.Result.IsFinal {
		t.Error("partial transcript marked final")
	}
}

func TestParseRealtimeMessage_Committed(t *testing.T) {
	msg := []byte(`{"message_type":"committed_transcript","text":"done speaking"}`)
	parsed, kind := parseRealtimeMessage(msg)
	if kind != msgFinal {
		t.Fatalf("kind = %v, want msgFinal", kind)
	}
	if !parsed.Result.IsFinal {
		t.Error("committed transcript not marked final")
	}
	if parsed.Result.HasOffsets {
		t.Error("offsets reported without word timings")
	}
}

func TestParseRealtimeMessage_CommittedWithTimestamps(t *testing.T) {
	msg := []byte(`{
		"message_type": "committed_transcript_with_timestamps",
		"text": "two words",
		"words": [
			{"text": "two", "start": 1.5, "end": 1.9},
			{"text": "words", "start": 2.0, "end": 2.4}
		]
	}`)
	parsed, kind := parseRealtimeMessage(msg)
	if kind != msgFinal {
		t.Fatalf("kind = %v, want msgFinal", kind)
	}
	r := parsed.Result
	if !r.HasOffsets {
		t.Fatal("expected offsets from word timings")
	}
	if r.StartMs != 1500 || r.EndMs != 2400 {
		t.Errorf("offsets = [%d, %d] ms, want [1500, 2400]", r.StartMs, r.EndMs)
	}
}

func TestParseRealtimeMessage_EmptyTextIgnored(t *testing.T) {
	for _, mt := range []string{"partial_transcript", "committed_transcript"} {
		msg := []byte(`{"message_type":"` + mt + `","text":"   "}`)
		if _, kind := parseRealtimeMessage(msg); kind != msgIgnore {
			t.Errorf("%s with blank text: kind = %v, want msgIgnore", mt, kind)
		}
	}
}

func TestParseRealtimeMessage_SessionStarted(t *testing.T) {
	msg := []byte(`{"message_type":"session_started","session_id":"sess-123"}`)
	parsed, kind := parseRealtimeMessage(msg)
	if kind != msgSessionStarted {
		t.Fatalf("kind = %v, want msgSessionStarted", kind)
	}
	if parsed.SessionID != "sess-123" {
		t.Errorf("session_id = %q, want sess-123", parsed.SessionID)
	}
}

func TestParseRealtimeMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"message field", `{"message_type":"auth_error","message":"bad key"}`, "bad key"},
		{"error field", `{"message_type":"quota_exceeded","error":"limit hit"}`, "limit hit"},
		{"no detail", `{"message_type":"input_error"}`, "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, kind := parseRealtimeMessage([]byte(tt.msg))
			if kind != msgError {
				t.Fatalf("kind = %v, want msgError", kind)
			}
			if parsed.ErrorMessage != tt.want {
				t.Errorf("error message = %q, want %q", parsed.ErrorMessage, tt.want)
			}
		})
	}
}

// startRealtimeServer runs a WebSocket server that speaks enough of the
// realtime protocol for session lifecycle tests. It emits the given messages
// on connect, then services inbound frames until the client closes.
func startRealtimeServer(t *testing.T, messages ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, m := range messages {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_CloseUnblocksReadLoop(t *testing.T) {
	srv := startRealtimeServer(t,
		`{"message_type":"session_started","session_id":"sess-1"}`,
		`{"message_type":"committed_transcript","text":"all done"}`,
	)

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{Tag: "speaker-1"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := sess.SendAudio([]byte{0x00, 0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case r := <-sess.Finals():
		if r.Text != "all done" {
			t.Errorf("final text = %q, want %q", r.Text, "all done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no final transcript received")
	}

	closed := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while the read loop was blocked")
	}

	if _, ok := <-sess.Partials(); ok {
		t.Error("partials channel still open after Close")
	}
	if _, ok := <-sess.Finals(); ok {
		t.Error("finals channel still open after Close")
	}
	if err := sess.SendAudio([]byte{0x04}); err == nil {
		t.Error("SendAudio accepted audio after Close")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	srv := startRealtimeServer(t)

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := sess.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
}

func TestParseRealtimeMessage_Garbage(t *testing.T) {
	if _, kind := parseRealtimeMessage([]byte("not json")); kind != msgIgnore {
		t.Errorf("kind = %v, want msgIgnore", kind)
	}
	if _, kind := parseRealtimeMessage([]byte(`{"message_type":"unknown_thing"}`)); kind != msgIgnore {
		t.Errorf("unknown type: kind = %v, want msgIgnore", kind)
	}
}
