// Package types holds the shared data model for the crosstalk engine:
// transcripts, participants, evaluation windows, and the error taxonomy used
// across the pipeline.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SpeakerLabel is the logical role of a participant in the conversation.
// It is assigned once at registration time and never changes.
type SpeakerLabel string

const (
	// LabelRecruiter marks the participant leading the conversation.
	LabelRecruiter SpeakerLabel = "recruiter"

	// LabelCandidate marks the participant being interviewed.
	LabelCandidate SpeakerLabel = "candidate"

	// LabelAgent marks a bot participant (observer). Agents never stream.
	LabelAgent SpeakerLabel = "agent"
)

// Transcript is one recognized utterance fragment from a single speaker.
// Values are immutable after creation; ownership passes from the stream
// manager through the orchestrator to the window buffer.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Speaker is the logical role label, not the raw participant identity.
	Speaker SpeakerLabel

	// StartMs and EndMs are utterance offsets reported by the transcription
	// service, when available. Zero with HasOffsets false means unknown.
	StartMs    int
	EndMs      int
	HasOffsets bool

	// IsFinal reports whether the transcription service has committed to
	// this result. Only final transcripts are admitted into windows.
	IsFinal bool

	// ObservedAt is the wall-clock arrival time, assigned by the receiving
	// stream manager, not by the transcription service.
	ObservedAt time.Time
}

// String renders the transcript for logs: "[candidate] ✓ hello there".
func (t Transcript) String() string {
	marker := "~"
	if t.IsFinal {
		marker = "✓"
	}
	if t.HasOffsets {
		return fmt.Sprintf("[%s] [%dms-%dms] %s %s", t.Speaker, t.StartMs, t.EndMs, marker, t.Text)
	}
	return fmt.Sprintf("[%s] %s %s", t.Speaker, marker, t.Text)
}

// ParticipantInfo describes a participant registered with the track source.
type ParticipantInfo struct {
	// Identity is the raw participant identity from the room.
	Identity string

	// Label is the logical speaker role assigned at registration.
	Label SpeakerLabel

	// HasAudioTrack reports whether an audio track is currently attached.
	HasAudioTrack bool
}

// BufferedWindow is a bounded group of final transcripts handed to the
// evaluation collaborator as one unit of context. Immutable once created.
type BufferedWindow struct {
	// Transcripts are the window contents in merged-stream order.
	Transcripts []Transcript

	// WindowStart is the ObservedAt of the first transcript in the window.
	WindowStart time.Time

	// WindowEnd is the ObservedAt of the last transcript in the window.
	WindowEnd time.Time

	// SpeakerTurns counts speaker-label transitions across the window.
	SpeakerTurns int
}

// Len returns the number of transcripts in the window.
func (w BufferedWindow) Len() int { return len(w.Transcripts) }

// Duration returns WindowEnd − WindowStart.
func (w BufferedWindow) Duration() time.Duration {
	return w.WindowEnd.Sub(w.WindowStart)
}

// Text formats the window as conversation text, one line per transcript.
// With speakers included each line reads "RECRUITER: …".
func (w BufferedWindow) Text(includeSpeakers bool) string {
	var b strings.Builder
	for i, t := range w.Transcripts {
		if i > 0 {
			b.WriteByte('\n')
		}
		if includeSpeakers {
			b.WriteString(strings.ToUpper(string(t.Speaker)))
			b.WriteString(": ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// EvaluationResult is the structured LLM assessment of one window.
type EvaluationResult struct {
	Timestamp            time.Time `json:"timestamp"`
	WindowStart          time.Time `json:"window_start"`
	WindowEnd            time.Time `json:"window_end"`
	TranscriptsEvaluated int       `json:"transcripts_evaluated"`

	SubjectRelevance   Relevance  `json:"subject_relevance"`
	QuestionDifficulty Difficulty `json:"question_difficulty"`
	InterviewerTone    Tone       `json:"interviewer_tone"`

	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
	Flags     []string `json:"flags,omitempty"`

	ConfidenceSubject    float64 `json:"confidence_subject"`
	ConfidenceDifficulty float64 `json:"confidence_difficulty"`
	ConfidenceTone       float64 `json:"confidence_tone"`

	// RawResponse preserves the unparsed LLM output for debugging.
	RawResponse string `json:"raw_llm_response,omitempty"`
}

// Difficulty grades the technical depth of questions in a window.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
	DifficultyUnknown Difficulty = "unknown"
)

// Tone grades the interviewer's demeanor in a window.
type Tone string

const (
	ToneHarsh       Tone = "harsh"
	ToneNeutral     Tone = "neutral"
	ToneEncouraging Tone = "encouraging"
	ToneUnknown     Tone = "unknown"
)

// Relevance grades whether window content is on-topic.
type Relevance string

const (
	RelevanceOnTopic           Relevance = "on_topic"
	RelevanceOffTopic          Relevance = "off_topic"
	RelevancePartiallyRelevant Relevance = "partially_relevant"
	RelevanceUnknown           Relevance = "unknown"
)
