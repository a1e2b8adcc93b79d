package evaluate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crosstalkhq/crosstalk/pkg/provider/llm"
	llmmock "github.com/crosstalkhq/crosstalk/pkg/provider/llm/mock"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

const validResponse = `{
    "quant_themes": ["[CV_TECHNIQUES]", "[LOOKAHEAD_BIAS]"],
    "subject_relevance": "on_topic",
    "question_difficulty": "hard",
    "interviewer_tone": "neutral",
    "summary": "Deep dive into walk-forward validation pitfalls.",
    "flags": [],
    "confidence_subject": 0.95,
    "confidence_difficulty": 0.8,
    "confidence_tone": 0.7
}`

func testWindow() types.BufferedWindow {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return types.BufferedWindow{
		Transcripts: []types.Transcript{
			{Text: "explain look-ahead bias in walk-forward validation", Speaker: types.LabelRecruiter, IsFinal: true, ObservedAt: base},
			{Text: "it leaks future information into the training set", Speaker: types.LabelCandidate, IsFinal: true, ObservedAt: base.Add(8 * time.Second)},
		},
		WindowStart:  base,
		WindowEnd:    base.Add(8 * time.Second),
		SpeakerTurns: 1,
	}
}

func TestEvaluate_ParsesStructuredResult(t *testing.T) {
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: validResponse},
	}
	ev := New(Config{Provider: provider})

	window := testWindow()
	result := ev.Evaluate(context.Background(), window)

	if result.SubjectRelevance != types.RelevanceOnTopic {
		t.Errorf("relevance = %q, want on_topic", result.SubjectRelevance)
	}
	if result.QuestionDifficulty != types.DifficultyHard {
		t.Errorf("difficulty = %q, want hard", result.QuestionDifficulty)
	}
	if result.InterviewerTone != types.ToneNeutral {
		t.Errorf("tone = %q, want neutral", result.InterviewerTone)
	}
	if result.TranscriptsEvaluated != 2 {
		t.Errorf("transcripts evaluated = %d, want 2", result.TranscriptsEvaluated)
	}
	if !result.WindowStart.Equal(window.WindowStart) || !result.WindowEnd.Equal(window.WindowEnd) {
		t.Error("window bounds not carried onto result")
	}
	if len(result.KeyTopics) != 2 || result.KeyTopics[0] != "CV_TECHNIQUES" || result.KeyTopics[1] != "LOOKAHEAD_BIAS" {
		t.Errorf("key topics = %v, want bracket-stripped theme tags", result.KeyTopics)
	}
	if len(result.Flags) != 0 {
		t.Errorf("flags = %v, want none", result.Flags)
	}
	if result.RawResponse == "" {
		t.Error("raw response not preserved")
	}
}

func TestEvaluate_PromptContainsConversationAndThemes(t *testing.T) {
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: validResponse},
	}
	ev := New(Config{Provider: provider})

	ev.Evaluate(context.Background(), testWindow())

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if req.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want single user message", req.Messages)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "RECRUITER: explain look-ahead bias in walk-forward validation") {
		t.Error("prompt missing speaker-labeled conversation line")
	}
	if !strings.Contains(prompt, "[CV_TECHNIQUES]: Cross-validation") {
		t.Error("prompt missing theme taxonomy")
	}
}

func TestEvaluate_StripsMarkdownFence(t *testing.T) {
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "```json\n" + validResponse + "\n```"},
	}
	ev := New(Config{Provider: provider})

	result := ev.Evaluate(context.Background(), testWindow())
	if result.SubjectRelevance != types.RelevanceOnTopic {
		t.Errorf("relevance = %q, want on_topic after fence stripping", result.SubjectRelevance)
	}
}

func TestEvaluate_ExtraThemeBecomesFlag(t *testing.T) {
	response := `{
		"quant_themes": ["[EXTRA]", "[REGULARIZATION]"],
		"subject_relevance": "partially_relevant",
		"question_difficulty": "easy",
		"interviewer_tone": "encouraging",
		"summary": "Some small talk, then ridge regression basics.",
		"flags": ["Off-topic discussion"],
		"confidence_subject": 0.6,
		"confidence_difficulty": 0.5,
		"confidence_tone": 0.8
	}`
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: response},
	}
	ev := New(Config{Provider: provider})

	result := ev.Evaluate(context.Background(), testWindow())

	if len(result.KeyTopics) != 1 || result.KeyTopics[0] != "REGULARIZATION" {
		t.Errorf("key topics = %v, want [REGULARIZATION] only", result.KeyTopics)
	}
	want := "Off-topic/casual discussion detected ([EXTRA])"
	found := false
	for _, f := range result.Flags {
		if f == want {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, missing %q", result.Flags, want)
	}
	if len(result.Flags) != 2 {
		t.Errorf("flags = %v, want original flag plus extra marker", result.Flags)
	}
}

func TestEvaluate_ProviderErrorYieldsErrorResult(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("rate limited")}
	ev := New(Config{Provider: provider})

	result := ev.Evaluate(context.Background(), testWindow())

	if result.SubjectRelevance != types.RelevanceUnknown ||
		result.QuestionDifficulty != types.DifficultyUnknown ||
		result.InterviewerTone != types.ToneUnknown {
		t.Errorf("grades = %q/%q/%q, want all unknown",
			result.SubjectRelevance, result.QuestionDifficulty, result.InterviewerTone)
	}
	if result.ConfidenceSubject != 0 || result.ConfidenceDifficulty != 0 || result.ConfidenceTone != 0 {
		t.Error("confidences not zeroed on error")
	}
	if len(result.Flags) != 1 || !strings.HasPrefix(result.Flags[0], "EVALUATION_ERROR:") {
		t.Errorf("flags = %v, want single EVALUATION_ERROR flag", result.Flags)
	}
	if !strings.Contains(result.Flags[0], "rate limited") {
		t.Errorf("error flag %q missing cause", result.Flags[0])
	}
}

func TestEvaluate_MalformedJSONYieldsErrorResult(t *testing.T) {
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "I think the interview went well!"},
	}
	ev := New(Config{Provider: provider})

	result := ev.Evaluate(context.Background(), testWindow())
	if result.SubjectRelevance != types.RelevanceUnknown {
		t.Errorf("relevance = %q, want unknown for unparseable reply", result.SubjectRelevance)
	}
}

func TestParseResponse_RejectsInvalidEnum(t *testing.T) {
	response := `{
		"quant_themes": [],
		"subject_relevance": "sort_of_relevant",
		"question_difficulty": "easy",
		"interviewer_tone": "neutral",
		"summary": "x",
		"flags": [],
		"confidence_subject": 0.5,
		"confidence_difficulty": 0.5,
		"confidence_tone": 0.5
	}`
	if _, err := parseResponse(response); err == nil {
		t.Error("parseResponse accepted invalid subject_relevance")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  \n```json\n{\"a\":1}\n```\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
