// Package evaluate turns buffered transcript windows into structured
// interview assessments using an LLM.
//
// The evaluator is deliberately total: a failed LLM call, unparseable
// response, or invalid enum value produces an error-flagged result with
// unknown grades rather than an error return, so the evaluation loop never
// stops on a bad window.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/observe"
	"github.com/crosstalkhq/crosstalk/pkg/provider/llm"
	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// theme is one entry of the tracked topic taxonomy. Tags keep their square
// brackets in prompts and LLM responses; KeyTopics strips them.
type theme struct {
	Tag  string
	Desc string
}

// quantThemes is the Quant Finance interview topic taxonomy. Order is fixed
// so the rendered prompt is deterministic.
var quantThemes = []theme{
	{"[CV_TECHNIQUES]", "Cross-validation, K-Fold, Walk-Forward, backtesting, out-of-sample robustness."},
	{"[REGULARIZATION]", "L1/L2 regularization, Lasso, Ridge, preventing overfitting via coefficient penalty."},
	{"[FEATURE_SELECTION]", "Variable selection, feature engineering, SHAP, LIME, PCA, feature importance."},
	{"[STATIONARITY]", "Stationarity, non-stationarity, unit root tests (ADF, KPSS), co-integration."},
	{"[TIME_SERIES_MODELS]", "Specific time series models (ARIMA, GARCH, VAR), volatility modeling."},
	{"[OPTIMIZATION_PYTHON]", "Python code performance, vectorization, NumPy, Pandas, Numba, Cython."},
	{"[LOOKAHEAD_BIAS]", "Look-ahead bias, future data leakage, common backtesting errors."},
	{"[DATA_PIPELINE]", "Data cleaning, ingestion, ETL pipelines, market data management."},
	{"[BEHAVIORAL_PRESSURE]", "Handling stress, tight deadlines, crisis situations."},
	{"[BEHAVIORAL_TEAMWORK]", "Collaboration, conflict management, communication with PMs or traders."},
	{extraTag, "Off-topic questions, greetings, transitions, questions about the job."},
}

// extraTag marks off-topic content. It is excluded from key topics and
// instead surfaces as a flag on the result.
const extraTag = "[EXTRA]"

const evaluationPrompt = `You are an expert Quant Finance interview evaluator analyzing a live interview conversation.

<themes_to_track>
Here are the Quant Finance topics we track (read descriptions carefully):
%s
</themes_to_track>

<conversation>
%s
</conversation>

Analyze this interview excerpt and provide structured evaluation:

1. QUANT THEMES: Identify ALL themes from the list above that were discussed (by recruiter OR candidate)
   - Respond with a JSON list of theme tags, e.g., ["[CV_TECHNIQUES]", "[REGULARIZATION]"]
   - If discussing off-topic/casual content, include ["[EXTRA]"]
   - If NO themes match, return []

2. SUBJECT RELEVANCE: Overall relevance to Quant Finance interview
   - on_topic: Discussing technical Quant Finance topics (any theme except [EXTRA])
   - partially_relevant: Mix of relevant and off-topic ([EXTRA] + technical themes)
   - off_topic: Mostly casual chat, greetings, transitions (only [EXTRA])

3. QUESTION DIFFICULTY: Technical depth of questions asked
   - easy: Basic definitions, simple explanations (e.g., "What is cross-validation?")
   - medium: Moderate depth, practical applications (e.g., "How would you validate a trading model?")
   - hard: Advanced problems, edge cases (e.g., "Explain look-ahead bias in walk-forward validation")
   - unknown: No clear technical questions asked

4. INTERVIEWER TONE: Demeanor and communication style
   - harsh: Aggressive, dismissive, overly critical, interrupting
   - neutral: Professional, balanced, objective
   - encouraging: Supportive, friendly, helpful, positive feedback
   - unknown: Insufficient data

5. SUMMARY: 1-2 sentence summary of what was discussed

6. FLAGS: Note concerns (e.g., "Harsh tone detected", "Off-topic discussion", "Look-ahead bias mentioned but not explained")

7. CONFIDENCE: Rate confidence in each assessment (0.0-1.0)

Respond ONLY with valid JSON in this exact format:
{
    "quant_themes": ["[THEME1]", "[THEME2]", ...] or [],
    "subject_relevance": "on_topic" | "partially_relevant" | "off_topic" | "unknown",
    "question_difficulty": "easy" | "medium" | "hard" | "unknown",
    "interviewer_tone": "harsh" | "neutral" | "encouraging" | "unknown",
    "summary": "brief summary here",
    "flags": ["flag1", "flag2", ...] or [],
    "confidence_subject": 0.0-1.0,
    "confidence_difficulty": 0.0-1.0,
    "confidence_tone": 0.0-1.0
}`

// defaultMaxTokens caps the evaluation response size. The structured JSON
// reply fits comfortably.
const defaultMaxTokens = 1024

// Config holds the collaborators and tuning knobs for an [Evaluator].
type Config struct {
	// Provider is the LLM backend that grades windows.
	Provider llm.Provider

	// MaxTokens caps the completion size. Default: 1024.
	MaxTokens int

	// Metrics receives instrumentation. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Evaluator grades transcript windows with an LLM.
type Evaluator struct {
	provider  llm.Provider
	maxTokens int
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// New creates an [Evaluator] with the supplied configuration.
func New(cfg Config) *Evaluator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Evaluator{
		provider:  cfg.Provider,
		maxTokens: cfg.MaxTokens,
		metrics:   metrics,
		logger:    slog.Default().With("component", "evaluator"),
	}
}

// Evaluate grades one window of conversation. It always returns a usable
// result: on any failure the grades are unknown, the confidences zero, and
// the error is carried in the Flags.
func (e *Evaluator) Evaluate(ctx context.Context, window types.BufferedWindow) types.EvaluationResult {
	e.logger.Info("evaluating window",
		"transcripts", window.Len(),
		"duration", window.Duration())

	start := time.Now()
	result, err := e.evaluate(ctx, window)
	e.metrics.EvaluationDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		e.logger.Error("window evaluation failed", "error", err)
		e.metrics.RecordProviderError(ctx, "llm", "evaluate")
		return errorResult(window, err)
	}

	e.logger.Info("evaluation complete",
		"relevance", result.SubjectRelevance,
		"difficulty", result.QuestionDifficulty,
		"tone", result.InterviewerTone)
	return result
}

func (e *Evaluator) evaluate(ctx context.Context, window types.BufferedWindow) (types.EvaluationResult, error) {
	prompt := fmt.Sprintf(evaluationPrompt, themesList(), window.Text(true))

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return types.EvaluationResult{}, fmt.Errorf("evaluate: completion: %w", err)
	}

	raw := strings.TrimSpace(resp.Content)
	parsed, err := parseResponse(raw)
	if err != nil {
		return types.EvaluationResult{}, err
	}

	flags := parsed.Flags
	var keyTopics []string
	for _, tag := range parsed.QuantThemes {
		if tag == extraTag {
			flags = append(flags, "Off-topic/casual discussion detected ([EXTRA])")
			continue
		}
		keyTopics = append(keyTopics, strings.Trim(tag, "[]"))
	}

	return types.EvaluationResult{
		Timestamp:            time.Now(),
		WindowStart:          window.WindowStart,
		WindowEnd:            window.WindowEnd,
		TranscriptsEvaluated: window.Len(),
		SubjectRelevance:     types.Relevance(parsed.SubjectRelevance),
		QuestionDifficulty:   types.Difficulty(parsed.QuestionDifficulty),
		InterviewerTone:      types.Tone(parsed.InterviewerTone),
		Summary:              parsed.Summary,
		KeyTopics:            keyTopics,
		Flags:                flags,
		ConfidenceSubject:    parsed.ConfidenceSubject,
		ConfidenceDifficulty: parsed.ConfidenceDifficulty,
		ConfidenceTone:       parsed.ConfidenceTone,
		RawResponse:          raw,
	}, nil
}

// llmEvaluation mirrors the JSON shape the prompt demands.
type llmEvaluation struct {
	QuantThemes          []string `json:"quant_themes"`
	SubjectRelevance     string   `json:"subject_relevance"`
	QuestionDifficulty   string   `json:"question_difficulty"`
	InterviewerTone      string   `json:"interviewer_tone"`
	Summary              string   `json:"summary"`
	Flags                []string `json:"flags"`
	ConfidenceSubject    float64  `json:"confidence_subject"`
	ConfidenceDifficulty float64  `json:"confidence_difficulty"`
	ConfidenceTone       float64  `json:"confidence_tone"`
}

// parseResponse decodes the model's JSON reply, tolerating a markdown code
// fence around it, and validates the graded enum values.
func parseResponse(raw string) (llmEvaluation, error) {
	text := stripCodeFence(raw)

	var parsed llmEvaluation
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return llmEvaluation{}, fmt.Errorf("evaluate: invalid JSON response: %w", err)
	}

	if err := validEnum("subject_relevance", parsed.SubjectRelevance,
		string(types.RelevanceOnTopic), string(types.RelevanceOffTopic),
		string(types.RelevancePartiallyRelevant), string(types.RelevanceUnknown)); err != nil {
		return llmEvaluation{}, err
	}
	if err := validEnum("question_difficulty", parsed.QuestionDifficulty,
		string(types.DifficultyEasy), string(types.DifficultyMedium),
		string(types.DifficultyHard), string(types.DifficultyUnknown)); err != nil {
		return llmEvaluation{}, err
	}
	if err := validEnum("interviewer_tone", parsed.InterviewerTone,
		string(types.ToneHarsh), string(types.ToneNeutral),
		string(types.ToneEncouraging), string(types.ToneUnknown)); err != nil {
		return llmEvaluation{}, err
	}
	return parsed, nil
}

func validEnum(field, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("evaluate: invalid %s value %q", field, got)
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a language marker.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// themesList renders the taxonomy as "tag: description" lines for the prompt.
func themesList() string {
	var b strings.Builder
	for i, th := range quantThemes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(th.Tag)
		b.WriteString(": ")
		b.WriteString(th.Desc)
	}
	return b.String()
}

// errorResult builds the unknown-graded result used when evaluation fails.
func errorResult(window types.BufferedWindow, err error) types.EvaluationResult {
	return types.EvaluationResult{
		Timestamp:            time.Now(),
		WindowStart:          window.WindowStart,
		WindowEnd:            window.WindowEnd,
		TranscriptsEvaluated: window.Len(),
		SubjectRelevance:     types.RelevanceUnknown,
		QuestionDifficulty:   types.DifficultyUnknown,
		InterviewerTone:      types.ToneUnknown,
		Summary:              fmt.Sprintf("Evaluation failed: %v", err),
		Flags:                []string{fmt.Sprintf("EVALUATION_ERROR: %v", err)},
	}
}
