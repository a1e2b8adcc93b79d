// Package pipeline bridges participant audio tracks to a merged, labeled
// transcript stream. One SpeakerStreamManager runs per conversation
// participant; the Orchestrator supervises them and fans their transcript
// output into a single channel.
package pipeline

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// Labeler assigns speaker roles to participant identities.
//
// Resolution order: the explicit identity→role mapping, then an identity
// substring heuristic, then role balancing (first unassigned conversation
// role wins). Only the explicit mapping is deterministic; both fallbacks log
// a warning so a misconfigured room is visible. Agent identities are always
// detected first and never receive a conversation role.
type Labeler struct {
	roles         map[string]types.SpeakerLabel
	recruiterHint string
	candidateHint string
	logger        *slog.Logger

	mu       sync.Mutex
	assigned map[string]types.SpeakerLabel
}

// LabelerConfig holds tuning knobs for a [Labeler].
type LabelerConfig struct {
	// Roles is the explicit identity→role mapping resolved at room setup.
	// Identities present here never fall through to the heuristics.
	Roles map[string]types.SpeakerLabel

	// RecruiterHint is the substring that marks a recruiter identity when
	// Roles has no entry. Default: "interviewer".
	RecruiterHint string

	// CandidateHint is the substring that marks a candidate identity when
	// Roles has no entry. Default: "candidate".
	CandidateHint string
}

// NewLabeler creates a [Labeler] with the supplied configuration.
func NewLabeler(cfg LabelerConfig) *Labeler {
	if cfg.RecruiterHint == "" {
		cfg.RecruiterHint = "interviewer"
	}
	if cfg.CandidateHint == "" {
		cfg.CandidateHint = "candidate"
	}
	return &Labeler{
		roles:         cfg.Roles,
		recruiterHint: strings.ToLower(cfg.RecruiterHint),
		candidateHint: strings.ToLower(cfg.CandidateHint),
		logger:        slog.Default().With("component", "labeler"),
		assigned:      make(map[string]types.SpeakerLabel),
	}
}

// Label resolves the speaker role for identity. The result is stable: the
// first resolution for an identity is remembered and returned on every later
// call.
func (l *Labeler) Label(identity string) types.SpeakerLabel {
	l.mu.Lock()
	defer l.mu.Unlock()

	if label, ok := l.assigned[identity]; ok {
		return label
	}

	label := l.resolve(identity)
	l.assigned[identity] = label
	l.logger.Info("registered participant", "identity", identity, "label", label)
	return label
}

// resolve picks a label for a new identity. Must be called with l.mu held.
func (l *Labeler) resolve(identity string) types.SpeakerLabel {
	lower := strings.ToLower(identity)

	if isAgentIdentity(lower) {
		return types.LabelAgent
	}

	if label, ok := l.roles[identity]; ok {
		return label
	}

	switch {
	case strings.Contains(lower, l.recruiterHint):
		l.logger.Warn("no explicit role for identity, matched by substring",
			"identity", identity, "label", types.LabelRecruiter)
		return types.LabelRecruiter
	case strings.Contains(lower, l.candidateHint):
		l.logger.Warn("no explicit role for identity, matched by substring",
			"identity", identity, "label", types.LabelCandidate)
		return types.LabelCandidate
	}

	// Role balancing: the first unlabeled participant becomes the recruiter.
	label := types.LabelCandidate
	if !l.hasAssigned(types.LabelRecruiter) {
		label = types.LabelRecruiter
	}
	l.logger.Warn("no explicit role or substring match for identity, balancing roles",
		"identity", identity, "label", label)
	return label
}

// hasAssigned reports whether any identity already holds label. Must be
// called with l.mu held.
func (l *Labeler) hasAssigned(label types.SpeakerLabel) bool {
	for _, assigned := range l.assigned {
		if assigned == label {
			return true
		}
	}
	return false
}

// isAgentIdentity reports whether a lowercased identity belongs to a bot
// participant that observes the room rather than taking part in the
// conversation.
func isAgentIdentity(lower string) bool {
	return strings.HasPrefix(lower, "audio-agent-") ||
		strings.HasPrefix(lower, "agent-simple-") ||
		strings.Contains(lower, "agent")
}
