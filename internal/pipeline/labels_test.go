package pipeline

import (
	"testing"

	"github.com/crosstalkhq/crosstalk/pkg/types"
)

func TestLabeler_ExplicitMapping(t *testing.T) {
	l := NewLabeler(LabelerConfig{
		Roles: map[string]types.SpeakerLabel{
			"alice": types.LabelRecruiter,
			"bob":   types.LabelCandidate,
		},
	})

	if got := l.Label("alice"); got != types.LabelRecruiter {
		t.Errorf("alice = %q, want recruiter", got)
	}
	if got := l.Label("bob"); got != types.LabelCandidate {
		t.Errorf("bob = %q, want candidate", got)
	}
}

func TestLabeler_AgentDetection(t *testing.T) {
	l := NewLabeler(LabelerConfig{})
	for _, identity := range []string{
		"audio-agent-42",
		"Agent-Simple-1",
		"transcription-agent",
	} {
		if got := l.Label(identity); got != types.LabelAgent {
			t.Errorf("Label(%q) = %q, want agent", identity, got)
		}
	}
}

func TestLabeler_AgentBeatsExplicitMapping(t *testing.T) {
	// An agent identity is never a conversation party, even when mapped.
	l := NewLabeler(LabelerConfig{
		Roles: map[string]types.SpeakerLabel{
			"audio-agent-7": types.LabelRecruiter,
		},
	})
	if got := l.Label("audio-agent-7"); got != types.LabelAgent {
		t.Errorf("got %q, want agent", got)
	}
}

func TestLabeler_SubstringFallback(t *testing.T) {
	l := NewLabeler(LabelerConfig{})
	if got := l.Label("interviewer-jane"); got != types.LabelRecruiter {
		t.Errorf("got %q, want recruiter", got)
	}
	if got := l.Label("candidate-042"); got != types.LabelCandidate {
		t.Errorf("got %q, want candidate", got)
	}
}

func TestLabeler_CustomHints(t *testing.T) {
	l := NewLabeler(LabelerConfig{RecruiterHint: "panel", CandidateHint: "applicant"})
	if got := l.Label("panel-member"); got != types.LabelRecruiter {
		t.Errorf("got %q, want recruiter", got)
	}
	if got := l.Label("applicant-99"); got != types.LabelCandidate {
		t.Errorf("got %q, want candidate", got)
	}
}

func TestLabeler_RoleBalancing(t *testing.T) {
	l := NewLabeler(LabelerConfig{})
	// Neither identity matches a hint: first becomes recruiter, second
	// candidate.
	if got := l.Label("user-1"); got != types.LabelRecruiter {
		t.Errorf("first unmatched = %q, want recruiter", got)
	}
	if got := l.Label("user-2"); got != types.LabelCandidate {
		t.Errorf("second unmatched = %q, want candidate", got)
	}
	if got := l.Label("user-3"); got != types.LabelCandidate {
		t.Errorf("third unmatched = %q, want candidate", got)
	}
}

func TestLabeler_Stable(t *testing.T) {
	l := NewLabeler(LabelerConfig{})
	first := l.Label("user-1")
	for i := 0; i < 3; i++ {
		if got := l.Label("user-1"); got != first {
			t.Fatalf("label changed from %q to %q on repeat call", first, got)
		}
	}
}
