package dialogue

import (
	"strings"
	"testing"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

func TestPromptVerifiesEmailOnFile(t *testing.T) {
	p := NewPrompter("", "Acme")
	prompt := p.Build(PromptInput{
		Phase:  PhaseEmailCapture,
		Lead:   callstate.Lead{Name: "Dana", Email: "dana@acme.com"},
		Latest: "sure, send me times",
	})
	if !strings.Contains(prompt.User, "[LEAD EMAIL ON FILE]") || !strings.Contains(prompt.User, "dana@acme.com") {
		t.Fatalf("expected email verification block, got %q", prompt.User)
	}
	if !strings.Contains(prompt.System, "Current phase: email_capture.") {
		t.Fatalf("expected phase in system prompt")
	}
}

func TestPromptAsksForMissingEmail(t *testing.T) {
	prompt := NewPrompter("", "").Build(PromptInput{Phase: PhaseEmailCapture, Latest: "ok"})
	if !strings.Contains(prompt.User, "[NO EMAIL ON FILE]") {
		t.Fatalf("expected missing email block, got %q", prompt.User)
	}
}

func TestPromptConfidenceAndTranscript(t *testing.T) {
	p := NewPrompter("Alex", "Acme")
	in := PromptInput{
		Phase:      PhaseDiscovery,
		Transcript: []callstate.Utterance{agent("Hi"), prospect("hey")},
		Latest:     "hey",
	}
	if got := p.Build(in).User; !strings.Contains(got, "ASR confidence: n/a") {
		t.Fatalf("expected n/a confidence, got %q", got)
	}
	in.Confidence, in.HasConfidence = 0.912, true
	got := p.Build(in).User
	if !strings.Contains(got, "ASR confidence: 0.91") {
		t.Fatalf("expected formatted confidence, got %q", got)
	}
	if !strings.Contains(got, "Alex: Hi\nProspect: hey") {
		t.Fatalf("expected transcript lines, got %q", got)
	}
}

func TestPromptRegionalNoteAndScript(t *testing.T) {
	p := NewPrompter("", "")
	prompt := p.Build(PromptInput{
		Phase: PhasePitch,
		Lead: callstate.Lead{
			Region:  " nz ",
			Script:  "We help payroll teams close faster.",
			Persona: "Arabella",
			Company: "Keka",
		},
		Knowledge: "Customers cut payroll time by 40%.",
	})
	if !strings.Contains(prompt.User, "[ANZ LOCAL CONTEXT]") {
		t.Fatalf("expected ANZ block")
	}
	if !strings.Contains(prompt.User, "[RELEVANT CONTEXT]") {
		t.Fatalf("expected knowledge block")
	}
	if !strings.Contains(prompt.System, "You are Arabella") || !strings.Contains(prompt.System, "for Keka") {
		t.Fatalf("expected persona and company, got %q", prompt.System)
	}
	if !strings.Contains(prompt.System, "HR solutions") {
		t.Fatalf("expected HR framing for payroll script")
	}
}

func TestWantsKnowledge(t *testing.T) {
	if WantsKnowledge(PhaseRapport, "hello") {
		t.Fatalf("rapport should not retrieve")
	}
	if !WantsKnowledge(PhaseRapport, "what company is this?") {
		t.Fatalf("company questions should retrieve in any phase")
	}
	if !WantsKnowledge(PhaseConsultative, "we use jira") {
		t.Fatalf("consultative should retrieve")
	}
}
