package dialogue

import (
	"testing"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

func agent(text string) callstate.Utterance {
	return callstate.Utterance{Speaker: callstate.SpeakerAgent, Text: text}
}

func prospect(text string) callstate.Utterance {
	return callstate.Utterance{Speaker: callstate.SpeakerProspect, Text: text}
}

func infer(t *testing.T, transcript []callstate.Utterance) (Phase, string) {
	t.Helper()
	latest := ""
	if n := len(transcript); n > 0 && transcript[n-1].Speaker == callstate.SpeakerProspect {
		latest = transcript[n-1].Text
	}
	return NewEngine().Infer(transcript, latest)
}

func TestRulesOrder(t *testing.T) {
	want := []string{
		"email_confirmed",
		"meeting_agreed",
		"agent_asked_for_email",
		"email_in_turn",
		"explicit_interest",
		"awaiting_permission",
		"early_discovery",
		"needs_education",
		"late_pitch",
	}
	rules := Rules()
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Fatalf("rule %d: expected %s, got %s", i, want[i], r.Name)
		}
	}
}

func TestPermissionOnFirstTurnMovesToDiscoveryNextTurn(t *testing.T) {
	transcript := []callstate.Utterance{prospect("sure, go ahead")}
	if got, _ := infer(t, transcript); got != PhaseRapport {
		t.Fatalf("turn 1: expected rapport, got %s", got)
	}
	transcript = append(transcript,
		agent("Great. What tools do you use for IT support today?"),
		prospect("we use jira"))
	if got, rule := infer(t, transcript); got != PhaseDiscovery || rule != "early_discovery" {
		t.Fatalf("turn 3: expected discovery via early_discovery, got %s via %s", got, rule)
	}
}

func TestOpeningGreetingIsNotATurn(t *testing.T) {
	greeting := agent("Hi Dana, this is Alex from Acme. Do you have a quick minute?")
	greeting.Opening = true
	transcript := []callstate.Utterance{greeting, prospect("sure, go ahead")}
	if s := Observe(transcript, "sure, go ahead"); s.Turn != 1 || s.DiscoveryQuestions != 0 {
		t.Fatalf("expected the greeting to be skipped, got %+v", s)
	}
	if got, _ := infer(t, transcript); got != PhaseRapport {
		t.Fatalf("first prospect turn: expected rapport, got %s", got)
	}
	transcript = append(transcript,
		agent("Thanks, Dana."),
		prospect("we use jira"))
	if got, _ := infer(t, transcript); got != PhaseDiscovery {
		t.Fatalf("second prospect turn: expected discovery, got %s", got)
	}
}

func TestPermissionAtTurnTwo(t *testing.T) {
	transcript := []callstate.Utterance{prospect("hello")}
	if got, _ := infer(t, transcript); got != PhaseRapport {
		t.Fatalf("turn 1: expected rapport, got %s", got)
	}
	transcript = append(transcript,
		agent("Hey, this is Alex from Acme. Is now a good time?"),
		prospect("yeah go ahead"))
	if got, _ := infer(t, transcript); got != PhaseDiscovery {
		t.Fatalf("turn 3: expected discovery, got %s", got)
	}
}

func TestNoPermissionStaysInRapport(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("Hi, this is Alex."),
		prospect("who is this"),
		agent("Alex from Acme. Do you have a minute?"),
		prospect("what is this about"),
	}
	if got, rule := infer(t, transcript); got != PhaseRapport || rule != "awaiting_permission" {
		t.Fatalf("expected rapport via awaiting_permission, got %s via %s", got, rule)
	}
}

func TestClosingAfterEmailConfirmed(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("Hi, is now a good time?"),
		prospect("sure"),
		agent("What tools do you use today?"),
		prospect("servicenow"),
		agent("How do you handle onboarding?"),
		prospect("manually"),
		agent("What's the best email address to reach you?"),
		prospect("thanks, it's on file"),
	}
	if got, rule := infer(t, transcript); got != PhaseClosing || rule != "email_confirmed" {
		t.Fatalf("expected closing via email_confirmed, got %s via %s", got, rule)
	}
}

func TestMeetingAgreementNeedsSixTurns(t *testing.T) {
	early := []callstate.Utterance{
		agent("Hi, is now a good time?"),
		prospect("sure"),
		agent("Quick one about your service desk."),
		prospect("let's book a demo"),
	}
	if got, _ := infer(t, early); got != PhaseDiscovery {
		t.Fatalf("turn 4: expected discovery, got %s", got)
	}
	late := []callstate.Utterance{
		agent("Hi, is now a good time?"),
		prospect("sure"),
		agent("Quick one about your service desk."),
		prospect("it is fine"),
		agent("Makes sense."),
		prospect("let's book a demo"),
	}
	if got, rule := infer(t, late); got != PhaseEmailCapture || rule != "meeting_agreed" {
		t.Fatalf("turn 6: expected email_capture via meeting_agreed, got %s via %s", got, rule)
	}
}

func TestAgentAskedForEmail(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("What's the best email to reach you?"),
		prospect("hmm"),
	}
	if got, rule := infer(t, transcript); got != PhaseEmailCapture || rule != "agent_asked_for_email" {
		t.Fatalf("expected email_capture via agent_asked_for_email, got %s via %s", got, rule)
	}
}

func TestEmailInLatestTurn(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("Hi, this is Alex."),
		prospect("dana@example.com"),
	}
	if got, rule := infer(t, transcript); got != PhaseEmailCapture || rule != "email_in_turn" {
		t.Fatalf("expected email_capture via email_in_turn, got %s via %s", got, rule)
	}
}

func TestExplicitInterestPitch(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("What tools do you use?"),
		prospect("sure, jira"),
		agent("How do you route requests?"),
		prospect("slack"),
		agent("Other IT leaders are moving to agentic AI in Slack."),
		prospect("interesting, tell me more"),
	}
	if got, rule := infer(t, transcript); got != PhasePitch || rule != "explicit_interest" {
		t.Fatalf("expected pitch via explicit_interest, got %s via %s", got, rule)
	}
}

func TestConsultativeBeforeEducation(t *testing.T) {
	transcript := []callstate.Utterance{
		agent("What tools do you use?"),
		prospect("sure, jira"),
		agent("How do you route requests?"),
		prospect("slack mostly"),
		agent("Got it, and how's that going?"),
		prospect("we use email too"),
	}
	if got, rule := infer(t, transcript); got != PhaseConsultative || rule != "needs_education" {
		t.Fatalf("expected consultative via needs_education, got %s via %s", got, rule)
	}
}

func TestLatePitchAndDefault(t *testing.T) {
	base := []callstate.Utterance{
		agent("Hi"), prospect("sure"),
		agent("ok"), prospect("fine"),
		agent("ok"), prospect("fine"),
	}
	if got, rule := infer(t, base); got != PhaseDiscovery || rule != "default" {
		t.Fatalf("turn 6: expected default discovery, got %s via %s", got, rule)
	}
	long := append(append([]callstate.Utterance(nil), base...), agent("ok"), prospect("fine"))
	if got, rule := infer(t, long); got != PhasePitch || rule != "late_pitch" {
		t.Fatalf("turn 8: expected pitch via late_pitch, got %s via %s", got, rule)
	}
}

func TestClosingIsTerminal(t *testing.T) {
	e := NewEngine()
	got := e.Next(PhaseClosing, []callstate.Utterance{prospect("hello")}, "hello")
	if got != PhaseClosing {
		t.Fatalf("expected closing to stick, got %s", got)
	}
}
