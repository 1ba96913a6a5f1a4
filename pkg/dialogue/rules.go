package dialogue

import (
	"regexp"
	"strings"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

var (
	rePermission   = regexp.MustCompile(`(?i)yes|sure|yeah|go ahead|good time|let'?s talk|sounds good`)
	reDiscoveryAsk = regexp.MustCompile(`(?i)what tools|how do you|how'?s|where do employees|what's your biggest|how are employees|tell me about`)
	reEducated     = regexp.MustCompile(`(?i)itil|agentic ai|meeting employees where they are|slack.*teams|industry trend|other it leaders`)
	reEmailOffered = regexp.MustCompile(`(?i)what'?s your email|email address|spelled|reach out.*monday|send.*confirmation`)
	reAskedEmail   = regexp.MustCompile(`(?i)best email|your email|email to reach|have your email as`)
	reMeetingNow   = regexp.MustCompile(`(?i)let'?s meet|meet next week|schedule|book|demo|send.*times|tuesday|wednesday|thursday|friday|monday`)
	reMeetingPast  = regexp.MustCompile(`(?i)let'?s meet|meet next week|schedule|book|demo|send.*times`)
	reAcknowledged = regexp.MustCompile(`(?i)sure|sounds good|yeah|okay|right|thank you|thanks`)

	reEmailPhrase  = regexp.MustCompile(`(?i)my email|email is|email address|it'?s [a-z]+@|it'?s [a-z]+ at`)
	reEmailSend    = regexp.MustCompile(`(?i)reach out.*email|send.*email|here'?s my email`)
	reEmailAddress = regexp.MustCompile(`(?i)^[a-z0-9@._-]+@[a-z0-9.-]+$`)
	reSpokenEmail  = regexp.MustCompile(`(?i)^[a-z]+ at [a-z]+`)

	reInterestDemo    = regexp.MustCompile(`(?i)yes.*demo|sure.*demo|sounds good.*demo|let'?s do.*demo`)
	reInterestExplore = regexp.MustCompile(`(?i)worth exploring|interested|tell me more|let'?s catch up|send.*info`)
	reInterestMeet    = regexp.MustCompile(`(?i)next week.*meet|schedule.*demo|book.*time`)
)

// Signals are the facts the phase rules read. They are derived once per turn from the
// transcript and the latest prospect text.
type Signals struct {
	Turn               int
	PermissionGranted  bool
	DiscoveryQuestions int
	Educated           bool
	EmailOffered       bool
	AgentAskedForEmail bool
	MeetingAgreed      bool
	EmailConfirmed     bool
	EmailInLatest      bool
	Interested         bool
}

// Observe computes Signals. The turn count is the number of transcript entries after
// the opening greeting.
func Observe(transcript []callstate.Utterance, latest string) Signals {
	text := strings.ToLower(latest)
	var s Signals
	for _, u := range transcript {
		if u.Opening {
			continue
		}
		s.Turn++
		switch u.Speaker {
		case callstate.SpeakerProspect:
			if rePermission.MatchString(u.Text) {
				s.PermissionGranted = true
			}
			if reMeetingPast.MatchString(u.Text) {
				s.MeetingAgreed = true
			}
			if reAcknowledged.MatchString(u.Text) {
				s.EmailConfirmed = true
			}
		case callstate.SpeakerAgent:
			if reDiscoveryAsk.MatchString(u.Text) {
				s.DiscoveryQuestions++
			}
			if reEducated.MatchString(u.Text) {
				s.Educated = true
			}
			if reEmailOffered.MatchString(u.Text) {
				s.EmailOffered = true
			}
			if reAskedEmail.MatchString(u.Text) {
				s.AgentAskedForEmail = true
			}
		}
	}
	if reMeetingNow.MatchString(text) {
		s.MeetingAgreed = true
	}
	trimmed := strings.TrimSpace(text)
	s.EmailInLatest = reEmailPhrase.MatchString(text) ||
		reEmailSend.MatchString(text) ||
		reEmailAddress.MatchString(trimmed) ||
		(s.Turn >= 5 && reSpokenEmail.MatchString(text))
	s.Interested = reInterestDemo.MatchString(text) ||
		reInterestExplore.MatchString(text) ||
		reInterestMeet.MatchString(text)
	return s
}

// Rule maps a predicate over Signals to a phase.
type Rule struct {
	Name  string
	When  func(Signals) bool
	Phase Phase
}

// Rules returns the phase rules in evaluation order. The first match wins.
func Rules() []Rule {
	return []Rule{
		{
			Name:  "email_confirmed",
			When:  func(s Signals) bool { return s.EmailOffered && s.EmailConfirmed && s.Turn >= 8 },
			Phase: PhaseClosing,
		},
		{
			Name:  "meeting_agreed",
			When:  func(s Signals) bool { return s.MeetingAgreed && s.Turn >= 6 },
			Phase: PhaseEmailCapture,
		},
		{
			Name:  "agent_asked_for_email",
			When:  func(s Signals) bool { return s.AgentAskedForEmail },
			Phase: PhaseEmailCapture,
		},
		{
			Name:  "email_in_turn",
			When:  func(s Signals) bool { return s.EmailInLatest },
			Phase: PhaseEmailCapture,
		},
		{
			Name:  "explicit_interest",
			When:  func(s Signals) bool { return s.DiscoveryQuestions >= 2 && s.Educated && s.Interested },
			Phase: PhasePitch,
		},
		{
			Name:  "awaiting_permission",
			When:  func(s Signals) bool { return s.Turn <= 1 || !s.PermissionGranted },
			Phase: PhaseRapport,
		},
		{
			Name:  "early_discovery",
			When:  func(s Signals) bool { return s.PermissionGranted && s.Turn >= 2 && s.Turn <= 5 },
			Phase: PhaseDiscovery,
		},
		{
			Name:  "needs_education",
			When:  func(s Signals) bool { return s.DiscoveryQuestions >= 2 && !s.Educated && s.Turn >= 6 },
			Phase: PhaseConsultative,
		},
		{
			Name:  "late_pitch",
			When:  func(s Signals) bool { return s.Turn >= 8 || (s.DiscoveryQuestions >= 3 && s.Educated) },
			Phase: PhasePitch,
		},
	}
}

// Engine resolves the next phase from the rule table.
type Engine struct {
	rules []Rule
}

func NewEngine() *Engine {
	return &Engine{rules: Rules()}
}

// Infer evaluates the rules and reports the matching rule name. The fallback is discovery.
func (e *Engine) Infer(transcript []callstate.Utterance, latest string) (Phase, string) {
	s := Observe(transcript, latest)
	for _, r := range e.rules {
		if r.When(s) {
			return r.Phase, r.Name
		}
	}
	return PhaseDiscovery, "default"
}

// Next returns the phase for the coming reply. Once closing is reached it never changes.
func (e *Engine) Next(current Phase, transcript []callstate.Utterance, latest string) Phase {
	if current.Terminal() {
		return current
	}
	p, _ := e.Infer(transcript, latest)
	return p
}
