package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

const (
	DefaultAgentName = "Alex"
	DefaultCompany   = "our company"
)

var (
	reANZ           = regexp.MustCompile(`(?i)^(AUSTRALIA|AU|NZ|NEW ZEALAND|ANZ)$`)
	reCompanyQuery  = regexp.MustCompile(`(?i)who (are|is) (you|this)|what company|where are you (based|located)|how big|funding|founded|headquarter|your company`)
	reHRScriptTerms = regexp.MustCompile(`(?i)\bhr\b|human resources|employee|recruitment|payroll|benefits|onboarding`)
)

// PromptInput carries everything the prompt is built from.
type PromptInput struct {
	Phase      Phase
	Lead       callstate.Lead
	Transcript []callstate.Utterance
	Latest     string
	Confidence float64
	// HasConfidence is false when no recognizer confidence is known.
	HasConfidence bool
	Knowledge     string
}

// Prompt is a system and user message pair for the completion call.
type Prompt struct {
	System string
	User   string
}

type phaseTemplate struct {
	goal     string
	behavior string
}

var phaseTemplates = map[Phase]phaseTemplate{
	PhaseRapport: {
		goal:     "Build a genuine human connection and get explicit permission before any discovery.",
		behavior: "Respond warmly to what they actually said, then ask if now is a good time. Do not ask discovery questions yet.",
	},
	PhaseDiscovery: {
		goal:     "Ask 2-3 focused questions, one at a time, to understand their setup and pain points.",
		behavior: "Ask one focused question. Do not pitch yet.",
	},
	PhaseConsultative: {
		goal:     "Validate their pain and share a relevant insight on how %s approaches it.",
		behavior: "Acknowledge their pain and educate. No product pitch yet.",
	},
	PhasePitch: {
		goal:     "Connect their pain to %s and propose a next step.",
		behavior: "Tie the solution to their pain and ask for a short demo or permission to send info.",
	},
	PhaseEmailCapture: {
		goal:     "Verify the email on file or collect it if missing. No more selling.",
		behavior: "Only handle the email and confirm next steps. Do not pitch.",
	},
	PhaseClosing: {
		goal:     "End the call gracefully with one short thank you and goodbye.",
		behavior: "Say one brief goodbye under 12 words. Ask nothing further.",
	},
}

// Prompter builds phase-specific prompts.
type Prompter struct {
	AgentName string
	Company   string
}

func NewPrompter(agentName, company string) *Prompter {
	if strings.TrimSpace(agentName) == "" {
		agentName = DefaultAgentName
	}
	if strings.TrimSpace(company) == "" {
		company = DefaultCompany
	}
	return &Prompter{AgentName: agentName, Company: company}
}

// IsHRScript reports whether a script targets HR buyers, which changes fallback wording.
func IsHRScript(script string) bool {
	return script != "" && reHRScriptTerms.MatchString(script)
}

// WantsKnowledge reports whether retrieval should run for this phase and turn.
func WantsKnowledge(phase Phase, latest string) bool {
	return phase.UsesKnowledge() || reCompanyQuery.MatchString(latest)
}

func (p *Prompter) Build(in PromptInput) Prompt {
	return Prompt{System: p.system(in), User: p.user(in)}
}

func (p *Prompter) agentName(lead callstate.Lead) string {
	if strings.TrimSpace(lead.Persona) != "" {
		return strings.TrimSpace(lead.Persona)
	}
	return p.AgentName
}

func (p *Prompter) company(lead callstate.Lead) string {
	if strings.TrimSpace(lead.Company) != "" {
		return strings.TrimSpace(lead.Company)
	}
	return p.Company
}

func (p *Prompter) system(in PromptInput) string {
	name := p.agentName(in.Lead)
	company := p.company(in.Lead)
	var b strings.Builder

	if script := strings.TrimSpace(in.Lead.Script); script != "" {
		fmt.Fprintf(&b, "You are %s, a friendly, emotionally intelligent SDR making an outbound sales call for %s.\n\n", name, company)
		b.WriteString("Your script/talking points:\n")
		b.WriteString(script)
		b.WriteString("\n\nUse this script as a guide but adapt naturally. Do not read it verbatim.\n")
		if IsHRScript(script) {
			b.WriteString("\nYou are calling about HR solutions. Focus on HR challenges and avoid IT service desk topics unless the prospect raises them.\n")
		}
	} else {
		fmt.Fprintf(&b, "You are %s, a friendly, emotionally intelligent SDR calling on behalf of %s.\n", name, company)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- This is a phone call. Keep replies under 25 words, in short spoken sentences.\n")
	b.WriteString("- One thought per reply. Do not repeat a question in new words.\n")
	fmt.Fprintf(&b, "- Never prefix replies with \"You:\" or \"%s:\" and never narrate actions.\n", name)
	b.WriteString("- Never say you are an AI. Do not assume the prospect is frustrated unless they say so.\n")
	b.WriteString("- If they say they are not interested, acknowledge it and offer to send useful info once before ending politely.\n")
	b.WriteString("- If they ask about the company, answer in one sentence and return to the current goal.\n")

	tpl := phaseTemplates[in.Phase]
	goal := tpl.goal
	if strings.Contains(goal, "%s") {
		goal = fmt.Sprintf(goal, company)
	}
	fmt.Fprintf(&b, "\nCurrent phase: %s.\nGoal: %s\nBehavior: %s\n", in.Phase, goal, tpl.behavior)
	b.WriteString("\nAnswer with a single spoken sentence or at most two short sentences. No bullet points.")
	return b.String()
}

func (p *Prompter) user(in PromptInput) string {
	confidence := "n/a"
	if in.HasConfidence {
		confidence = fmt.Sprintf("%.2f", in.Confidence)
	}
	summary := TranscriptText(in.Transcript, p.agentName(in.Lead))
	if summary == "" {
		summary = "(no prior conversation yet)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Latest prospect text (ASR confidence: %s):\n%q\n\nConversation so far:\n%s", confidence, in.Latest, summary)

	if in.Phase == PhaseEmailCapture {
		if email := strings.TrimSpace(in.Lead.Email); email != "" {
			fmt.Fprintf(&b, "\n\n[LEAD EMAIL ON FILE]\nThe lead's email is %s. Do not ask for it again. Verify it: \"I have your email as %s, is that still the best one to reach you?\"", email, email)
		} else {
			b.WriteString("\n\n[NO EMAIL ON FILE]\nAsk for the best email to reach them and confirm the spelling.")
		}
	}
	if reANZ.MatchString(strings.TrimSpace(in.Lead.Region)) {
		b.WriteString("\n\n[ANZ LOCAL CONTEXT]\nThis lead is in Australia/New Zealand. In consultative or pitch, mention one locally relevant event or report once.")
	}
	if k := strings.TrimSpace(in.Knowledge); k != "" {
		fmt.Fprintf(&b, "\n\n[RELEVANT CONTEXT]\n%s\n\nUse this if it helps answer them or support your point. Keep it conversational.", k)
	}
	fmt.Fprintf(&b, "\n\nReply with what you would say next, given we are in phase %q.", in.Phase)
	return b.String()
}

// TranscriptText renders the transcript as "Name: text" lines.
func TranscriptText(transcript []callstate.Utterance, agentName string) string {
	if agentName == "" {
		agentName = DefaultAgentName
	}
	lines := make([]string, 0, len(transcript))
	for _, u := range transcript {
		speaker := "Prospect"
		if u.Speaker == callstate.SpeakerAgent {
			speaker = agentName
		}
		lines = append(lines, speaker+": "+u.Text)
	}
	return strings.Join(lines, "\n")
}
