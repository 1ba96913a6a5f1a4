package dialogue

// Phase is the stage of the sales conversation.
type Phase string

const (
	PhaseRapport      Phase = "rapport"
	PhaseDiscovery    Phase = "discovery"
	PhaseConsultative Phase = "consultative"
	PhasePitch        Phase = "pitch"
	PhaseEmailCapture Phase = "email_capture"
	PhaseClosing      Phase = "closing"
)

func (p Phase) String() string { return string(p) }

// Terminal reports whether no further phase changes are allowed.
func (p Phase) Terminal() bool { return p == PhaseClosing }

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRapport, PhaseDiscovery, PhaseConsultative, PhasePitch, PhaseEmailCapture, PhaseClosing:
		return true
	default:
		return false
	}
}

// UsesKnowledge reports whether retrieved context is attached to prompts in this phase.
func (p Phase) UsesKnowledge() bool {
	return p == PhaseDiscovery || p == PhaseConsultative || p == PhasePitch
}
