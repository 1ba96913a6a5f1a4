package dialogue

import "regexp"

// MaxTranscriptLen ends the call once the conversation runs this long.
const MaxTranscriptLen = 20

var reClosingLine = regexp.MustCompile(`(?i)\b(thanks for your time|talk to you soon|have a great day|have a good day|have a wonderful day|looking forward to our call|appreciate your interest|goodbye|bye now|take care|speak soon|catch you later)\b`)

// ShouldHangUp reports whether the agent's reply ends the call.
func ShouldHangUp(phase Phase, reply string, transcriptLen int) bool {
	if transcriptLen > MaxTranscriptLen {
		return true
	}
	return phase == PhaseClosing || reClosingLine.MatchString(reply)
}
