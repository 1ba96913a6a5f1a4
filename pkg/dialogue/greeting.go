package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

var reFirstSentence = regexp.MustCompile(`[\n.!?]`)

// Greeting is the agent's opening line: the first sentence of the script when it is long
// enough to stand alone, otherwise a generic introduction.
func Greeting(lead callstate.Lead, agentName, company string) string {
	if script := strings.TrimSpace(lead.Script); script != "" {
		first := strings.TrimSpace(reFirstSentence.Split(script, 2)[0])
		if len(first) > 10 {
			return first
		}
	}
	if p := strings.TrimSpace(lead.Persona); p != "" {
		agentName = p
	}
	if agentName == "" {
		agentName = DefaultAgentName
	}
	if c := strings.TrimSpace(lead.Company); c != "" {
		company = c
	}
	if company == "" {
		company = DefaultCompany
	}
	return fmt.Sprintf("Hi, this is %s from %s. How are you doing today?", agentName, company)
}
