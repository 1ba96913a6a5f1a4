package dialogue

import (
	"regexp"
	"strings"
)

// DefaultMaxReplyChars is the reply ceiling applied by Sanitize.
const DefaultMaxReplyChars = 500

const (
	clarifyIT = "Thanks for sharing that. I'd love to understand how your current IT setup feels day to day."
	clarifyHR = "Thanks for sharing that. I'd love to understand how your current HR processes are working."
)

var (
	reSpeakerPrefix = regexp.MustCompile(`(?i)^(alex|you|prospect|agent)\s*[:\-]\s*`)
	reFrustration   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)it sounds like you're frustrated[^.?!]*[.?!]?`),
		regexp.MustCompile(`(?i)you sound(?: a bit)? frustrated[^.?!]*[.?!]?`),
		regexp.MustCompile(`(?i)i can (?:hear|tell) you're frustrated[^.?!]*[.?!]?`),
	}
	rePitchSentences = []*regexp.Regexp{
		regexp.MustCompile(`(?i)atomicwork is an[^.?!]*[.?!]?`),
		regexp.MustCompile(`(?i)atomicwork can[^.?!]*[.?!]?`),
	}
	reContextTail = regexp.MustCompile(`(?i)\s+and just to share context[^.?!]*$`)
	reSpaces      = regexp.MustCompile(`\s{2,}`)
)

// ClarifyingFallback is the neutral line used when nothing usable is left.
func ClarifyingFallback(hr bool) string {
	if hr {
		return clarifyHR
	}
	return clarifyIT
}

// Sanitizer cleans model replies before synthesis.
type Sanitizer struct {
	MaxChars int
	HR       bool
}

func (s Sanitizer) Sanitize(raw string, phase Phase) string {
	return sanitize(raw, phase, s.MaxChars, s.HR)
}

// Sanitize applies the reply clean-up rules with the default ceiling.
func Sanitize(raw string, phase Phase) string {
	return sanitize(raw, phase, DefaultMaxReplyChars, false)
}

func sanitize(raw string, phase Phase, maxChars int, hr bool) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxReplyChars
	}
	reply := strings.TrimSpace(raw)
	if reply == "" {
		return ClarifyingFallback(hr)
	}
	reply = strings.TrimSpace(reSpeakerPrefix.ReplaceAllString(reply, ""))
	for _, re := range reFrustration {
		reply = re.ReplaceAllString(reply, "")
	}
	reply = strings.TrimSpace(reply)

	if phase == PhaseEmailCapture {
		for _, re := range rePitchSentences {
			reply = strings.TrimSpace(re.ReplaceAllString(reply, ""))
		}
		reply = strings.TrimSpace(reContextTail.ReplaceAllString(reply, ""))
	}
	reply = reSpaces.ReplaceAllString(reply, " ")
	reply = truncate(reply, maxChars)

	if reply == "" {
		return ClarifyingFallback(hr)
	}
	return reply
}

// truncate cuts at the last sentence terminator inside the ceiling. Without one the
// reply is cut at the last word boundary and marked as trailing off.
func truncate(reply string, maxChars int) string {
	runes := []rune(reply)
	if len(runes) <= maxChars {
		return reply
	}
	cut := string(runes[:maxChars])
	if idx := strings.LastIndexAny(cut, ".?!"); idx >= 0 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
