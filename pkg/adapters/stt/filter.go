package stt

import (
	"strings"
	"unicode"
)

// MinConfidence is the lowest recognizer confidence accepted for a final fragment.
const MinConfidence = 0.7

// Accept applies the acceptance filter to a fragment: only final results with enough
// confidence and at least two characters of real text pass. The returned fragment has
// normalized whitespace.
func Accept(f Fragment) (Fragment, bool) {
	if !f.Final {
		return f, false
	}
	if f.Confidence < MinConfidence {
		return f, false
	}
	text := strings.Join(strings.Fields(f.Text), " ")
	if len([]rune(text)) < 2 || !hasWordChar(text) {
		return f, false
	}
	f.Text = text
	return f, true
}

// Filter wraps h so it only sees accepted fragments.
func Filter(h Handler) Handler {
	return func(f Fragment) {
		if accepted, ok := Accept(f); ok {
			h(accepted)
		}
	}
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
