package knowledge

import (
	"context"
	"fmt"
	"regexp"

	"github.com/harunnryd/callbridge/pkg/dialogue"
)

// Objection is a recognizable pushback with a suggested way to handle it.
type Objection struct {
	Label    string
	Patterns []*regexp.Regexp
	Response string
	FollowUp string
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// DefaultObjections is the built-in objection handling guide.
func DefaultObjections() []Objection {
	return []Objection{
		{
			Label: "We already use ServiceNow/Jira/Freshservice",
			Patterns: patterns(`servicenow`, `jira`, `freshservice`, `zendesk`, `\bbmc\b`, `remedy`,
				`already (use|have|using)`, `we('re| are) (on|using)`, `works fine`, `our standard`,
				`just bought`, `current (tool|system)`),
			Response: "Most teams keep their existing ticketing tool and add an AI layer in Slack or Teams on top of it.",
			FollowUp: "How are employees raising requests today, portal or chat?",
		},
		{
			Label: "How is this different from a chatbot?",
			Patterns: patterns(`chatbot`, `chat bot`, `\bbots?\b`, `different from`, `just another`,
				`tried (chatbots?|bots?)`, `useless`, `gimmick`),
			Response: "Unlike scripted bots it reasons over your knowledge and permissions and can take actions, not just answer.",
			FollowUp: "What did the bot you tried get wrong?",
		},
		{
			Label: "We're not ready for AI yet",
			Patterns: patterns(`not ready for ai`, `ai (is|seems) (too )?risky`, `not mature enough`,
				`not looking at ai`, `ai is (overhyped|hype)`, `skeptical about ai`, `don't trust ai`,
				`organization isn't ready`),
			Response: "Plenty of teams start with one narrow workflow like password resets before expanding.",
			FollowUp: "Is there one repetitive request that eats most of your team's time?",
		},
		{
			Label: "What about security and compliance?",
			Patterns: patterns(`security`, `compliance`, `soc ?2`, `gdpr`, `hipaa`, `privacy`,
				`data (privacy|protection)`, `audit`, `regulated`),
			Response: "Responses respect existing permissions and every action is logged for audit.",
			FollowUp: "Which certifications does your security team usually ask for?",
		},
		{
			Label: "This sounds expensive",
			Patterns: patterns(`expensive`, `\bcost`, `budget`, `price|pricing`, `how much`, `afford`,
				`next fiscal`, `too much money`),
			Response: "Most of the case is ticket deflection, so it tends to pay for itself in agent hours.",
			FollowUp: "Roughly how many tickets does your team handle a month?",
		},
		{
			Label: "We don't have the resources to implement this",
			Patterns: patterns(`no (resources|bandwidth)`, `too busy`, `stretched (too )?thin`,
				`can't take on`, `don't have (time|bandwidth|resources)`, `no capacity`, `overwhelmed`),
			Response: "Setup is mostly connecting existing tools, and the vendor team handles the heavy lifting.",
			FollowUp: "Would a short pilot with one team be easier to fit in?",
		},
		{
			Label: "Our employees won't adopt it",
			Patterns: patterns(`won't adopt`, `adoption`, `people don't like change`, `nobody uses`,
				`no one uses`, `users won't`, `change management`),
			Response: "Adoption is easier when help lives in the chat tool people already use all day.",
			FollowUp: "Where do employees usually go first when something breaks?",
		},
		{
			Label: "What if it gives wrong answers?",
			Patterns: patterns(`wrong answers`, `accura`, `hallucin`, `ai makes mistakes`, `reliable`,
				`can we trust`, `incorrect`),
			Response: "Answers are grounded in your own documents and it hands off to a person when unsure.",
			FollowUp: "How current is your internal knowledge base today?",
		},
		{
			Label: "We need to see a demo first",
			Patterns: patterns(`demo`, `see it (first|in action)`, `show me`, `evaluate`, `need to see`,
				`before deciding`),
			Response: "A short tailored demo is the easiest way to judge fit.",
			FollowUp: "Would fifteen minutes next week work?",
		},
		{
			Label: "We're in the middle of other projects",
			Patterns: patterns(`other projects`, `bad timing`, `next quarter`, `call.*(back|later)`,
				`lot going on`, `other priorities`, `busy (right now|period)`, `not (a good|the right) time`),
			Response: "Totally fair, a quick look now can help with planning when things settle.",
			FollowUp: "When would be a better time to reconnect?",
		},
	}
}

// ObjectionIndex matches prospect text against known objections.
type ObjectionIndex struct {
	objections []Objection
}

func NewObjectionIndex(objections []Objection) *ObjectionIndex {
	if objections == nil {
		objections = DefaultObjections()
	}
	return &ObjectionIndex{objections: objections}
}

// Match returns the first objection whose patterns match text.
func (ix *ObjectionIndex) Match(text string) (Objection, bool) {
	for _, o := range ix.objections {
		for _, re := range o.Patterns {
			if re.MatchString(text) {
				return o, true
			}
		}
	}
	return Objection{}, false
}

// Retrieve renders a matched objection as an objection handling guide.
func (ix *ObjectionIndex) Retrieve(_ context.Context, query string, _ dialogue.Phase) (string, error) {
	o, ok := ix.Match(query)
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("Objection: %s\nSuggested response: %s\nFollow-up: %s", o.Label, o.Response, o.FollowUp), nil
}
