package dialogue

import (
	"testing"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

func TestGreetingUsesScriptOpening(t *testing.T) {
	lead := callstate.Lead{Script: "Hi Dana, this is Sam from Acme calling about onboarding. Do you have a minute?"}
	got := Greeting(lead, "", "")
	if got != "Hi Dana, this is Sam from Acme calling about onboarding" {
		t.Fatalf("unexpected greeting %q", got)
	}
}

func TestGreetingFallsBackForShortScript(t *testing.T) {
	got := Greeting(callstate.Lead{Script: "Hello.", Company: "Acme"}, "Alex", "")
	if got != "Hi, this is Alex from Acme. How are you doing today?" {
		t.Fatalf("unexpected greeting %q", got)
	}
}
