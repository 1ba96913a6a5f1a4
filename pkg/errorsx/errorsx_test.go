package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMGenerate)
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("expected reason %s, got %s", ReasonLLMGenerate, Reason(err))
	}
	if !HasReason(err, ReasonLLMGenerate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("lookup call: %w", Wrap(assertErr{}, ReasonCallStateLookup))
	if !HasReason(err, ReasonCallStateLookup) {
		t.Fatalf("expected reason through fmt wrapping")
	}
	if !errors.As(err, new(assertErr)) {
		t.Fatalf("expected original error reachable")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestReasonOrFallsBackForUntaggedErrors(t *testing.T) {
	if got := ReasonOr(errors.New("plain"), ReasonLLMGenerate); got != ReasonLLMGenerate {
		t.Fatalf("expected fallback reason, got %s", got)
	}
	if got := ReasonOr(New(ReasonTransportSend, "full"), ReasonLLMGenerate); got != ReasonTransportSend {
		t.Fatalf("expected attached reason, got %s", got)
	}
	if HasReason(nil, ReasonUnknown) {
		t.Fatalf("nil error should carry no reason")
	}
}
