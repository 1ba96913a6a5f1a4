package errorsx

import "errors"

// ReasonedError tags an error with the reason code logged and emitted with it.
// The first reason attached wins: wrapping an already reasoned error keeps the inner code,
// which is normally the more specific one (tts_rate_limit rather than tts_synthesize).
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// New returns a reasoned error with a plain message.
func New(reason ReasonCode, msg string) error {
	return ReasonedError{Err: errors.New(msg), Reason: reason}
}

func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if _, ok := reasonOf(err); ok {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason attached anywhere in err's chain, or ReasonUnknown.
func Reason(err error) ReasonCode {
	return ReasonOr(err, ReasonUnknown)
}

// ReasonOr is Reason with a caller-chosen default for untagged errors.
func ReasonOr(err error, fallback ReasonCode) ReasonCode {
	if r, ok := reasonOf(err); ok {
		return r
	}
	return fallback
}

func HasReason(err error, reason ReasonCode) bool {
	r, ok := reasonOf(err)
	return ok && r == reason
}

func reasonOf(err error) (ReasonCode, bool) {
	if err == nil {
		return "", false
	}
	var re ReasonedError
	if !errors.As(err, &re) {
		return "", false
	}
	return re.Reason, true
}
