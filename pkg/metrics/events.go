package metrics

import "time"

// Event names emitted by the bridge.
const (
	EventSessionOpened      = "session_opened"
	EventSessionClosed      = "session_closed"
	EventTurnCompleted      = "turn_completed"
	EventTurnDeferred       = "turn_deferred"
	EventLLMFallback        = "llm_fallback"
	EventSynthesisFailed    = "synthesis_failed"
	EventRecognizerDegraded = "recognizer_degraded"
	EventPlaybackStarted    = "playback_started"
	EventPlaybackCompleted  = "playback_completed"
	EventPhaseChanged       = "phase_changed"
	EventRateLimit          = "rate_limit"
	EventBreakerOpen        = "breaker_open"
	EventBreakerClose       = "breaker_close"
	EventBreakerDenied      = "breaker_denied"
	EventMetricsDropped     = "metrics_dropped"
)

// Emit records a named event with tags on obs. A nil observer is ignored.
func Emit(obs Observer, name string, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}
