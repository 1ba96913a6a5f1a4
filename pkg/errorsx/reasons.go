package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect   ReasonCode = "stt_connect"
	ReasonSTTSend      ReasonCode = "stt_send"
	ReasonSTTRateLimit ReasonCode = "stt_rate_limit"

	ReasonTTSConnect    ReasonCode = "tts_connect"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit  ReasonCode = "tts_rate_limit"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMTimeout     ReasonCode = "llm_timeout"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonLiveConnect ReasonCode = "live_connect"
	ReasonLiveSend    ReasonCode = "live_send"

	ReasonCallStateLookup      ReasonCode = "callstate_lookup"
	ReasonCallStateUnknownCall ReasonCode = "callstate_unknown_call"

	ReasonEventsPublish ReasonCode = "events_publish"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
