package notify

// Event types the engine emits. These are the values accepted by the
// notify.events config list.
const (
	EventRiskTransition  = "risk_transition"
	EventCoreUnwind      = "core_unwind"
	EventGuardrailDenied = "guardrail_denied"
	EventOrderRejected   = "order_rejected"
	EventGapDetected     = "gap_detected"
	EventEngineStarted   = "engine_started"
	EventEngineStopped   = "engine_stopped"
)
