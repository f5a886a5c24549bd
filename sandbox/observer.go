package sandbox

import "github.com/tailored-agentic-units/warden/observability"

// Sandbox event types.
const (
	EventQueued       observability.EventType = "sandbox.queued"
	EventUnitStart    observability.EventType = "sandbox.unit.start"
	EventUnitTeardown observability.EventType = "sandbox.unit.teardown"
	EventUnitTimeout  observability.EventType = "sandbox.unit.timeout"
	EventEgressDenied observability.EventType = "sandbox.egress.denied"
)
