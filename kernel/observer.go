package kernel

import "github.com/tailored-agentic-units/warden/observability"

// Kernel event types emitted during the orchestration loop.
const (
	EventRunStart     observability.EventType = "kernel.run.start"
	EventRoundStart   observability.EventType = "kernel.round.start"
	EventToolCall     observability.EventType = "kernel.tool.call"
	EventToolComplete observability.EventType = "kernel.tool.complete"
	EventResponse     observability.EventType = "kernel.response"
	EventCapped       observability.EventType = "kernel.capped"
	EventAbort        observability.EventType = "kernel.abort"
	EventError        observability.EventType = "kernel.error"
)
