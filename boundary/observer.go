package boundary

import "github.com/tailored-agentic-units/warden/observability"

// Boundary event types.
const (
	EventPass         observability.EventType = "boundary.pass"
	EventPatternError observability.EventType = "boundary.pattern.error"
)
