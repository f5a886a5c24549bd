package decision

import "github.com/tailored-agentic-units/warden/observability"

const (
	EventDecision     observability.EventType = "decision.received"
	EventTrustRevoked observability.EventType = "decision.trust.revoked"
)
