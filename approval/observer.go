package approval

import "github.com/tailored-agentic-units/warden/observability"

const (
	EventPending      observability.EventType = "approval.pending"
	EventResolved     observability.EventType = "approval.resolved"
	EventTrustHit     observability.EventType = "approval.trust.hit"
	EventLateDecision observability.EventType = "approval.decision.ignored"
	EventTrustFailed  observability.EventType = "approval.trust.error"
	EventAuditFailed  observability.EventType = "approval.audit.error"
)
