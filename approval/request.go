// Package approval suspends gated tool calls until an external decision
// arrives or the approval timeout elapses.
package approval

import (
	"time"

	"github.com/tailored-agentic-units/warden/tools"
)

// Decision is the state of an approval request's decision slot.
type Decision string

const (
	Pending  Decision = "pending"
	Approved Decision = "approved"
	Denied   Decision = "denied"
	Trusted  Decision = "trusted"
	Expired  Decision = "expired"
)

// ParseDecision accepts the external spellings of a decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved", "yes", "y":
		return Approved, nil
	case "deny", "denied", "no", "n":
		return Denied, nil
	case "trust", "trusted", "always", "a":
		return Trusted, nil
	default:
		return "", ErrInvalidDecision
	}
}

// Allows reports whether the decision permits dispatch.
func (d Decision) Allows() bool {
	return d == Approved || d == Trusted
}

// Request is a pending approval as shown to the decision surface.
type Request struct {
	ID        string     `json:"id"`
	Call      tools.Call `json:"-"`
	SessionID string     `json:"session_id"`
	Requester string     `json:"requester"`
	Tool      string     `json:"tool"`
	Preview   string     `json:"preview"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Resolution is the outcome of RequestApproval.
type Resolution struct {
	ID        string
	Decision  Decision
	Detail    string
	Suspended bool // false when trust covered the call without a request
}

// Err maps a refusal to its sentinel error.
func (r Resolution) Err() error {
	switch r.Decision {
	case Denied:
		return ErrApprovalDenied
	case Expired:
		return ErrApprovalExpired
	default:
		return nil
	}
}

type slot struct {
	req      Request
	done     chan struct{}
	decision Decision
	detail   string
}
