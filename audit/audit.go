// Package audit records every approval decision and tool dispatch as an
// append-only event stream.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audit event.
type Kind string

const (
	KindApproval Kind = "approval"
	KindDispatch Kind = "dispatch"
	KindTrust    Kind = "trust"
	KindAbort    Kind = "abort"
)

// Event is an immutable audit record.
type Event struct {
	ID            string        `json:"id"`
	Time          time.Time     `json:"time"`
	Kind          Kind          `json:"kind"`
	SessionID     string        `json:"session_id,omitempty"`
	Requester     string        `json:"requester,omitempty"`
	Tool          string        `json:"tool,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Outcome       string        `json:"outcome"`
	Detail        string        `json:"detail,omitempty"`
	Elapsed       time.Duration `json:"elapsed,omitempty"`
}

// Sink appends events. Implementations make each Append atomic and keep
// appends in call order.
type Sink interface {
	Append(ctx context.Context, e Event) error
	Close() error
}

// Stamp fills ID and Time when unset.
func Stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}
