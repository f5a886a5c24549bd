// Package session manages per-requester conversation state for the
// orchestration loop: a bounded history window, the selected model, and the
// round counter of the active Run.
package session

import (
	"github.com/tailored-agentic-units/warden/core/protocol"
)

// Session holds an ordered, bounded sequence of conversation messages.
// Implementations must be safe for concurrent use.
type Session interface {
	// ID returns the unique session identifier.
	ID() string
	// Requester identifies who the session acts for. Trust records and notes
	// are scoped to it.
	Requester() string
	// AddMessage appends a message, trimming the oldest turns beyond the
	// window so the history never starts with an orphaned tool result.
	AddMessage(msg protocol.Message)
	// Messages returns a copy of the conversation history.
	Messages() []protocol.Message
	// Clear resets the conversation history.
	Clear()
	// Model returns the selected model; empty means the configured default.
	Model() string
	SetModel(model string)
	// Round returns the round counter of the active Run.
	Round() int
	// NextRound increments the round counter and returns the new value.
	NextRound() int
	// ResetRounds zeroes the round counter at the start of a Run.
	ResetRounds()
}
