package tools

import (
	"encoding/json"
	"fmt"

	"github.com/tailored-agentic-units/warden/core/protocol"
)

// Call is one requested tool invocation, resolved against the registry.
// It is built once from the model's response and never mutated.
type Call struct {
	ID                string
	Name              string
	Args              json.RawMessage
	RequiresApproval  bool
	RequiresIsolation bool
	SessionID         string
	Requester         string
}

// NewCall resolves a model tool call against the registry.
func (r *Registry) NewCall(tc protocol.ToolCall, sessionID, requester string) (Call, error) {
	def, exists := r.Lookup(tc.Name)
	if !exists {
		return Call{}, fmt.Errorf("%w: %s", ErrNotFound, tc.Name)
	}
	return Call{
		ID:                tc.ID,
		Name:              tc.Name,
		Args:              tc.RawArguments(),
		RequiresApproval:  def.RequiresApproval,
		RequiresIsolation: def.Isolated(),
		SessionID:         sessionID,
		Requester:         requester,
	}, nil
}
