// Package protocol defines the conversation and tool wire types shared by the
// mediation engine, the model client, and the sandbox transport.
package protocol

import "encoding/json"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model. Fields are flat for
// use across the engine; JSON encoding uses the nested provider format
// ({type, function: {name, arguments}}).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

// NewToolCall creates a ToolCall from its flat fields.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Name: name, Arguments: arguments}
}

func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireToolCall{
		ID:       tc.ID,
		Type:     "function",
		Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
	})
}

// UnmarshalJSON accepts both the nested provider format and the flat
// {id, name, arguments} form.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var nested wireToolCall
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}

	if nested.Function.Name != "" {
		*tc = ToolCall{ID: nested.ID, Name: nested.Function.Name, Arguments: nested.Function.Arguments}
		return nil
	}

	type flat ToolCall
	return json.Unmarshal(data, (*flat)(tc))
}

// RawArguments returns the arguments as a JSON document. An empty argument
// string is treated as an empty object.
func (tc ToolCall) RawArguments() json.RawMessage {
	if tc.Arguments == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(tc.Arguments)
}

// Message is a single conversation turn. Assistant turns may carry ToolCalls;
// tool turns carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// NewToolMessage creates the tool-result turn answering callID.
func NewToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
