// Package response parses OpenAI-compatible chat completion bodies returned by
// the model endpoint.
package response

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/warden/core/protocol"
)

// ErrEmptyChoices is returned when a body decodes but carries no choices.
var ErrEmptyChoices = errors.New("response has no choices")

// TokenUsage reports token accounting for a single completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChoiceMessage is the assistant message inside a completion choice.
type ChoiceMessage struct {
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// ToolsResponse is a chat completion that may request tool calls.
type ToolsResponse struct {
	ID      string      `json:"id,omitempty"`
	Object  string      `json:"object,omitempty"`
	Created int64       `json:"created,omitempty"`
	Model   string      `json:"model"`
	Choices []Choice    `json:"choices"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// First returns the first choice or ErrEmptyChoices.
func (r *ToolsResponse) First() (Choice, error) {
	if len(r.Choices) == 0 {
		return Choice{}, ErrEmptyChoices
	}
	return r.Choices[0], nil
}

// ParseTools parses a tools response from JSON bytes.
func ParseTools(body []byte) (*ToolsResponse, error) {
	var response ToolsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}
	return &response, nil
}
