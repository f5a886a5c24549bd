// Package model is the client side of the language-model collaborator: one
// provider-agnostic inference call with failures classified as transient or
// fatal.
package model

import (
	"context"
	"errors"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/core/response"
)

var (
	// ErrTransient marks failures worth retrying: transport errors, rate
	// limits, server errors, timeouts, and malformed bodies.
	ErrTransient = errors.New("transient model failure")
	// ErrFatal marks failures that no retry can fix, such as authentication
	// or an unknown model.
	ErrFatal = errors.New("fatal model failure")
)

// Request is one inference call.
type Request struct {
	Model    string
	Messages []protocol.Message
	Tools    []protocol.Tool
	Options  map[string]any
}

// Response is the assistant turn produced by the model.
type Response struct {
	Text         string
	ToolCalls    []protocol.ToolCall
	FinishReason string
	Usage        *response.TokenUsage
}

// Client performs inference.
type Client interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) Infer(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
