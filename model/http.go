package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/core/response"
)

const maxBodyBytes = 8 << 20

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	options map[string]any
	http    *http.Client
}

// NewHTTPClient creates a client from cfg. apiKey may be empty for local
// endpoints.
func NewHTTPClient(cfg Config, apiKey string) (*HTTPClient, error) {
	timeout, err := parseDuration("timeout", cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model base_url is required")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  apiKey,
		model:   cfg.Model,
		options: cfg.Options,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type wireTool struct {
	Type     string        `json:"type"`
	Function protocol.Tool `json:"function"`
}

func (c *HTTPClient) marshal(req Request) ([]byte, error) {
	body := make(map[string]any, len(c.options)+len(req.Options)+3)
	for k, v := range c.options {
		body[k] = v
	}
	for k, v := range req.Options {
		body[k] = v
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	body["model"] = model
	body["messages"] = req.Messages

	if len(req.Tools) > 0 {
		tools := make([]wireTool, len(req.Tools))
		for i, t := range req.Tools {
			if t.Parameters == nil {
				t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools[i] = wireTool{Type: "function", Function: t}
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

func (c *HTTPClient) Infer(ctx context.Context, req Request) (*Response, error) {
	payload, err := c.marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrFatal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, body)
	}

	parsed, err := response.ParseTools(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	choice, err := parsed.First()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return &Response{
		Text:         choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

func classify(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	kind := ErrFatal
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		kind = ErrTransient
	}
	return fmt.Errorf("%w: status %d: %s", kind, status, detail)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
