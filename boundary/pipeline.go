// Package boundary sanitizes text at the three points where it crosses a
// trust boundary: inbound user turns, tool results, and outbound replies.
// Markup is normalized to plain text first, then secrets are redacted.
package boundary

import (
	"context"

	"github.com/tailored-agentic-units/warden/observability"
)

// Pass identifies the boundary a piece of text is crossing.
type Pass string

const (
	PassInbound    Pass = "inbound"
	PassToolResult Pass = "tool_result"
	PassOutbound   Pass = "outbound"
)

// Pipeline applies normalization and redaction. It is safe for concurrent
// use; its state is fixed at construction.
type Pipeline struct {
	redactor *Redactor
	observer observability.Observer
}

// New builds a Pipeline from configuration and the literal secret set.
// Unreadable rule files and unusable patterns are reported as
// boundary.pattern.error events and the fallback rule takes their place.
func New(ctx context.Context, cfg *Config, secrets map[string]string, observer observability.Observer) *Pipeline {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	var rules []Rule
	if !cfg.DisableDefaultRules {
		rules = append(rules, DefaultRules...)
	}

	fallback := false
	if cfg.RulesFile != "" {
		loaded, err := LoadRules(cfg.RulesFile)
		if err != nil {
			reportPatternError(ctx, observer, &PatternError{Label: cfg.RulesFile, Err: err})
			fallback = true
		}
		rules = append(rules, loaded...)
	}

	redactor, errs := newRedactor(rules, secrets, fallback)
	for _, err := range errs {
		reportPatternError(ctx, observer, err)
	}

	return &Pipeline{redactor: redactor, observer: observer}
}

// NewWithRedactor builds a Pipeline around an existing Redactor.
func NewWithRedactor(redactor *Redactor, observer observability.Observer) *Pipeline {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Pipeline{redactor: redactor, observer: observer}
}

func reportPatternError(ctx context.Context, observer observability.Observer, err error) {
	observability.Emit(ctx, observer, EventPatternError, observability.LevelWarning, "boundary.New",
		map[string]any{"error": err.Error(), "fallback": fallbackLabel})
}

// Redactor returns the pipeline's redactor, for use by log filtering.
func (p *Pipeline) Redactor() *Redactor {
	return p.redactor
}

// Sanitize normalizes markup and redacts secrets in text for the given pass.
func (p *Pipeline) Sanitize(ctx context.Context, text string, pass Pass) string {
	normalized := Normalize(text)
	out := p.redactor.Redact(normalized)

	observability.Emit(ctx, p.observer, EventPass, observability.LevelVerbose, "boundary.Pipeline", map[string]any{
		"pass":       string(pass),
		"in_length":  len(text),
		"out_length": len(out),
		"normalized": normalized != text,
		"redacted":   out != normalized,
	})

	return out
}
