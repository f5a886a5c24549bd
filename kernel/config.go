package kernel

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/audit"
	"github.com/tailored-agentic-units/warden/boundary"
	"github.com/tailored-agentic-units/warden/memory"
	"github.com/tailored-agentic-units/warden/model"
	"github.com/tailored-agentic-units/warden/sandbox"
	"github.com/tailored-agentic-units/warden/session"
	"github.com/tailored-agentic-units/warden/tools"
)

const (
	defaultMaxRounds    = 10
	defaultResultLimit  = 4000
	defaultOutputBudget = 32000
	defaultObserver     = "slog"
)

// Config holds initialization parameters for all kernel subsystems.
// Each subsystem section delegates to that subsystem's config-driven constructor.
type Config struct {
	Model    model.Config    `json:"model"`
	Session  session.Config  `json:"session"`
	Memory   memory.Config   `json:"memory"`
	Tools    tools.Config    `json:"tools"`
	Approval approval.Config `json:"approval"`
	Sandbox  sandbox.Config  `json:"sandbox"`
	Boundary boundary.Config `json:"boundary"`
	Audit    audit.Config    `json:"audit"`

	MaxRounds    int    `json:"max_rounds,omitempty"`
	ResultLimit  int    `json:"result_limit,omitempty"`
	OutputBudget int    `json:"output_budget,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Observer     string `json:"observer,omitempty"`

	// Secrets maps credential names to values. SecretEnv maps credential
	// names to the environment variables holding them.
	Secrets   map[string]string `json:"secrets,omitempty"`
	SecretEnv map[string]string `json:"secret_env,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Model:        model.DefaultConfig(),
		Session:      session.DefaultConfig(),
		Memory:       memory.DefaultConfig(),
		Tools:        tools.DefaultConfig(),
		Approval:     approval.DefaultConfig(),
		Sandbox:      sandbox.DefaultConfig(),
		Boundary:     boundary.DefaultConfig(),
		Audit:        audit.DefaultConfig(),
		MaxRounds:    defaultMaxRounds,
		ResultLimit:  defaultResultLimit,
		OutputBudget: defaultOutputBudget,
		Observer:     defaultObserver,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Model.Merge(&source.Model)
	c.Session.Merge(&source.Session)
	c.Memory.Merge(&source.Memory)
	c.Tools.Merge(&source.Tools)
	c.Approval.Merge(&source.Approval)
	c.Sandbox.Merge(&source.Sandbox)
	c.Boundary.Merge(&source.Boundary)
	c.Audit.Merge(&source.Audit)

	if source.MaxRounds > 0 {
		c.MaxRounds = source.MaxRounds
	}
	if source.ResultLimit > 0 {
		c.ResultLimit = source.ResultLimit
	}
	if source.OutputBudget > 0 {
		c.OutputBudget = source.OutputBudget
	}
	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}

	if len(source.Secrets) > 0 {
		if c.Secrets == nil {
			c.Secrets = make(map[string]string, len(source.Secrets))
		}
		maps.Copy(c.Secrets, source.Secrets)
	}
	if len(source.SecretEnv) > 0 {
		if c.SecretEnv == nil {
			c.SecretEnv = make(map[string]string, len(source.SecretEnv))
		}
		maps.Copy(c.SecretEnv, source.SecretEnv)
	}
}

// ResolveSecrets returns the secret set: literal Secrets overlaid with the
// values of the SecretEnv variables that are set, plus the model API key.
// Nothing else from the environment is included.
func (c *Config) ResolveSecrets(getenv func(string) string) map[string]string {
	secrets := make(map[string]string, len(c.Secrets)+len(c.SecretEnv)+1)
	maps.Copy(secrets, c.Secrets)
	for name, env := range c.SecretEnv {
		if v := getenv(env); v != "" {
			secrets[name] = v
		}
	}
	if c.Model.APIKeyEnv != "" {
		if v := getenv(c.Model.APIKeyEnv); v != "" {
			secrets["model_api_key"] = v
		}
	}
	return secrets
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
