package model

import (
	"fmt"
	"time"
)

// Config holds model endpoint and retry settings.
type Config struct {
	BaseURL string `json:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv      string         `json:"api_key_env,omitempty"`
	Model          string         `json:"model,omitempty"`
	Timeout        string         `json:"timeout,omitempty"`
	MaxRetries     int            `json:"max_retries,omitempty"`
	InitialBackoff string         `json:"initial_backoff,omitempty"`
	MaxBackoff     string         `json:"max_backoff,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// DefaultConfig returns the model defaults: three retries with exponential
// backoff capped at 30s.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:11434/v1",
		APIKeyEnv:      "WARDEN_MODEL_API_KEY",
		Timeout:        "120s",
		MaxRetries:     3,
		InitialBackoff: "1s",
		MaxBackoff:     "30s",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.APIKeyEnv != "" {
		c.APIKeyEnv = source.APIKeyEnv
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.Timeout != "" {
		c.Timeout = source.Timeout
	}
	if source.MaxRetries > 0 {
		c.MaxRetries = source.MaxRetries
	}
	if source.InitialBackoff != "" {
		c.InitialBackoff = source.InitialBackoff
	}
	if source.MaxBackoff != "" {
		c.MaxBackoff = source.MaxBackoff
	}
	if len(source.Options) > 0 {
		c.Options = source.Options
	}
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid model %s %q", name, value)
	}
	return d, nil
}
