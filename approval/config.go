package approval

import (
	"fmt"
	"time"
)

const (
	defaultTimeout      = 120 * time.Second
	defaultPreviewLimit = 200
)

// Config holds approval gate parameters.
type Config struct {
	Timeout string `json:"timeout,omitempty"`
	// BindArguments additionally binds trust records to the argument shape of
	// the approving call. A trusted tool called with a different shape is
	// gated again.
	BindArguments bool `json:"bind_arguments,omitempty"`
	PreviewLimit  int  `json:"preview_limit,omitempty"`
}

// DefaultConfig returns the approval defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      defaultTimeout.String(),
		PreviewLimit: defaultPreviewLimit,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Timeout != "" {
		c.Timeout = source.Timeout
	}
	if source.BindArguments {
		c.BindArguments = true
	}
	if source.PreviewLimit > 0 {
		c.PreviewLimit = source.PreviewLimit
	}
}

// TimeoutDuration parses Timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: timeout %q", ErrInvalidConfig, c.Timeout)
	}
	return d, nil
}
