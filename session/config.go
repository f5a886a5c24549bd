package session

const defaultWindow = 20

// Config holds session initialization parameters.
type Config struct {
	// Window is the maximum number of history messages kept per session.
	Window int `json:"window,omitempty"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{Window: defaultWindow}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Window > 0 {
		c.Window = source.Window
	}
}

// New creates a Session from configuration. Currently returns an in-memory session.
func New(cfg *Config, requester string) (Session, error) {
	return NewMemorySession(requester, cfg.Window), nil
}
