package memory

// Config holds store initialization parameters.
type Config struct {
	Path string `json:"path,omitempty"` // FileStore root; empty selects a process-local store.
}

// DefaultConfig returns the default memory configuration.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Path != "" {
		c.Path = source.Path
	}
}

// NewStore creates a Store from configuration.
func NewStore(cfg *Config) Store {
	if cfg.Path == "" {
		return NewMapStore()
	}
	return NewFileStore(cfg.Path)
}
