package tools

// Config holds tool registry configuration.
type Config struct {
	// Manifest is the YAML file declaring sandboxed tools.
	Manifest string `json:"manifest,omitempty"`
	// FileRoot confines the read_file builtin. Empty disables read_file.
	FileRoot string `json:"file_root,omitempty"`
	// Approve lists builtin tool names that additionally require approval.
	Approve []string `json:"approve,omitempty"`
}

// DefaultConfig returns a Config with no manifest and read_file disabled.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Manifest != "" {
		c.Manifest = source.Manifest
	}
	if source.FileRoot != "" {
		c.FileRoot = source.FileRoot
	}
	if len(source.Approve) > 0 {
		c.Approve = source.Approve
	}
}
