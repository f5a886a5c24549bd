package boundary

// Config holds boundary pipeline parameters.
type Config struct {
	RulesFile           string `json:"rules_file,omitempty"`
	DisableDefaultRules bool   `json:"disable_default_rules,omitempty"`
}

// DefaultConfig returns the default boundary configuration: built-in rules
// only.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.RulesFile != "" {
		c.RulesFile = source.RulesFile
	}
	if source.DisableDefaultRules {
		c.DisableDefaultRules = true
	}
}
