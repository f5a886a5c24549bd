package sandbox

import (
	"fmt"
	"math"
	"time"

	"github.com/docker/go-units"
)

const (
	defaultMemory      = "128m"
	defaultCPUs        = 0.5
	defaultPidsLimit   = 64
	defaultTimeout     = 30 * time.Second
	defaultOutputLimit = 16 * 1024
	defaultConcurrency = 4
	defaultTmpfsSize   = "10m"
	defaultUser        = "nobody"
	defaultNetwork     = "warden-egress"
)

// Config holds executor-wide defaults. Durations and sizes are strings
// ("30s", "128m") so they read naturally in the JSON config file.
type Config struct {
	Memory          string  `json:"memory,omitempty"`
	CPUs            float64 `json:"cpus,omitempty"`
	PidsLimit       int64   `json:"pids_limit,omitempty"`
	Timeout         string  `json:"timeout,omitempty"`
	OutputLimit     int     `json:"output_limit,omitempty"`
	Concurrency     int     `json:"concurrency,omitempty"`
	TmpfsSize       string  `json:"tmpfs_size,omitempty"`
	User            string  `json:"user,omitempty"`
	EgressNetwork   string  `json:"egress_network,omitempty"`
	EgressListen    string  `json:"egress_listen,omitempty"`    // proxy listen address, e.g. "0.0.0.0:3128"
	EgressAdvertise string  `json:"egress_advertise,omitempty"` // address units dial, e.g. "host.docker.internal:3128"
}

// DefaultConfig returns the isolation defaults.
func DefaultConfig() Config {
	return Config{
		Memory:        defaultMemory,
		CPUs:          defaultCPUs,
		PidsLimit:     defaultPidsLimit,
		Timeout:       defaultTimeout.String(),
		OutputLimit:   defaultOutputLimit,
		Concurrency:   defaultConcurrency,
		TmpfsSize:     defaultTmpfsSize,
		User:          defaultUser,
		EgressNetwork: defaultNetwork,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Memory != "" {
		c.Memory = source.Memory
	}
	if source.CPUs > 0 {
		c.CPUs = source.CPUs
	}
	if source.PidsLimit > 0 {
		c.PidsLimit = source.PidsLimit
	}
	if source.Timeout != "" {
		c.Timeout = source.Timeout
	}
	if source.OutputLimit > 0 {
		c.OutputLimit = source.OutputLimit
	}
	if source.Concurrency > 0 {
		c.Concurrency = source.Concurrency
	}
	if source.TmpfsSize != "" {
		c.TmpfsSize = source.TmpfsSize
	}
	if source.User != "" {
		c.User = source.User
	}
	if source.EgressNetwork != "" {
		c.EgressNetwork = source.EgressNetwork
	}
	if source.EgressListen != "" {
		c.EgressListen = source.EgressListen
	}
	if source.EgressAdvertise != "" {
		c.EgressAdvertise = source.EgressAdvertise
	}
}

// Spec is the per-tool sandbox declaration from the tool manifest. Empty
// fields inherit the executor defaults.
type Spec struct {
	Image       string   `yaml:"image" json:"image"`
	Egress      []string `yaml:"egress,omitempty" json:"egress,omitempty"`
	Credentials []string `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Memory      string   `yaml:"memory,omitempty" json:"memory,omitempty"`
	CPUs        float64  `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	OutputLimit int      `yaml:"output_limit,omitempty" json:"output_limit,omitempty"`
}

// Policy is the fully resolved resource and isolation policy for one
// execution unit.
type Policy struct {
	Image       string
	Memory      int64 // bytes
	NanoCPUs    int64
	PidsLimit   int64
	Timeout     time.Duration
	OutputLimit int
	Egress      []string // allowlisted host:port pairs
	Credentials []string // names resolved from the secret set
}

// Resolve merges a tool Spec over the configured defaults.
func (c *Config) Resolve(spec Spec) (Policy, error) {
	if spec.Image == "" {
		return Policy{}, fmt.Errorf("%w: image is required", ErrInvalidPolicy)
	}

	memory := c.Memory
	if spec.Memory != "" {
		memory = spec.Memory
	}
	memBytes, err := units.RAMInBytes(memory)
	if err != nil || memBytes <= 0 {
		return Policy{}, fmt.Errorf("%w: memory %q", ErrInvalidPolicy, memory)
	}

	cpus := c.CPUs
	if spec.CPUs > 0 {
		cpus = spec.CPUs
	}
	if cpus <= 0 {
		return Policy{}, fmt.Errorf("%w: cpus must be positive", ErrInvalidPolicy)
	}

	timeout := c.Timeout
	if spec.Timeout != "" {
		timeout = spec.Timeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return Policy{}, fmt.Errorf("%w: timeout %q", ErrInvalidPolicy, timeout)
	}

	outputLimit := c.OutputLimit
	if spec.OutputLimit > 0 {
		outputLimit = spec.OutputLimit
	}

	egress := make([]string, 0, len(spec.Egress))
	for _, target := range spec.Egress {
		normalized, err := normalizeTarget(target)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: egress %q: %v", ErrInvalidPolicy, target, err)
		}
		egress = append(egress, normalized...)
	}

	return Policy{
		Image:       spec.Image,
		Memory:      memBytes,
		NanoCPUs:    int64(math.Round(cpus * 1e9)),
		PidsLimit:   c.PidsLimit,
		Timeout:     d,
		OutputLimit: outputLimit,
		Egress:      egress,
		Credentials: spec.Credentials,
	}, nil
}
