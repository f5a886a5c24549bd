package audit

import (
	"context"
	"fmt"
)

// Drivers accepted by NewSink.
const (
	DriverMemory = "memory"
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
)

// Config selects and locates the audit sink.
type Config struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

// DefaultConfig returns the in-memory sink configuration.
func DefaultConfig() Config {
	return Config{Driver: DriverMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// NewSink creates the configured Sink.
func NewSink(ctx context.Context, cfg *Config) (Sink, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemorySink(), nil
	case DriverJSONL:
		return NewJSONLSink(cfg.Path)
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: sqlite driver requires a path", ErrSinkUnavailable)
		}
		return NewSQLiteSink(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// NewSinkFromDriver is shorthand for NewSink with a driver and path.
func NewSinkFromDriver(ctx context.Context, driver, path string) (Sink, error) {
	return NewSink(ctx, &Config{Driver: driver, Path: path})
}
