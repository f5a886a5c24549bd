package sandbox

import "context"

// NetworkNone disables all networking for a unit.
const NetworkNone = "none"

// UnitSpec describes one ephemeral execution unit.
type UnitSpec struct {
	Name      string
	Tool      string
	Image     string
	Env       []string
	User      string
	Network   string
	TmpfsSize string
	Policy    Policy
}

// Runtime creates and destroys execution units. The executor owns the
// lifecycle: Create, Start, Wait, Output, and always Remove.
type Runtime interface {
	Create(ctx context.Context, spec UnitSpec) (string, error)
	Start(ctx context.Context, id string) error
	// Wait blocks until the unit stops or ctx is done, returning the exit code.
	Wait(ctx context.Context, id string) (int64, error)
	// Output returns at most limit bytes of stdout and a clipped stderr.
	// truncated reports that stdout exceeded limit.
	Output(ctx context.Context, id string, limit int64) (stdout, stderr []byte, truncated bool, err error)
	// Remove force-destroys the unit. Removing an unknown unit is not an error.
	Remove(ctx context.Context, id string) error
}
