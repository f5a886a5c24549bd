package sandbox

import "errors"

var (
	ErrSandboxTimeout    = errors.New("sandbox execution timed out")
	ErrSandboxCrashed    = errors.New("sandbox execution unit crashed")
	ErrCredentialMissing = errors.New("credential not configured")
	ErrEgressUnavailable = errors.New("egress proxy not configured")
	ErrInvalidPolicy     = errors.New("invalid sandbox policy")
)
