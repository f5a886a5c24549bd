package tools

import "errors"

// Sentinel errors for the tools registry.
var (
	ErrNotFound         = errors.New("tool not found")
	ErrAlreadyExists    = errors.New("tool already registered")
	ErrEmptyName        = errors.New("tool name is empty")
	ErrInvalidSchema    = errors.New("invalid tool schema")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrNoHandler        = errors.New("tool has neither a handler nor a sandbox image")
	ErrIsolated         = errors.New("tool runs in the sandbox")
	ErrManifest         = errors.New("invalid tool manifest")
)
