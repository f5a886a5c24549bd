package kernel

import "errors"

var (
	// ErrModelUnavailable is returned when the model fails fatally or keeps
	// failing after the retry budget.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrToolDispatchFailed marks a tool call that could not be dispatched.
	// It never reaches the caller of Run; it is fed back as a failed result.
	ErrToolDispatchFailed = errors.New("tool dispatch failed")
	// ErrRoundLimitExceeded is returned with a capped answer when the model
	// keeps requesting tools past the round limit.
	ErrRoundLimitExceeded = errors.New("round limit exceeded")
	// ErrOutputBudgetExceeded is returned with a capped answer when the
	// cumulative tool-result text reaches the output budget.
	ErrOutputBudgetExceeded = errors.New("output budget exceeded")
	ErrSessionBusy          = errors.New("session already has an active run")
	ErrAborted              = errors.New("run aborted")
)
