package approval

import "errors"

var (
	ErrApprovalExpired = errors.New("approval expired")
	ErrApprovalDenied  = errors.New("approval denied")
	ErrUnknownRequest  = errors.New("unknown approval request")
	ErrAlreadyResolved = errors.New("approval request already resolved")
	ErrInvalidDecision = errors.New("invalid approval decision")
	ErrInvalidConfig   = errors.New("invalid approval config")
	ErrNotifyFailed    = errors.New("decision surface notification failed")
)
