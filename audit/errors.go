package audit

import "errors"

var (
	ErrSinkUnavailable = errors.New("audit sink unavailable")
	ErrAppendFailed    = errors.New("audit append failed")
	ErrUnknownDriver   = errors.New("unknown audit driver")
)
