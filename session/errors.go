package session

import "errors"

// ErrRequesterMismatch is returned when a session is opened for a requester
// other than the one it was created for.
var ErrRequesterMismatch = errors.New("session belongs to another requester")
