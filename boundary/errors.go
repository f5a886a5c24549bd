package boundary

import (
	"errors"
	"fmt"
)

// ErrRedactionPattern marks a redaction rule that could not be used.
var ErrRedactionPattern = errors.New("redaction pattern error")

// PatternError reports the rule label and the underlying failure. The rule is
// replaced by the fallback rule rather than skipped.
type PatternError struct {
	Label string
	Err   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("%s: rule %q: %v", ErrRedactionPattern, e.Label, e.Err)
}

func (e *PatternError) Unwrap() []error {
	return []error{ErrRedactionPattern, e.Err}
}
