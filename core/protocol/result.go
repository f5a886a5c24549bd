package protocol

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is the outcome field shared by in-process results and the sandbox
// output object.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// FailureKind classifies a non-ok ExecutionResult.
type FailureKind string

const (
	KindNone             FailureKind = ""
	KindRefused          FailureKind = "refused"
	KindDispatchFailed   FailureKind = "dispatch_failed"
	KindInvalidArguments FailureKind = "invalid_arguments"
	KindTimeout          FailureKind = "timeout"
	KindCrashed          FailureKind = "crashed"
	KindBudgetExhausted  FailureKind = "budget_exhausted"
)

// ExecutionResult is the immutable output of one dispatched (or refused)
// tool call.
type ExecutionResult struct {
	Status    Status        `json:"status"`
	Payload   string        `json:"payload,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      FailureKind   `json:"kind,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Truncated bool          `json:"truncated,omitempty"`
}

// OK builds a successful result.
func OK(payload string) ExecutionResult {
	return ExecutionResult{Status: StatusOK, Payload: payload}
}

// Failure builds a failed result of the given kind.
func Failure(kind FailureKind, detail string) ExecutionResult {
	return ExecutionResult{Status: StatusError, Kind: kind, Error: detail}
}

// Refusal builds the result fed back to the model when a call is denied or
// its approval expires.
func Refusal(detail string) ExecutionResult {
	return Failure(KindRefused, detail)
}

// Failed reports whether the result carries an error status.
func (r ExecutionResult) Failed() bool {
	return r.Status != StatusOK
}

// Content renders the result as the text of the tool-result turn.
func (r ExecutionResult) Content() string {
	if !r.Failed() {
		return r.Payload
	}

	if r.Kind == KindRefused {
		return "refused: " + r.Error
	}

	text := fmt.Sprintf("error (%s): %s", r.Kind, r.Error)
	if r.Payload != "" {
		text += "\n" + r.Payload
	}
	return text
}

// TruncationMarker is appended to text cut at a size ceiling.
const TruncationMarker = "\n...[TRUNCATED]..."

// Clip shortens text to at most limit bytes, cutting on a rune boundary and
// appending TruncationMarker. A non-positive limit disables clipping.
func Clip(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker, true
}

// Clipped returns r with its payload clipped to limit bytes.
func (r ExecutionResult) Clipped(limit int) ExecutionResult {
	payload, cut := Clip(r.Payload, limit)
	if cut {
		r.Payload = payload
		r.Truncated = true
	}
	return r
}
