package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tailored-agentic-units/warden/core/protocol"
)

// InputEnv is the variable carrying the unit's single input object.
const InputEnv = "WARDEN_INPUT"

// Input is the structured object handed to an execution unit.
type Input struct {
	Tool        string            `json:"tool"`
	Args        json.RawMessage   `json:"args"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// Output is the single object a unit writes to stdout on completion.
type Output struct {
	Status  protocol.Status `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EncodeInput serializes the unit input.
func EncodeInput(in Input) (string, error) {
	if len(in.Args) == 0 {
		in.Args = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode sandbox input: %w", err)
	}
	return string(data), nil
}

// DecodeOutput parses stdout as exactly one Output object.
func DecodeOutput(stdout []byte) (Output, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(stdout)))

	var out Output
	if err := dec.Decode(&out); err != nil {
		return Output{}, fmt.Errorf("decode sandbox output: %w", err)
	}
	if dec.More() {
		return Output{}, fmt.Errorf("decode sandbox output: trailing data after output object")
	}
	switch out.Status {
	case protocol.StatusOK, protocol.StatusError:
	default:
		return Output{}, fmt.Errorf("decode sandbox output: unknown status %q", out.Status)
	}
	return out, nil
}

// PayloadText renders the payload for the model: JSON strings are unquoted,
// other values are kept as compact JSON.
func (o Output) PayloadText() string {
	raw := bytes.TrimSpace(o.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
