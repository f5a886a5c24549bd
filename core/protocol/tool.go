package protocol

// Tool is the model-facing definition of a callable tool. Parameters is a
// JSON Schema object describing the argument payload.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
