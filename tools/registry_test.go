package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/sandbox"
	"github.com/tailored-agentic-units/warden/tools"
)

func testTool(name string) tools.Definition {
	return tools.Definition{
		Tool: protocol.Tool{
			Name:        name,
			Description: "test tool: " + name,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"input": map[string]any{"type": "string"},
				},
				"required": []string{"input"},
			},
		},
		Handler: echoHandler,
	}
}

func echoHandler(_ context.Context, args json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: string(args)}, nil
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		def     tools.Definition
		wantErr error
	}{
		{
			name: "valid tool",
			def:  testTool("register_valid"),
		},
		{
			name: "sandboxed tool",
			def: tools.Definition{
				Tool:    protocol.Tool{Name: "fetch"},
				Sandbox: &sandbox.Spec{Image: "tools/fetch:1"},
			},
		},
		{
			name:    "empty name",
			def:     tools.Definition{Handler: echoHandler},
			wantErr: tools.ErrEmptyName,
		},
		{
			name:    "no dispatch target",
			def:     tools.Definition{Tool: protocol.Tool{Name: "nothing"}},
			wantErr: tools.ErrNoHandler,
		},
		{
			name: "invalid schema",
			def: tools.Definition{
				Tool: protocol.Tool{
					Name:       "broken",
					Parameters: map[string]any{"type": 42},
				},
				Handler: echoHandler,
			},
			wantErr: tools.ErrInvalidSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tools.NewRegistry().Register(tt.def)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("Register() unexpected error: %v", err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := tools.NewRegistry()
	def := testTool("dup")

	if err := r.Register(def); err != nil {
		t.Fatalf("first Register() failed: %v", err)
	}

	err := r.Register(def)
	if !errors.Is(err, tools.ErrAlreadyExists) {
		t.Errorf("second Register() error = %v, want %v", err, tools.ErrAlreadyExists)
	}
}

func TestReplace(t *testing.T) {
	r := tools.NewRegistry()
	def := testTool("replace_existing")

	if err := r.Register(def); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	def.Handler = func(_ context.Context, _ json.RawMessage) (tools.Result, error) {
		return tools.Result{Content: "replaced"}, nil
	}
	if err := r.Replace(def); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	result, err := r.Invoke(context.Background(), "replace_existing", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke() after Replace() failed: %v", err)
	}
	if result.Content != "replaced" {
		t.Errorf("Invoke() content = %q, want %q", result.Content, "replaced")
	}
}

func TestReplace_NotFound(t *testing.T) {
	err := tools.NewRegistry().Replace(testTool("replace_nonexistent"))
	if !errors.Is(err, tools.ErrNotFound) {
		t.Errorf("Replace() error = %v, want %v", err, tools.ErrNotFound)
	}
}

func TestLookup(t *testing.T) {
	r := tools.NewRegistry()
	def := testTool("lookup")
	def.RequiresApproval = true
	if err := r.Register(def); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	got, exists := r.Lookup("lookup")
	if !exists {
		t.Fatal("Lookup() returned exists=false, want true")
	}
	if !got.RequiresApproval {
		t.Error("Lookup() lost RequiresApproval")
	}

	if _, exists := r.Lookup("missing"); exists {
		t.Error("Lookup() returned exists=true for nonexistent tool")
	}
}

func TestList_Sorted(t *testing.T) {
	r := tools.NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(testTool(name)); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	list := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(list) != len(want) {
		t.Fatalf("List() len = %d, want %d", len(list), len(want))
	}
	for i, tool := range list {
		if tool.Name != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, tool.Name, want[i])
		}
	}
}

func TestValidate(t *testing.T) {
	r := tools.NewRegistry()
	if err := r.Register(testTool("validate")); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr error
	}{
		{"valid", "validate", `{"input":"hi"}`, nil},
		{"missing required", "validate", `{}`, tools.ErrInvalidArguments},
		{"empty args", "validate", ``, tools.ErrInvalidArguments},
		{"wrong type", "validate", `{"input":5}`, tools.ErrInvalidArguments},
		{"not json", "validate", `{input`, tools.ErrInvalidArguments},
		{"unknown tool", "nope", `{}`, tools.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	r := tools.NewRegistry()
	def := testTool("invoke_valid")
	def.Handler = func(_ context.Context, args json.RawMessage) (tools.Result, error) {
		var params struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Content: "echo: " + params.Input}, nil
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	result, err := r.Invoke(context.Background(), "invoke_valid", json.RawMessage(`{"input":"hello"}`))
	if err != nil {
		t.Fatalf("Invoke() failed: %v", err)
	}
	if result.Content != "echo: hello" {
		t.Errorf("Invoke() content = %q, want %q", result.Content, "echo: hello")
	}
	if result.IsError {
		t.Error("Invoke() IsError = true, want false")
	}
}

func TestInvoke_Errors(t *testing.T) {
	r := tools.NewRegistry()
	handlerErr := errors.New("handler failed")

	failing := testTool("invoke_error")
	failing.Handler = func(_ context.Context, _ json.RawMessage) (tools.Result, error) {
		return tools.Result{}, handlerErr
	}
	sandboxed := tools.Definition{
		Tool:    protocol.Tool{Name: "invoke_sandboxed"},
		Sandbox: &sandbox.Spec{Image: "img"},
	}
	if err := r.RegisterAll([]tools.Definition{failing, sandboxed}); err != nil {
		t.Fatalf("RegisterAll() failed: %v", err)
	}

	tests := []struct {
		name    string
		tool    string
		wantErr error
	}{
		{"not found", "invoke_nonexistent", tools.ErrNotFound},
		{"handler error", "invoke_error", handlerErr},
		{"sandboxed tool", "invoke_sandboxed", tools.ErrIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), tt.tool, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Invoke() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvoke_RespectsContext(t *testing.T) {
	r := tools.NewRegistry()
	def := testTool("invoke_ctx")
	def.Handler = func(ctx context.Context, _ json.RawMessage) (tools.Result, error) {
		if err := ctx.Err(); err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Content: "ok"}, nil
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Invoke(ctx, "invoke_ctx", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke() error = %v, want context.Canceled", err)
	}
}

func TestNewCall(t *testing.T) {
	r := tools.NewRegistry()
	gated := testTool("gated")
	gated.RequiresApproval = true
	sandboxed := tools.Definition{
		Tool:    protocol.Tool{Name: "boxed"},
		Sandbox: &sandbox.Spec{Image: "img"},
	}
	if err := r.RegisterAll([]tools.Definition{gated, sandboxed}); err != nil {
		t.Fatalf("RegisterAll() failed: %v", err)
	}

	call, err := r.NewCall(protocol.NewToolCall("c1", "gated", ""), "s1", "alice")
	if err != nil {
		t.Fatalf("NewCall() failed: %v", err)
	}
	if !call.RequiresApproval || call.RequiresIsolation {
		t.Errorf("NewCall(gated) flags = approval %v isolation %v", call.RequiresApproval, call.RequiresIsolation)
	}
	if string(call.Args) != "{}" {
		t.Errorf("NewCall() args = %s, want {}", call.Args)
	}
	if call.SessionID != "s1" || call.Requester != "alice" || call.ID != "c1" {
		t.Errorf("NewCall() identity = %+v", call)
	}

	call, err = r.NewCall(protocol.NewToolCall("c2", "boxed", `{"a":1}`), "s1", "alice")
	if err != nil {
		t.Fatalf("NewCall() failed: %v", err)
	}
	if !call.RequiresIsolation {
		t.Error("NewCall(boxed) RequiresIsolation = false, want true")
	}

	if _, err := r.NewCall(protocol.NewToolCall("c3", "ghost", ""), "s1", "alice"); !errors.Is(err, tools.ErrNotFound) {
		t.Errorf("NewCall(ghost) error = %v, want %v", err, tools.ErrNotFound)
	}
}
