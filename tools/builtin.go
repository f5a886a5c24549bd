package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/memory"
)

const readFileLimit = 1 << 20

// Builtins returns the in-process tools. remember and recall keep notes in
// store, scoped to the requester. read_file is present only when
// cfg.FileRoot is set and is always gated.
func Builtins(store memory.Store, cfg Config) []Definition {
	defs := []Definition{
		{
			Tool: protocol.Tool{
				Name:        "datetime",
				Description: "Returns the current date and time in RFC3339 format.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: handleDatetime,
		},
		{
			Tool: protocol.Tool{
				Name:        "remember",
				Description: "Stores a note for later recall by the same user.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"note": map[string]any{
							"type":        "string",
							"description": "The fact or note to remember.",
							"minLength":   1,
						},
					},
					"required": []string{"note"},
				},
			},
			Handler: rememberHandler(store),
		},
		{
			Tool: protocol.Tool{
				Name:        "recall",
				Description: "Returns stored notes, optionally filtered by a search term.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Case-insensitive substring to filter notes by.",
						},
					},
				},
			},
			Handler: recallHandler(store),
		},
	}

	if cfg.FileRoot != "" {
		defs = append(defs, Definition{
			Tool: protocol.Tool{
				Name:        "read_file",
				Description: "Reads the contents of a file under the workspace directory.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path": map[string]any{
							"type":        "string",
							"description": "Path relative to the workspace directory.",
						},
					},
					"required": []string{"path"},
				},
			},
			RequiresApproval: true,
			Handler:          readFileHandler(cfg.FileRoot),
		})
	}

	for i := range defs {
		if slices.Contains(cfg.Approve, defs[i].Name) {
			defs[i].RequiresApproval = true
		}
	}
	return defs
}

func handleDatetime(_ context.Context, _ json.RawMessage) (Result, error) {
	return Result{Content: time.Now().Format(time.RFC3339)}, nil
}

// NotesPrefix returns the memory prefix holding requester's notes.
func NotesPrefix(requester string) string {
	if requester == "" {
		requester = "anonymous"
	}
	return memory.Join(memory.NamespaceNotes, memory.Segment(requester))
}

func notesPrefix(ctx context.Context) string {
	call, _ := CallFromContext(ctx)
	return NotesPrefix(call.Requester)
}

func rememberHandler(store memory.Store) Handler {
	return func(ctx context.Context, raw json.RawMessage) (Result, error) {
		var args struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
		}
		note := strings.TrimSpace(args.Note)
		if note == "" {
			return Result{Content: "note is required", IsError: true}, nil
		}

		id, err := uuid.NewV7()
		if err != nil {
			return Result{}, err
		}
		key := memory.Join(notesPrefix(ctx), id.String()+".txt")
		if err := store.Save(ctx, memory.Entry{Key: key, Value: []byte(note)}); err != nil {
			return Result{}, err
		}
		return Result{Content: "remembered: " + note}, nil
	}
}

func recallHandler(store memory.Store) Handler {
	return func(ctx context.Context, raw json.RawMessage) (Result, error) {
		var args struct {
			Query string `json:"query"`
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
			}
		}

		keys, err := store.List(ctx, notesPrefix(ctx)+"/")
		if err != nil {
			return Result{}, err
		}
		if len(keys) == 0 {
			return Result{Content: "no notes"}, nil
		}

		entries, err := store.Load(ctx, keys...)
		if err != nil {
			return Result{}, err
		}

		query := strings.ToLower(strings.TrimSpace(args.Query))
		var b strings.Builder
		for _, e := range entries {
			note := string(e.Value)
			if query != "" && !strings.Contains(strings.ToLower(note), query) {
				continue
			}
			b.WriteString("- ")
			b.WriteString(note)
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			return Result{Content: "no matching notes"}, nil
		}
		return Result{Content: b.String()}, nil
	}
}

func readFileHandler(root string) Handler {
	return func(_ context.Context, raw json.RawMessage) (Result, error) {
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
		}
		if args.Path == "" {
			return Result{Content: "path is required", IsError: true}, nil
		}

		dir, err := os.OpenRoot(root)
		if err != nil {
			return Result{}, fmt.Errorf("open workspace: %w", err)
		}
		defer dir.Close()

		f, err := dir.Open(filepath.Clean(args.Path))
		if err != nil {
			return Result{Content: err.Error(), IsError: true}, nil
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, readFileLimit))
		if err != nil {
			return Result{Content: err.Error(), IsError: true}, nil
		}
		return Result{Content: string(data)}, nil
	}
}
