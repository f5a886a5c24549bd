package memory_test

import (
	"context"
	"testing"

	"github.com/tailored-agentic-units/warden/memory"
)

func TestConfig_Merge(t *testing.T) {
	cfg := memory.DefaultConfig()

	cfg.Merge(&memory.Config{Path: "/var/lib/warden"})
	if cfg.Path != "/var/lib/warden" {
		t.Errorf("got Path %q, want /var/lib/warden", cfg.Path)
	}

	cfg.Merge(&memory.Config{})
	if cfg.Path != "/var/lib/warden" {
		t.Errorf("empty source overwrote Path: %q", cfg.Path)
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  memory.Config
	}{
		{name: "process local", cfg: memory.Config{}},
		{name: "file backed", cfg: memory.Config{Path: t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore(&tt.cfg)

			if err := store.Save(ctx, memory.Entry{Key: "notes/k", Value: []byte("v")}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			keys, err := store.List(ctx, "notes/")
			if err != nil || len(keys) != 1 {
				t.Errorf("List() = %v, %v", keys, err)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	if got := memory.Join(memory.NamespaceTrust, "alice", "fetch.json"); got != "trust/alice/fetch.json" {
		t.Errorf("Join() = %q", got)
	}
}
