package trust_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/warden/memory"
	"github.com/tailored-agentic-units/warden/trust"
)

func TestStore_GrantVisibleImmediately(t *testing.T) {
	s := trust.NewStore(memory.NewMapStore())
	ctx := context.Background()

	_, found, err := s.Lookup(ctx, "alice", "fetch")
	require.NoError(t, err)
	assert.False(t, found)

	rec := trust.Record{Requester: "alice", Tool: "fetch", GrantedAt: time.Now().UTC(), GrantedBy: "req-1"}
	require.NoError(t, s.Grant(ctx, rec))

	got, found, err := s.Lookup(ctx, "alice", "fetch")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "req-1", got.GrantedBy)

	_, found, err = s.Lookup(ctx, "bob", "fetch")
	require.NoError(t, err)
	assert.False(t, found, "trust must not leak across requesters")
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	backing := memory.NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, trust.NewStore(backing).Grant(ctx, trust.Record{Requester: "alice", Tool: "search"}))

	_, found, err := trust.NewStore(backing).Lookup(ctx, "alice", "search")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_Revoke(t *testing.T) {
	s := trust.NewStore(memory.NewMapStore())
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, trust.Record{Requester: "alice", Tool: "fetch"}))
	require.NoError(t, s.Revoke(ctx, "alice", "fetch"))

	_, found, err := s.Lookup(ctx, "alice", "fetch")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_UnusualIdentities(t *testing.T) {
	s := trust.NewStore(memory.NewFileStore(t.TempDir()))
	ctx := context.Background()

	for _, requester := range []string{"telegram:12345", "../../etc", ".hidden", "a/b"} {
		require.NoError(t, s.Grant(ctx, trust.Record{Requester: requester, Tool: "fetch"}), requester)
		_, found, err := s.Lookup(ctx, requester, "fetch")
		require.NoError(t, err)
		assert.True(t, found, requester)
	}

	recs, err := s.List(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a/b", recs[0].Requester)
}

func TestStore_ConcurrentGrants(t *testing.T) {
	s := trust.NewStore(memory.NewMapStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tool := fmt.Sprintf("tool-%d", i%4)
			assert.NoError(t, s.Grant(ctx, trust.Record{Requester: "alice", Tool: tool}))
		}()
	}
	wg.Wait()

	recs, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestShape(t *testing.T) {
	a := trust.Shape(json.RawMessage(`{"url":"https://a.example","depth":1}`))
	b := trust.Shape(json.RawMessage(`{"depth":3,"url":"https://b.example"}`))
	c := trust.Shape(json.RawMessage(`{"url":"https://a.example","depth":1,"method":"DELETE"}`))
	d := trust.Shape(json.RawMessage(`{"url":"https://a.example","depth":"1"}`))

	assert.Equal(t, a, b, "value changes keep the shape")
	assert.NotEqual(t, a, c, "added keys change the shape")
	assert.NotEqual(t, a, d, "type changes change the shape")
	assert.Equal(t, "invalid", trust.Shape(json.RawMessage(`{`)))
}
