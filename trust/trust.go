// Package trust stores durable per-requester, per-tool exemptions from
// approval gating. Records are written only by an "approve and trust"
// decision and removed only by Revoke.
package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tailored-agentic-units/warden/memory"
)

// Record is a granted trust exemption.
type Record struct {
	Requester string    `json:"requester"`
	Tool      string    `json:"tool"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by,omitempty"` // correlation id of the granting decision
	Shape     string    `json:"shape,omitempty"`      // argument-shape fingerprint, when bound
}

// Store reads and writes trust records. Writes to the same (requester, tool)
// pair are serialized and visible to every Lookup that starts after the
// write returns.
type Store interface {
	Lookup(ctx context.Context, requester, tool string) (Record, bool, error)
	Grant(ctx context.Context, rec Record) error
	Revoke(ctx context.Context, requester, tool string) error
	List(ctx context.Context, requester string) ([]Record, error)
}

type store struct {
	backing memory.Store
	cache   *memory.Cache
}

// NewStore creates a Store persisting into backing under the trust
// namespace.
func NewStore(backing memory.Store) Store {
	return &store{backing: backing, cache: memory.NewCache(backing)}
}

func key(requester, tool string) string {
	return memory.Join(memory.NamespaceTrust, memory.Segment(requester), memory.Segment(tool)+".json")
}

func (s *store) Lookup(ctx context.Context, requester, tool string) (Record, bool, error) {
	data, found, err := s.cache.Get(ctx, key(requester, tool))
	if err != nil || !found {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode trust record: %w", err)
	}
	return rec, true, nil
}

func (s *store) Grant(ctx context.Context, rec Record) error {
	if rec.Requester == "" || rec.Tool == "" {
		return fmt.Errorf("trust record requires requester and tool")
	}

	k := key(rec.Requester, rec.Tool)
	unlock := s.cache.Lock(k)
	defer unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode trust record: %w", err)
	}
	return s.cache.Put(ctx, k, data)
}

func (s *store) Revoke(ctx context.Context, requester, tool string) error {
	k := key(requester, tool)
	unlock := s.cache.Lock(k)
	defer unlock()

	return s.cache.Remove(ctx, k)
}

func (s *store) List(ctx context.Context, requester string) ([]Record, error) {
	prefix := memory.NamespaceTrust + "/"
	if requester != "" {
		prefix += memory.Segment(requester) + "/"
	}

	keys, err := s.backing.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		data, found, err := s.cache.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode trust record %s: %w", k, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Shape fingerprints the structure of a JSON argument payload: the sorted
// top-level keys and the JSON type of each value. Payloads that differ only in
// values share a shape.
func Shape(args json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return "invalid"
	}

	var desc string
	if obj, ok := decoded.(map[string]any); ok {
		parts := make([]string, 0, len(obj))
		for k, v := range obj {
			parts = append(parts, k+":"+jsonType(v))
		}
		sort.Strings(parts)
		desc = "{" + strings.Join(parts, ",") + "}"
	} else {
		desc = jsonType(decoded)
	}

	sum := sha256.Sum256([]byte(desc))
	return hex.EncodeToString(sum[:8])
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
