package memory

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Top-level namespaces.
const (
	NamespaceTrust = "trust"
	NamespaceNotes = "notes"
)

// Entry is a key-value pair.
type Entry struct {
	Key   string
	Value []byte
}

// ValidateKey rejects keys that would escape the store root or that are not
// in canonical form.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// Join builds a key from a namespace and path segments.
func Join(namespace string, parts ...string) string {
	return path.Join(append([]string{namespace}, parts...)...)
}

// Segment escapes an arbitrary identifier into a single valid key part.
func Segment(id string) string {
	s := url.PathEscape(id)
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}
