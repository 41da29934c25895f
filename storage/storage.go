// Package storage defines the backend interface for session archives.
package storage

import (
	"context"
	"path"
	"path/filepath"
)

// Store keeps binary objects under hierarchical "/"-separated keys.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data at key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key. A missing key is an error.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix in lexicographic order.
	// An empty prefix lists every key.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// SessionKey returns the key a session file is archived under:
// <session id>/<file name>.
func SessionKey(sessionID, file string) string {
	return path.Join(sessionID, filepath.Base(file))
}
