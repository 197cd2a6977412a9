package memory

import (
	"fmt"
	"os"
	"path/filepath"
)

// Open creates the store for backend rooted at dir. The sqlite backend keeps
// its database in dir/memory.db.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "sqlite", "":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory %s: %w", dir, err)
		}
		return OpenSQLiteStore(filepath.Join(dir, "memory.db"))
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}
