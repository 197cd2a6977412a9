package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open creates the store for backend rooted at dir. The sqlite backend keeps
// its database in dir/checkpoints.db.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
		}
		return OpenSQLiteStore(filepath.Join(dir, "checkpoints.db"))
	case BackendFile:
		return NewFileStore(dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
