package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FileStore keeps one directory per run holding one JSON file per snapshot:
//
//	<baseDir>/<runID>/CHECKPOINT_<seq>.json
//
// Files are written to a temporary name and renamed into place, so a reader
// never observes a partially written snapshot.
type FileStore struct {
	baseDir string
	mu      sync.Mutex // serializes writers; readers take no lock
}

const (
	filePrefix = "CHECKPOINT_"
	fileSuffix = ".json"
)

// NewFileStore creates a file store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save writes snap as a new file in the run's directory.
func (f *FileStore) Save(_ context.Context, runID string, snap *Snapshot) error {
	if err := validRunID(runID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	seqs, err := f.sequences(runID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if n := len(seqs); n > 0 && snap.Seq <= seqs[n-1] {
		return fmt.Errorf("run %s seq %d after %d: %w", runID, snap.Seq, seqs[n-1], ErrStaleSnapshot)
	}

	dir := filepath.Join(f.baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory for %s: %w", runID, err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for run %s: %w", runID, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for run %s: %w", runID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot for run %s: %w", runID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot for run %s: %w", runID, err)
	}
	if err := os.Rename(tmp.Name(), f.filename(runID, snap.Seq)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit snapshot for run %s: %w", runID, err)
	}
	return nil
}

// Load reads the highest-numbered snapshot of the run.
func (f *FileStore) Load(_ context.Context, runID string) (*Snapshot, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	seqs, err := f.sequences(runID)
	if err != nil {
		return nil, err
	}
	return f.read(runID, seqs[len(seqs)-1])
}

// List returns the run directories holding at least one snapshot.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if seqs, err := f.sequences(entry.Name()); err == nil && len(seqs) > 0 {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// History reads every snapshot of the run in sequence order.
func (f *FileStore) History(_ context.Context, runID string) ([]Snapshot, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	seqs, err := f.sequences(runID)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(seqs))
	for _, seq := range seqs {
		snap, err := f.read(runID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) read(runID string, seq int) (*Snapshot, error) {
	data, err := os.ReadFile(f.filename(runID, seq))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %d for run %s: %w", seq, runID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %d for run %s: %w", seq, runID, err)
	}
	return &snap, nil
}

// sequences returns the run's snapshot numbers in ascending order.
func (f *FileStore) sequences(runID string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(f.baseDir, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory %s: %w", runID, err)
	}

	var seqs []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (f *FileStore) filename(runID string, seq int) string {
	return filepath.Join(f.baseDir, runID, fmt.Sprintf("%s%06d%s", filePrefix, seq, fileSuffix))
}

func validRunID(runID string) error {
	if runID == "" {
		return errors.New("runID cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run ID %q", runID)
	}
	return nil
}
