package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"

	"aicoder/pkg/agent"
	"aicoder/pkg/consistency"
	"aicoder/pkg/logx"
	"aicoder/pkg/state"
)

// ManifestEntry describes one generated file.
type ManifestEntry struct {
	Path   string `json:"path"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

// ToolboxAgent scaffolds placeholder files for planned paths nobody wrote
// and builds the project manifest. It needs no generator, which makes it the
// coder's fallback.
type ToolboxAgent struct {
	logger *logx.Logger
}

func (a *ToolboxAgent) Execute(_ context.Context, view state.View, _ agent.Config) (map[string]any, error) {
	var plan Plan
	if err := view.Decode(KeyPlan, &plan); err != nil {
		return nil, agent.Permanent(fmt.Errorf("toolbox needs a plan: %w", err))
	}

	files := existingFiles(view)
	scaffolded := 0
	for _, f := range plan.Files {
		if _, ok := files[f.Path]; ok {
			continue
		}
		files[f.Path] = consistency.GeneratedFile{Content: placeholder(f)}
		scaffolded++
	}

	manifest := Manifest(files)
	filesMap, err := toMap(files)
	if err != nil {
		return nil, fmt.Errorf("toolbox output: %w", err)
	}
	manifestItems, err := toSlice(manifest)
	if err != nil {
		return nil, fmt.Errorf("toolbox output: %w", err)
	}

	status := StatusTesting
	if view.Has(KeyTestResults) {
		status = StatusCompleted
	}
	if scaffolded > 0 {
		a.logger.Info("run %s: scaffolded %d files", view.RunID(), scaffolded)
	}
	return map[string]any{
		state.KeyGeneratedFiles: filesMap,
		KeyManifest:             manifestItems,
		"toolbox_status":        fmt.Sprintf("%d files, %d scaffolded", len(files), scaffolded),
		state.KeyWorkflowStatus: status,
	}, nil
}

// Manifest lists files sorted by path with their sizes and checksums.
func Manifest(files map[string]consistency.GeneratedFile) []ManifestEntry {
	out := make([]ManifestEntry, 0, len(files))
	for p, f := range files {
		sum := sha256.Sum256([]byte(f.Content))
		out = append(out, ManifestEntry{Path: p, Size: len(f.Content), SHA256: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

//nolint:gochecknoglobals // comment syntax per extension
var commentPrefix = map[string]string{
	".go": "//", ".js": "//", ".ts": "//", ".java": "//", ".c": "//", ".cpp": "//", ".rs": "//",
	".py": "#", ".rb": "#", ".sh": "#", ".yaml": "#", ".yml": "#", ".toml": "#",
}

// placeholder is the scaffold content for a planned file.
func placeholder(f PlannedFile) string {
	purpose := f.Purpose
	if purpose == "" {
		purpose = "planned file"
	}
	ext := path.Ext(f.Path)
	if ext == ".md" {
		return fmt.Sprintf("# %s\n\n%s\n", path.Base(f.Path), purpose)
	}
	if prefix, ok := commentPrefix[ext]; ok {
		return fmt.Sprintf("%s %s: %s\n", prefix, f.Path, purpose)
	}
	return purpose + "\n"
}
