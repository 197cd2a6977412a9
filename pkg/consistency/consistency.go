// Package consistency cross-checks generated files for referential integrity.
//
// The check is advisory: a report with violations is attached to a completed
// run and never changes its terminal status.
package consistency

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"aicoder/pkg/logx"
	"aicoder/pkg/state"
)

// GeneratedFile is one entry of the generated_files state key.
type GeneratedFile struct {
	Content    string   `json:"content"`
	References []string `json:"references,omitempty"`
}

// Violation is a reference from Source to a file that was not generated.
type Violation struct {
	Source  string `json:"source"`
	Missing string `json:"missing"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s references missing file %s", v.Source, v.Missing)
}

// Report is the outcome of one consistency check. An empty Violations list
// means every reference resolved.
type Report struct {
	Violations []Violation `json:"violations"`
	Warnings   []string    `json:"warnings,omitempty"`
	Files      int         `json:"files"`
	Strict     bool        `json:"strict"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Consistent reports whether no violations were found.
func (r *Report) Consistent() bool {
	return len(r.Violations) == 0
}

// Summary renders a one-line description of the report.
func (r *Report) Summary() string {
	if r.Consistent() {
		return fmt.Sprintf("%d files, all references resolve", r.Files)
	}
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.Source+" -> "+v.Missing)
	}
	return fmt.Sprintf("%d files, %d unresolved references: %s", r.Files, len(r.Violations), strings.Join(parts, ", "))
}

// Check returns every unresolved reference in files, sorted by source then
// missing name. Duplicate references are reported once.
func Check(files map[string]GeneratedFile) []Violation {
	violations := []Violation{}
	for source, f := range files {
		seen := make(map[string]bool, len(f.References))
		for _, ref := range f.References {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			if _, ok := files[ref]; !ok {
				violations = append(violations, Violation{Source: source, Missing: ref})
			}
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Source != violations[j].Source {
			return violations[i].Source < violations[j].Source
		}
		return violations[i].Missing < violations[j].Missing
	})
	return violations
}

// Validator checks the generated files held in a run's state.
type Validator struct {
	strict bool
	now    func() time.Time
	logger *logx.Logger
}

// NewValidator creates a validator. strict is recorded on every report so
// callers can apply their own gating policy.
func NewValidator(strict bool) *Validator {
	return &Validator{
		strict: strict,
		now:    time.Now,
		logger: logx.NewLogger("consistency"),
	}
}

// Validate inspects view without modifying it.
func (v *Validator) Validate(view state.View) *Report {
	rep := &Report{
		Violations: []Violation{},
		Strict:     v.strict,
		CheckedAt:  v.now(),
	}

	files := map[string]GeneratedFile{}
	if view.Has(state.KeyGeneratedFiles) {
		if err := view.Decode(state.KeyGeneratedFiles, &files); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("generated files unreadable: %v", err))
			return rep
		}
	}

	rep.Files = len(files)
	if len(files) == 0 {
		rep.Warnings = append(rep.Warnings, "no files generated")
		return rep
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(files[name].Content) == "" {
			rep.Warnings = append(rep.Warnings, "empty file "+name)
		}
	}

	rep.Violations = Check(files)
	if !rep.Consistent() {
		v.logger.Warn("run %s: %s", view.RunID(), rep.Summary())
	}
	return rep
}
