package contract

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// descriptor is the on-disk YAML form of a contract.
type descriptor struct {
	Name         string               `yaml:"name"`
	Description  string               `yaml:"description"`
	Capabilities []string             `yaml:"capabilities"`
	Inputs       map[string]FieldType `yaml:"inputs"`
	Outputs      map[string]FieldType `yaml:"outputs"`
	DependsOn    []string             `yaml:"depends_on"`
	RetryBudget  *int                 `yaml:"retry_budget"`
	Fallback     string               `yaml:"fallback"`
	Timeout      string               `yaml:"timeout"`
	MaxTokens    int                  `yaml:"max_tokens"`
	Temperature  *float32             `yaml:"temperature"`
	Options      map[string]any       `yaml:"options"`
}

// DefaultRetryBudget is used when a descriptor omits retry_budget.
const DefaultRetryBudget = 3

//go:embed defaults/*.yaml
var defaultFS embed.FS

// Parse decodes and validates one YAML descriptor. source names the origin in errors.
func Parse(data []byte, source string) (Contract, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d descriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return Contract{}, NewInvalidContractError("", "%s: empty descriptor", source)
		}
		return Contract{}, NewInvalidContractError(d.Name, "%s: %v", source, err)
	}

	c, err := d.toContract()
	if err != nil {
		return Contract{}, fmt.Errorf("%s: %w", source, err)
	}
	if err := c.Validate(); err != nil {
		return Contract{}, fmt.Errorf("%s: %w", source, err)
	}
	return c, nil
}

func (d *descriptor) toContract() (Contract, error) {
	c := Contract{
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Inputs:      Schema(d.Inputs),
		Outputs:     Schema(d.Outputs),
		DependsOn:   d.DependsOn,
		RetryBudget: DefaultRetryBudget,
		Fallback:    strings.TrimSpace(d.Fallback),
		MaxTokens:   d.MaxTokens,
		Temperature: DefaultTemperature,
		Options:     d.Options,
	}
	if c.Inputs == nil {
		c.Inputs = Schema{}
	}
	if c.Outputs == nil {
		c.Outputs = Schema{}
	}
	if d.RetryBudget != nil {
		c.RetryBudget = *d.RetryBudget
	}
	if d.Temperature != nil {
		c.Temperature = *d.Temperature
	}
	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return Contract{}, NewInvalidContractError(c.Name, "timeout %q: %v", d.Timeout, err)
		}
		c.Timeout = timeout
	}

	caps := make(map[string]bool, len(d.Capabilities))
	for _, tag := range d.Capabilities {
		tag = strings.TrimSpace(tag)
		if tag != "" && !caps[tag] {
			caps[tag] = true
			c.Capabilities = append(c.Capabilities, tag)
		}
	}
	sort.Strings(c.Capabilities)
	return c, nil
}

// LoadFS reads every *.yaml / *.yml descriptor in dir of fsys, sorted by file name.
func LoadFS(fsys fs.FS, dir string) ([]Contract, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract directory %s: %w", dir, err)
	}

	var contracts []Contract
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := path.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		file := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", file, err))
			continue
		}
		c, err := Parse(data, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		contracts = append(contracts, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return contracts, nil
}

// LoadDir reads descriptors from a directory on disk.
func LoadDir(dir string) ([]Contract, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// Defaults returns the built-in contracts for the seven standard agents.
func Defaults() ([]Contract, error) {
	return LoadFS(defaultFS, "defaults")
}

// Overlay returns base with every contract in override replacing the one of the same name.
func Overlay(base, override []Contract) []Contract {
	index := make(map[string]int, len(base))
	out := make([]Contract, 0, len(base)+len(override))
	for i := range base {
		index[base[i].Name] = len(out)
		out = append(out, base[i])
	}
	for i := range override {
		if pos, ok := index[override[i].Name]; ok {
			out[pos] = override[i]
			continue
		}
		index[override[i].Name] = len(out)
		out = append(out, override[i])
	}
	return out
}
