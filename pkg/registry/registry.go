// Package registry maps agent names to their contracts and executables.
//
// A Registry is built at startup: contracts are registered in any order, then
// Finalize checks that every dependency and fallback resolves and that the
// dependency graph is acyclic. After Finalize the registry is frozen and safe
// for unsynchronized concurrent reads.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/contract"
	"aicoder/pkg/logx"
)

// ErrRegistryFinalized is returned by Register once the registry is frozen.
var ErrRegistryFinalized = errors.New("registry already finalized")

// ErrNotFinalized is returned by lookups made before Finalize.
var ErrNotFinalized = errors.New("registry not finalized")

type entry struct {
	contract   contract.Contract
	exec       agent.Executable
	validator  *contract.Validator
	registered int
}

// Registry resolves agent names to contracts and executables.
type Registry struct {
	entries   map[string]*entry
	order     []string
	finalized bool
	logger    *logx.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logx.NewLogger("registry"),
	}
}

// Register adds a contract and the executable implementing it. Cross-contract
// references are not checked until Finalize.
func (r *Registry) Register(c contract.Contract, exec agent.Executable) error {
	if r.finalized {
		return fmt.Errorf("register %q: %w", c.Name, ErrRegistryFinalized)
	}
	if err := c.Validate(); err != nil {
		return err //nolint:wrapcheck // InvalidContractError names the agent
	}
	if exec == nil {
		return contract.NewInvalidContractError(c.Name, "no executable provided")
	}
	if _, exists := r.entries[c.Name]; exists {
		return &contract.DuplicateAgentError{Name: c.Name}
	}

	r.entries[c.Name] = &entry{contract: c.Clone(), exec: exec, registered: len(r.order)}
	r.order = append(r.order, c.Name)
	return nil
}

// Finalize validates the contract set and freezes the registry. Every problem
// is reported, joined into one error; on failure the registry stays open.
func (r *Registry) Finalize() error {
	if r.finalized {
		return nil
	}

	var errs []error
	for _, name := range r.order {
		e := r.entries[name]
		var reasons []string
		for _, dep := range e.contract.DependsOn {
			if _, ok := r.entries[dep]; !ok {
				reasons = append(reasons, fmt.Sprintf("dependency %q is not registered", dep))
			}
		}
		if fb := e.contract.Fallback; fb != "" {
			if _, ok := r.entries[fb]; !ok {
				reasons = append(reasons, fmt.Sprintf("fallback %q is not registered", fb))
			}
		}
		if len(reasons) > 0 {
			errs = append(errs, &contract.InvalidContractError{Agent: name, Reasons: reasons})
		}
	}

	if cycle := r.findCycle(); cycle != nil {
		errs = append(errs, contract.NewInvalidContractError("",
			"dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	if len(errs) == 0 {
		for _, name := range r.order {
			e := r.entries[name]
			v, err := e.contract.CompileOutputs()
			if err != nil {
				errs = append(errs, contract.NewInvalidContractError(name, "output schema: %v", err))
				continue
			}
			e.validator = v
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.finalized = true
	r.logger.Info("registry finalized with %d agents: %s", len(r.order), strings.Join(r.Names(), ", "))
	return nil
}

// findCycle runs a colored DFS over dependency edges and returns the first
// cycle found as a closed path (first element repeated at the end), or nil.
func (r *Registry) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(r.entries))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = gray
		stack = append(stack, name)
		for _, dep := range r.entries[name].contract.DependsOn {
			if _, ok := r.entries[dep]; !ok {
				continue
			}
			switch colors[dep] {
			case gray:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[name] = black
		return false
	}

	for _, name := range r.Names() {
		if colors[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// Finalized reports whether Finalize has succeeded.
func (r *Registry) Finalized() bool {
	return r.finalized
}

func (r *Registry) lookup(name string) (*entry, error) {
	if !r.finalized {
		return nil, fmt.Errorf("lookup %q: %w", name, ErrNotFinalized)
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, &contract.UnknownAgentError{Name: name}
	}
	return e, nil
}

// Resolve returns the executable registered under name.
func (r *Registry) Resolve(name string) (agent.Executable, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.exec, nil
}

// Contract returns a copy of the contract registered under name.
func (r *Registry) Contract(name string) (contract.Contract, error) {
	e, err := r.lookup(name)
	if err != nil {
		return contract.Contract{}, err
	}
	return e.contract.Clone(), nil
}

// OutputValidator returns the compiled output schema for name.
func (r *Registry) OutputValidator(name string) (*contract.Validator, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.validator, nil
}

// DependenciesOf returns the declared dependencies of name.
func (r *Registry) DependenciesOf(name string) ([]string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.contract.DependsOn), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	names := slices.Clone(r.order)
	sort.Strings(names)
	return names
}

// TopologicalOrder returns every agent after its dependencies, breaking ties
// alphabetically so the order is stable.
func (r *Registry) TopologicalOrder() ([]string, error) {
	if !r.finalized {
		return nil, ErrNotFinalized
	}

	pending := make(map[string]int, len(r.entries))
	dependents := make(map[string][]string, len(r.entries))
	for name, e := range r.entries {
		pending[name] = len(e.contract.DependsOn)
		for _, dep := range e.contract.DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(r.entries))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, next := range dependents[name] {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	return order, nil
}

var _ agent.Resolver = (*Registry)(nil)
