package registry

import (
	"fmt"
	"strings"
)

// Report summarizes how a finalized registry covers an expected agent set.
type Report struct {
	Valid         bool              `json:"valid"`
	TotalAgents   int               `json:"total_agents"`
	MissingAgents []string          `json:"missing_agents,omitempty"`
	Capabilities  map[string]string `json:"capabilities"`
}

// Validate reports which expected agents are not registered.
func (r *Registry) Validate(expected []string) Report {
	rep := Report{
		TotalAgents:  len(r.entries),
		Capabilities: make(map[string]string, len(r.entries)),
	}
	for _, name := range expected {
		if !r.Has(name) {
			rep.MissingAgents = append(rep.MissingAgents, name)
		}
	}
	for name, e := range r.entries {
		rep.Capabilities[name] = strings.Join(e.contract.Capabilities, ",")
	}
	rep.Valid = len(rep.MissingAgents) == 0
	return rep
}

func (rep Report) String() string {
	if rep.Valid {
		return fmt.Sprintf("%d agents registered, all expected agents present", rep.TotalAgents)
	}
	return fmt.Sprintf("%d agents registered, missing: %s", rep.TotalAgents, strings.Join(rep.MissingAgents, ", "))
}
