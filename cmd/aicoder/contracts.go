package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"aicoder/pkg/agents"
	"aicoder/pkg/config"
	"aicoder/pkg/registry"
)

func newContractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect agent contracts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Finalize the registry and report missing agents",
		Long: `Load the built-in contracts plus any contracts_dir overrides, finalize
the registry and report which of the built-in agents are missing.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(projectDir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rep, order, err := validateContracts(&cfg, projectDir)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"report": rep, "order": order})
			}

			fmt.Println(rep.String())
			names := make([]string, 0, len(rep.Capabilities))
			for name := range rep.Capabilities {
				names = append(names, name)
			}
			sort.Strings(names)
			w := newTable()
			fmt.Fprintln(w, "AGENT\tCAPABILITIES")
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, dash(rep.Capabilities[name]))
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write table: %w", err)
			}
			fmt.Printf("Topological order: %v\n", order)
			if !rep.Valid {
				return fmt.Errorf("missing agents: %v", rep.MissingAgents)
			}
			return nil
		},
	})
	return cmd
}

// validateContracts builds a registry without a generator; executables are
// bound but never called.
func validateContracts(cfg *config.Config, dir string) (registry.Report, []string, error) {
	contracts, err := loadContracts(cfg, dir)
	if err != nil {
		return registry.Report{}, nil, err
	}
	reg := registry.New()
	if err := agents.Register(reg, contracts, agents.Deps{}); err != nil {
		return registry.Report{}, nil, fmt.Errorf("failed to register agents: %w", err)
	}
	if err := reg.Finalize(); err != nil {
		return registry.Report{}, nil, fmt.Errorf("invalid agent contracts: %w", err)
	}
	order, err := reg.TopologicalOrder()
	if err != nil {
		return registry.Report{}, nil, fmt.Errorf("failed to order agents: %w", err)
	}
	return reg.Validate(agents.Names), order, nil
}
