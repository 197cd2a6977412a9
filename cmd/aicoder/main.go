// Command aicoder runs agent workflows that turn a natural-language request
// into a generated project, and inspects or resumes their checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aicoder/pkg/logx"
	"aicoder/pkg/version"
)

//nolint:gochecknoglobals // cobra flag bindings
var (
	projectDir string
	debug      bool
	jsonOutput bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aicoder",
		Short: "Run agent workflows that generate projects from a request",
		Long: `aicoder sequences planner, coder, tester and the other agents over a
shared execution state, checkpointing after every agent so runs can be
inspected, resumed or aborted.

Examples:
  # Run the configured workflow
  aicoder run "build a todo cli in python"

  # Run the pipeline router instead
  aicoder run --workflow conditional --router pipeline "build a todo cli"

  # Inspect and resume
  aicoder list
  aicoder status <run-id>
  aicoder resume <run-id>`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug {
				logx.SetDebug(true)
			}
		},
	}

	root.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "Project directory holding .aicoder/")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newResumeCmd(),
		newListCmd(),
		newAbortCmd(),
		newContractsCmd(),
		newSecretsCmd(),
		newMetricsCmd(),
	)
	return root
}
