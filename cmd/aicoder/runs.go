package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aicoder/pkg/consistency"
	"aicoder/pkg/metrics"
	"aicoder/pkg/state"
	"aicoder/pkg/workflow"
)

func newRunCmd() *cobra.Command {
	var (
		mode        string
		router      string
		agentNames  []string
		outDir      string
		dumpMetrics bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Start a workflow run for a request",
		Long: `Start a workflow run and wait for it to finish. Interrupting the command
leaves the run resumable from its last checkpoint.

Examples:
  aicoder run "build a todo cli in python"
  aicoder run --agents planner,coder,tester,toolbox "a url shortener"
  aicoder run --workflow conditional --router orchestrated --out ./generated "a chat server"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, projectDir)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.ListenAddr
			}
			if metricsAddr != "" {
				shutdown, err := serveMetrics(metricsAddr, a.recorder.Handler())
				if err != nil {
					return err
				}
				defer shutdown()
			}

			spec := a.topology(mode, router, agentNames)
			runID, err := a.runs.StartRun(ctx, strings.Join(args, " "), spec)
			if err != nil {
				return err //nolint:wrapcheck // startup errors are already descriptive
			}
			fmt.Fprintf(os.Stderr, "Started run %s (%s)\n", runID, describe(spec))

			res, waitErr := a.runs.Wait(ctx, runID)
			if waitErr != nil && ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "Interrupted; resume with: aicoder resume %s\n", runID)
				return nil
			}
			if err := report(res, waitErr, outDir); err != nil {
				return err
			}
			if dumpMetrics {
				if err := metrics.WriteText(os.Stdout, a.recorder.Registry()); err != nil {
					return err //nolint:wrapcheck // already wrapped
				}
			}
			return runError(res, waitErr)
		},
	}
	cmd.Flags().StringVar(&mode, "workflow", "", "Workflow type: simple or conditional (default from config)")
	cmd.Flags().StringVar(&router, "router", "", "Router for conditional workflows: pipeline or orchestrated")
	cmd.Flags().StringSliceVar(&agentNames, "agents", nil, "Agent sequence for simple workflows")
	cmd.Flags().StringVar(&outDir, "out", "", "Write generated files under this directory")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "Print collected metrics after the run")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on this address while the run executes (default metrics.listen_addr)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var (
		all    bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Resume a run from its latest checkpoint",
		Long: `Resume a non-terminal run from its latest checkpoint. With --all every
non-terminal run is resumed concurrently.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, projectDir)
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				results, err := a.runs.ResumeAll(ctx)
				for _, res := range results {
					fmt.Printf("%s\t%s\n", res.RunID, res.Status)
				}
				if len(results) == 0 && err == nil {
					fmt.Println("No runs to resume")
				}
				return err //nolint:wrapcheck // already wrapped
			}

			runID, err := a.runs.ResumeRun(ctx, args[0])
			if err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			res, waitErr := a.runs.Wait(ctx, runID)
			if waitErr != nil && ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "Interrupted; resume with: aicoder resume %s\n", runID)
				return nil
			}
			if err := report(res, waitErr, outDir); err != nil {
				return err
			}
			return runError(res, waitErr)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Resume every non-terminal run")
	cmd.Flags().StringVar(&outDir, "out", "", "Write generated files under this directory")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer a.Close()

			if history {
				snaps, err := a.runs.History(cmd.Context(), args[0])
				if err != nil {
					return err //nolint:wrapcheck // already wrapped
				}
				if jsonOutput {
					return printJSON(snaps)
				}
				w := newTable()
				fmt.Fprintln(w, "SEQ\tSTATUS\tCURSOR\tSAVED")
				for i := range snaps {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", snaps[i].Seq, snaps[i].Status, dash(snaps[i].Cursor), snaps[i].SavedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}

			st, err := a.runs.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			if jsonOutput {
				return printJSON(st)
			}
			printStatus(&st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "List every checkpoint of the run")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpointed runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses, err := a.runs.ListRuns(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			if jsonOutput {
				return printJSON(statuses)
			}
			if len(statuses) == 0 {
				fmt.Println("No runs found")
				return nil
			}
			w := newTable()
			fmt.Fprintln(w, "RUN\tSTATUS\tCURSOR\tSTAGES\tUPDATED")
			for i := range statuses {
				s := &statuses[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.RunID, s.Status, dash(s.Cursor), len(s.Stages), s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <run-id>",
		Short: "Mark a paused run as aborted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), projectDir)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.runs.Abort(cmd.Context(), args[0]); err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			fmt.Printf("Run %s aborted\n", args[0])
			return nil
		},
	}
}

func describe(spec workflow.TopologySpec) string {
	if spec.Mode == workflow.ModeConditional {
		return fmt.Sprintf("conditional, router %s", spec.Router)
	}
	return "simple: " + strings.Join(spec.Agents, " -> ")
}

// report prints the outcome of a run and writes its files when outDir is set.
func report(res *workflow.Result, err error, outDir string) error {
	if res == nil {
		return err
	}
	if jsonOutput {
		out := map[string]any{"run_id": res.RunID, "status": res.Status, "report": res.Report}
		if err != nil {
			out["error"] = err.Error()
		}
		return printJSON(out)
	}

	fmt.Printf("Run %s %s\n", res.RunID, res.Status)
	if res.State != nil {
		for _, s := range res.State.Stages() {
			fmt.Printf("  %-12s %-8s attempt %d\n", s.Agent, s.Outcome, s.Attempt)
		}
	}
	if res.Report != nil {
		fmt.Printf("Consistency: %s\n", res.Report.Summary())
	}
	if outDir != "" && res.State != nil {
		n, err := writeFiles(res.State, outDir)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d files to %s\n", n, outDir)
	}
	return nil
}

func runError(res *workflow.Result, err error) error {
	if err == nil || res == nil {
		return err
	}
	if res.Status == state.StatusAborted && errors.Is(err, workflow.ErrRunAborted) {
		return nil
	}
	return fmt.Errorf("run %s %s: %w", res.RunID, res.Status, err)
}

// writeFiles writes the run's generated files under dir, refusing paths that
// would escape it.
func writeFiles(st *state.State, dir string) (int, error) {
	files := map[string]consistency.GeneratedFile{}
	if !st.Has(state.KeyGeneratedFiles) {
		return 0, nil
	}
	if err := st.Decode(state.KeyGeneratedFiles, &files); err != nil {
		return 0, fmt.Errorf("failed to read generated files: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for name, f := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return 0, fmt.Errorf("generated file %q escapes %s", name, dir)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return 0, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(f.Content), 0644); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return len(files), nil
}

// serveMetrics serves h on addr until the returned function is called.
func serveMetrics(addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	fmt.Fprintf(os.Stderr, "Serving metrics on http://%s/metrics\n", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
