package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"aicoder/pkg/runs"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printStatus(st *runs.Status) {
	fmt.Printf("Run:        %s\n", st.RunID)
	fmt.Printf("Status:     %s", st.Status)
	if st.Active {
		fmt.Print(" (executing)")
	}
	fmt.Println()
	fmt.Printf("Topology:   %s\n", describe(st.Topology))
	fmt.Printf("Cursor:     %s\n", dash(st.Cursor))
	fmt.Printf("Checkpoint: %d at %s\n", st.Checkpoint, st.UpdatedAt.Format(time.RFC3339))
	if st.Error != "" {
		fmt.Printf("Error:      %s\n", st.Error)
	}

	if len(st.Stages) > 0 {
		fmt.Println()
		w := newTable()
		fmt.Fprintln(w, "AGENT\tATTEMPT\tOUTCOME\tDURATION\tERROR")
		for _, s := range st.Stages {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", s.Agent, s.Attempt, s.Outcome, s.End.Sub(s.Start).Round(time.Millisecond), dash(s.Error))
		}
		_ = w.Flush()
	}
	if len(st.Routes) > 0 {
		fmt.Println()
		w := newTable()
		fmt.Fprintln(w, "FROM\tTO\tACCEPTED\tREASON")
		for _, r := range st.Routes {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.From, dash(r.To), r.Accepted, r.Reason)
		}
		_ = w.Flush()
	}
	if st.Report != nil {
		fmt.Printf("\nConsistency: %s\n", st.Report.Summary())
		for _, v := range st.Report.Violations {
			fmt.Printf("  %s\n", v)
		}
		for _, warn := range st.Report.Warnings {
			fmt.Printf("  warning: %s\n", warn)
		}
	}
}
