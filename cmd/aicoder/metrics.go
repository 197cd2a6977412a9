package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"aicoder/pkg/config"
	"aicoder/pkg/metrics"
)

func newMetricsCmd() *cobra.Command {
	var prometheusURL string
	cmd := &cobra.Command{
		Use:   "metrics <run-id>",
		Short: "Query a Prometheus server for a run's attempts and token usage",
		Long: `Query the Prometheus server that scraped "aicoder run --metrics-addr" for
the attempt counts and token usage of one run. The server address comes from
--prometheus or metrics.prometheus_url in the config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prometheusURL == "" {
				cfg, err := config.Load(projectDir)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				prometheusURL = cfg.Metrics.PrometheusURL
			}
			if prometheusURL == "" {
				return errors.New("no Prometheus server configured: set --prometheus or metrics.prometheus_url")
			}

			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			m, err := q.GetRunMetrics(cmd.Context(), args[0])
			if err != nil {
				return err //nolint:wrapcheck // already wrapped
			}
			if jsonOutput {
				return printJSON(m)
			}
			fmt.Printf("Run %s\n", m.RunID)
			for outcome, n := range m.Attempts {
				fmt.Printf("  attempts %-8s %d\n", outcome, n)
			}
			fmt.Printf("  tokens   prompt %d, completion %d, total %d\n", m.PromptTokens, m.CompletionTokens, m.TotalTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus server URL")
	return cmd
}
