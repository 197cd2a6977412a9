package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunMetrics is the aggregated usage of one run as scraped by a Prometheus server.
type RunMetrics struct {
	RunID            string           `json:"run_id"`
	Attempts         map[string]int64 `json:"attempts"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetRunMetrics retrieves attempt counts per outcome and token totals for a run.
func (q *QueryService) GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error) {
	metrics := &RunMetrics{
		RunID:    runID,
		Attempts: make(map[string]int64),
	}

	attemptsQuery := fmt.Sprintf(`sum by (outcome) (aicoder_agent_attempts_total{run_id=%q})`, runID)
	result, _, err := q.queryAPI.Query(ctx, attemptsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			metrics.Attempts[string(sample.Metric["outcome"])] = int64(sample.Value)
		}
	}

	if metrics.PromptTokens, err = q.scalar(ctx,
		fmt.Sprintf(`sum(aicoder_tokens_total{run_id=%q, type="prompt"})`, runID)); err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if metrics.CompletionTokens, err = q.scalar(ctx,
		fmt.Sprintf(`sum(aicoder_tokens_total{run_id=%q, type="completion"})`, runID)); err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	return metrics, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by caller
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
