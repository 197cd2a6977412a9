package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	labels map[string]string
	value  string
}

func vectorResponse(samples ...sample) map[string]any {
	result := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		result = append(result, map[string]any{
			"metric": s.labels,
			"value":  []any{1767225600, s.value},
		})
	}
	return map[string]any{
		"status": "success",
		"data":   map[string]any{"resultType": "vector", "result": result},
	}
}

func TestGetRunMetricsAgainstFakeServer(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/query", r.URL.Path)
		query := r.FormValue("query")
		mu.Lock()
		queries = append(queries, query)
		mu.Unlock()

		var body map[string]any
		switch {
		case strings.Contains(query, "aicoder_agent_attempts_total"):
			body = vectorResponse(
				sample{map[string]string{"outcome": "success"}, "4"},
				sample{map[string]string{"outcome": "failure"}, "2"},
			)
		case strings.Contains(query, `type="prompt"`):
			body = vectorResponse(sample{map[string]string{}, "1200"})
		case strings.Contains(query, `type="completion"`):
			body = vectorResponse()
		default:
			t.Errorf("unexpected query %q", query)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	m, err := q.GetRunMetrics(context.Background(), "run-7")
	require.NoError(t, err)

	assert.Equal(t, "run-7", m.RunID)
	assert.Equal(t, map[string]int64{"success": 4, "failure": 2}, m.Attempts)
	assert.Equal(t, int64(1200), m.PromptTokens)
	assert.Equal(t, int64(0), m.CompletionTokens, "an empty vector counts as zero")
	assert.Equal(t, int64(1200), m.TotalTokens)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 3)
	for _, query := range queries {
		assert.Contains(t, query, `run_id="run-7"`)
	}
}

func TestGetRunMetricsReportsQueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	_, err = q.GetRunMetrics(context.Background(), "run-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query attempts")
}
