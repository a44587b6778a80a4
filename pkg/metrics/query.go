package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ThrottleStats aggregates limiter rejections for one provider.
type ThrottleStats struct {
	Provider         string  `json:"provider"`
	RequestsRejected int64   `json:"requests_rejected"`
	TokensRejected   int64   `json:"tokens_rejected"`
	AvgQueueWaitSecs float64 `json:"avg_queue_wait_secs"`
}

// QueryService reads aggregated throttle metrics back from a Prometheus
// server, for operational dashboards and the diagnostic CLI.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

func (q *QueryService) scalarQuery(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetThrottleStats returns rejection totals and average retry wait for a provider.
func (q *QueryService) GetThrottleStats(ctx context.Context, provider string) (*ThrottleStats, error) {
	stats := &ThrottleStats{Provider: provider}

	requests, err := q.scalarQuery(ctx,
		fmt.Sprintf(`sum(llm_throttle_total{provider=%q, limit_type="requests"})`, provider))
	if err != nil {
		return nil, err
	}
	stats.RequestsRejected = int64(requests)

	tokens, err := q.scalarQuery(ctx,
		fmt.Sprintf(`sum(llm_throttle_total{provider=%q, limit_type="tokens"})`, provider))
	if err != nil {
		return nil, err
	}
	stats.TokensRejected = int64(tokens)

	avgWait, err := q.scalarQuery(ctx, fmt.Sprintf(
		`sum(llm_queue_wait_duration_seconds_sum{provider=%q}) / sum(llm_queue_wait_duration_seconds_count{provider=%q})`,
		provider, provider))
	if err != nil {
		return nil, err
	}
	stats.AvgQueueWaitSecs = avgWait

	return stats, nil
}
