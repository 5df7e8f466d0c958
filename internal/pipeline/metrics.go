package pipeline

import (
	"context"
	"errors"
)

// ErrRunLogDisabled is returned by metrics queries when no run log is configured.
var ErrRunLogDisabled = errors.New("run log disabled")

// MetricsSummary represents aggregated run insights.
type MetricsSummary struct {
	TotalRuns         int64   `json:"total_runs"`
	CompletedRuns     int64   `json:"completed_runs"`
	CompletionRate    float64 `json:"completion_rate"`
	DemoRuns          int64   `json:"demo_runs"`
	TumorRuns         int64   `json:"tumor_runs"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// GetMetricsSummary aggregates run metrics from the persisted run log.
func (o *Orchestrator) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if o.runs == nil {
		return nil, ErrRunLogDisabled
	}
	aggregation, err := o.runs.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRuns:         aggregation.TotalCount,
		CompletedRuns:     aggregation.CompletedCount,
		DemoRuns:          aggregation.DemoCount,
		TumorRuns:         aggregation.TumorCount,
		AverageDurationMs: aggregation.AverageDuration,
	}

	if aggregation.TotalCount > 0 {
		summary.CompletionRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
