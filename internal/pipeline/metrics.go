package pipeline

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/entitymesh/resolve/internal/telemetry"
)

// pipelineMetrics holds the OTEL instruments Analyze records against.
// registerMetrics always returns a usable value, falling back to an
// alternate instrument name if the global meter provider already has one
// registered under the primary name.
type pipelineMetrics struct {
	candidatePairs metric.Int64Counter
	autoMerged     metric.Int64Counter
	reviewTasks    metric.Int64Counter
	failedPairs    metric.Int64Counter
	confidence     metric.Float64Histogram
}

func registerMetrics() *pipelineMetrics {
	meter := telemetry.Meter("resolve/pipeline")

	candidatePairs, err := meter.Int64Counter("resolve.pipeline.candidate_pairs",
		metric.WithDescription("Candidate pairs produced by an EntityProcessor's prescreen"))
	if err != nil {
		candidatePairs, _ = meter.Int64Counter("resolve.pipeline.candidate_pairs.fallback")
	}

	autoMerged, err := meter.Int64Counter("resolve.pipeline.auto_merged",
		metric.WithDescription("Pairs merged automatically without a review task"))
	if err != nil {
		autoMerged, _ = meter.Int64Counter("resolve.pipeline.auto_merged.fallback")
	}

	reviewTasks, err := meter.Int64Counter("resolve.pipeline.review_tasks_created",
		metric.WithDescription("Review tasks created for human disposition"))
	if err != nil {
		reviewTasks, _ = meter.Int64Counter("resolve.pipeline.review_tasks_created.fallback")
	}

	failedPairs, err := meter.Int64Counter("resolve.pipeline.failed_pairs",
		metric.WithDescription("Pairs that failed merge execution or an audit-store write"))
	if err != nil {
		failedPairs, _ = meter.Int64Counter("resolve.pipeline.failed_pairs.fallback")
	}

	confidence, err := meter.Float64Histogram("resolve.pipeline.pair_confidence",
		metric.WithDescription("Composite confidence of every scored candidate pair"))
	if err != nil {
		confidence, _ = meter.Float64Histogram("resolve.pipeline.pair_confidence.fallback")
	}

	return &pipelineMetrics{
		candidatePairs: candidatePairs,
		autoMerged:     autoMerged,
		reviewTasks:    reviewTasks,
		failedPairs:    failedPairs,
		confidence:     confidence,
	}
}
