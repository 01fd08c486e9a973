package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordMetric appends one quality-metric observation (e.g. a per-run
// auto-merge rate, a review backlog size) for later trend queries. This is a
// SPEC_FULL supplement: the spec's core operations don't name it, but the
// three-table schema already carries the quality_metrics table and nothing
// else in the engine writes to it.
func (s *Store) RecordMetric(ctx context.Context, metricType string, value float64, details string) error {
	return withRetry(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO quality_metrics (date, metric_type, metric_value, details)
			VALUES (?, ?, ?, ?)
		`, time.Now().UTC().Format(time.RFC3339Nano), metricType, value, details)
		return err
	})
}

// DecisionStat summarizes completed review decisions of one kind.
type DecisionStat struct {
	Decision      string
	Count         int
	AvgConfidence float64
}

// OperationStat summarizes audit records of one operation type.
type OperationStat struct {
	Op            string
	Count         int
	AvgConfidence float64
}

// QualityMetrics aggregates review-decision and audit-operation statistics
// since a cutoff time.
type QualityMetrics struct {
	Since      time.Time
	Decisions  []DecisionStat
	Operations []OperationStat
}

// Statistics computes QualityMetrics for the window [since, now].
func (s *Store) Statistics(ctx context.Context, since time.Time) (QualityMetrics, error) {
	cutoff := since.UTC().Format(time.RFC3339Nano)
	qm := QualityMetrics{Since: since}

	decisionRows, err := s.db.QueryContext(ctx, `
		SELECT decision, COUNT(*), AVG(confidence)
		FROM review_tasks
		WHERE completed_at >= ? AND status = ?
		GROUP BY decision
	`, cutoff, "completed")
	if err != nil {
		return qm, fmt.Errorf("audit: statistics: decisions: %w", err)
	}
	defer decisionRows.Close()
	for decisionRows.Next() {
		var stat DecisionStat
		var avg sql.NullFloat64
		if err := decisionRows.Scan(&stat.Decision, &stat.Count, &avg); err != nil {
			return qm, fmt.Errorf("audit: statistics: scan decision: %w", err)
		}
		stat.AvgConfidence = avg.Float64
		qm.Decisions = append(qm.Decisions, stat)
	}
	if err := decisionRows.Err(); err != nil {
		return qm, err
	}

	opRows, err := s.db.QueryContext(ctx, `
		SELECT op, COUNT(*), AVG(confidence)
		FROM audit_records
		WHERE ts >= ?
		GROUP BY op
	`, cutoff)
	if err != nil {
		return qm, fmt.Errorf("audit: statistics: operations: %w", err)
	}
	defer opRows.Close()
	for opRows.Next() {
		var stat OperationStat
		var avg sql.NullFloat64
		if err := opRows.Scan(&stat.Op, &stat.Count, &avg); err != nil {
			return qm, fmt.Errorf("audit: statistics: scan operation: %w", err)
		}
		stat.AvgConfidence = avg.Float64
		qm.Operations = append(qm.Operations, stat)
	}
	return qm, opRows.Err()
}
