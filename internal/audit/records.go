package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/entitymesh/resolve/internal/model"
)

// RecordMerge appends an audit record for a merge operation.
func (s *Store) RecordMerge(ctx context.Context, collection string, entityIDs []string, actor string, confidence float64, evidence []string, before, after []byte, aiSignal *model.AISignal) (string, error) {
	record := model.AuditRecord{
		AuditID:        newID(),
		Op:             model.OpMerge,
		CollectionName: collection,
		EntityIDs:      entityIDs,
		Actor:          actor,
		Timestamp:      time.Now().UTC(),
		Confidence:     confidence,
		Evidence:       evidence,
		BeforeState:    before,
		AfterState:     after,
		RollbackInfo:   mustJSON(map[string]any{"original_entities": entityIDs}),
		AISignal:       aiSignal,
	}
	return record.AuditID, s.saveRecord(ctx, record)
}

// RecordReviewCompleted appends an audit record documenting a completed
// human review decision.
func (s *Store) RecordReviewCompleted(ctx context.Context, task model.ReviewTask, reviewer string, decision model.ReviewDecision, confidence float64) (string, error) {
	record := model.AuditRecord{
		AuditID:        newID(),
		Op:             model.OpReviewCompleted,
		CollectionName: task.CollectionName,
		EntityIDs:      []string{task.Pair.EntityAID, task.Pair.EntityBID},
		Actor:          reviewer,
		Timestamp:      time.Now().UTC(),
		Confidence:     confidence,
		Evidence:       []string{"review_task_id:" + task.TaskID, "decision:" + string(decision)},
		BeforeState:    mustJSON(map[string]any{"status": "pending_review"}),
		AfterState:     mustJSON(map[string]any{"status": "reviewed", "decision": decision}),
		RollbackInfo:   mustJSON(map[string]any{"review_task_id": task.TaskID}),
		AISignal:       task.AISignal,
	}
	return record.AuditID, s.saveRecord(ctx, record)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (s *Store) saveRecord(ctx context.Context, record model.AuditRecord) error {
	entityIDsJSON, err := json.Marshal(record.EntityIDs)
	if err != nil {
		return fmt.Errorf("audit: marshal entity ids: %w", err)
	}
	evidenceJSON, err := json.Marshal(record.Evidence)
	if err != nil {
		return fmt.Errorf("audit: marshal evidence: %w", err)
	}
	aiSignalJSON, err := jsonOrNull(record.AISignal)
	if err != nil {
		return fmt.Errorf("audit: marshal ai signal: %w", err)
	}

	return withRetry(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_records
			(audit_id, op, collection, entity_ids, actor, ts, confidence, evidence, before_state, after_state, rollback_info, ai_signal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, record.AuditID, string(record.Op), record.CollectionName, string(entityIDsJSON), record.Actor,
			record.Timestamp.Format(time.RFC3339Nano), record.Confidence, string(evidenceJSON),
			string(record.BeforeState), string(record.AfterState), string(record.RollbackInfo), aiSignalJSON)
		if err != nil {
			return fmt.Errorf("audit: insert audit record: %w", err)
		}
		return nil
	})
}

const historyDefaultDaysBack = 30

// History returns audit records from the last daysBack days, most recent
// first, optionally filtered by collection and/or operation type. A
// daysBack of zero uses the spec default of 30.
func (s *Store) History(ctx context.Context, collection string, op model.AuditOp, daysBack int) ([]model.AuditRecord, error) {
	if daysBack == 0 {
		daysBack = historyDefaultDaysBack
	}
	since := time.Now().UTC().AddDate(0, 0, -daysBack)

	query := `SELECT * FROM audit_records WHERE ts >= ?`
	args := []any{since.Format(time.RFC3339Nano)}
	if collection != "" {
		query += ` AND collection = ?`
		args = append(args, collection)
	}
	if op != "" {
		query += ` AND op = ?`
		args = append(args, string(op))
	}
	query += ` ORDER BY ts DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: history: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: history: scan: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// getRecord fetches a single audit record by id, or ErrNotFound.
func (s *Store) getRecord(ctx context.Context, auditID string) (model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT * FROM audit_records WHERE audit_id = ?`, auditID)
	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.AuditRecord{}, fmt.Errorf("audit: get record %s: %w", auditID, ErrNotFound)
		}
		return model.AuditRecord{}, fmt.Errorf("audit: get record %s: %w", auditID, err)
	}
	return record, nil
}

// Rollback appends a new audit record that inverts a previous operation's
// before/after state (invariant I3: never mutates the original row).
func (s *Store) Rollback(ctx context.Context, auditID, reason string) (string, error) {
	original, err := s.getRecord(ctx, auditID)
	if err != nil {
		return "", err
	}

	rollback := model.AuditRecord{
		AuditID:        newID(),
		Op:             model.OpRollback,
		CollectionName: original.CollectionName,
		EntityIDs:      original.EntityIDs,
		Actor:          "system",
		Timestamp:      time.Now().UTC(),
		Confidence:     100,
		Evidence:       []string{"original_audit_id:" + auditID, "reason:" + reason},
		BeforeState:    original.AfterState,
		AfterState:     original.BeforeState,
		RollbackInfo:   mustJSON(map[string]any{"original_operation": original.Op}),
	}
	if err := s.saveRecord(ctx, rollback); err != nil {
		return "", err
	}
	return rollback.AuditID, nil
}

func scanRecord(row rowScanner) (model.AuditRecord, error) {
	var (
		record                                                   model.AuditRecord
		op, ts                                                    string
		entityIDsJSON, evidenceJSON                               string
		beforeState, afterState, rollbackInfo                     string
		aiSignalJSON                                              sql.NullString
	)
	if err := row.Scan(&record.AuditID, &op, &record.CollectionName, &entityIDsJSON, &record.Actor, &ts,
		&record.Confidence, &evidenceJSON, &beforeState, &afterState, &rollbackInfo, &aiSignalJSON); err != nil {
		return model.AuditRecord{}, err
	}

	record.Op = model.AuditOp(op)
	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("parse ts: %w", err)
	}
	record.Timestamp = timestamp

	if err := json.Unmarshal([]byte(entityIDsJSON), &record.EntityIDs); err != nil {
		return model.AuditRecord{}, fmt.Errorf("unmarshal entity_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &record.Evidence); err != nil {
		return model.AuditRecord{}, fmt.Errorf("unmarshal evidence: %w", err)
	}
	record.BeforeState = []byte(beforeState)
	record.AfterState = []byte(afterState)
	record.RollbackInfo = []byte(rollbackInfo)

	if aiSignalJSON.Valid {
		var sig model.AISignal
		if err := json.Unmarshal([]byte(aiSignalJSON.String), &sig); err != nil {
			return model.AuditRecord{}, fmt.Errorf("unmarshal ai_signal: %w", err)
		}
		record.AISignal = &sig
	}
	return record, nil
}
