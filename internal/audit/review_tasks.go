package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/entitymesh/resolve/internal/model"
)

// CreateTask inserts a new pending review task and returns its id.
func (s *Store) CreateTask(ctx context.Context, collection string, pair model.PairSnapshot, priority model.Priority, aiSignal *model.AISignal) (string, error) {
	taskID := newID()

	pairJSON, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("audit: marshal pair snapshot: %w", err)
	}
	signalJSON, err := jsonOrNull(aiSignal)
	if err != nil {
		return "", fmt.Errorf("audit: marshal ai signal: %w", err)
	}

	err = withRetry(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO review_tasks (task_id, collection, pair_payload, priority, status, created_at, ai_signal)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, taskID, collection, string(pairJSON), string(priority), string(model.TaskPending), time.Now().UTC().Format(time.RFC3339Nano), signalJSON)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("audit: create task: %w", err)
	}
	return taskID, nil
}

// Assign moves a pending task to in-progress, atomically: it only succeeds
// if the task is currently pending.
func (s *Store) Assign(ctx context.Context, taskID, reviewer string) error {
	var rows int64
	err := withRetry(ctx, 3, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE review_tasks SET assigned_to = ?, status = ?
			WHERE task_id = ? AND status = ?
		`, reviewer, string(model.TaskInProgress), taskID, string(model.TaskPending))
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("audit: assign %s: %w", taskID, err)
	}
	if rows == 0 {
		return fmt.Errorf("audit: assign %s: %w", taskID, ErrInvalidTransition)
	}
	return nil
}

// Complete records a reviewer's decision on an in-progress task assigned to
// them, atomically: it only succeeds if assigned_to matches reviewer and the
// task is currently in-progress.
func (s *Store) Complete(ctx context.Context, taskID, reviewer string, decision model.ReviewDecision, confidence float64, notes string) error {
	var rows int64
	err := withRetry(ctx, 3, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE review_tasks
			SET status = ?, completed_at = ?, decision = ?, notes = ?, confidence = ?
			WHERE task_id = ? AND assigned_to = ? AND status = ?
		`, string(model.TaskCompleted), time.Now().UTC().Format(time.RFC3339Nano), string(decision), notes, confidence,
			taskID, reviewer, string(model.TaskInProgress))
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("audit: complete %s: %w", taskID, err)
	}
	if rows == 0 {
		return fmt.Errorf("audit: complete %s: %w", taskID, ErrInvalidTransition)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("audit: complete %s: reload task: %w", taskID, err)
	}
	_, err = s.RecordReviewCompleted(ctx, task, reviewer, decision, confidence)
	return err
}

// GetTask returns a single task by id, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, taskID string) (model.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT * FROM review_tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ReviewTask{}, fmt.Errorf("audit: get task %s: %w", taskID, ErrNotFound)
		}
		return model.ReviewTask{}, fmt.Errorf("audit: get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListPending returns pending tasks, optionally filtered by assigned
// reviewer and/or priority, oldest first.
func (s *Store) ListPending(ctx context.Context, reviewer string, priority model.Priority) ([]model.ReviewTask, error) {
	query := `SELECT * FROM review_tasks WHERE status = ?`
	args := []any{string(model.TaskPending)}
	if reviewer != "" {
		query += ` AND assigned_to = ?`
		args = append(args, reviewer)
	}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(priority))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list pending: %w", err)
	}
	defer rows.Close()

	var tasks []model.ReviewTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: list pending: scan: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.ReviewTask, error) {
	var (
		task                                        model.ReviewTask
		pairJSON                                     string
		priority, status, createdAt                  string
		assignedTo, completedAt, decision, notes     sql.NullString
		confidence                                   sql.NullFloat64
		aiSignalJSON                                  sql.NullString
	)
	if err := row.Scan(&task.TaskID, &task.CollectionName, &pairJSON, &priority, &status, &createdAt,
		&assignedTo, &completedAt, &decision, &notes, &confidence, &aiSignalJSON); err != nil {
		return model.ReviewTask{}, err
	}

	if err := json.Unmarshal([]byte(pairJSON), &task.Pair); err != nil {
		return model.ReviewTask{}, fmt.Errorf("unmarshal pair payload: %w", err)
	}
	task.Priority = model.Priority(priority)
	task.Status = model.TaskStatus(status)
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.ReviewTask{}, fmt.Errorf("parse created_at: %w", err)
	}
	task.CreatedAt = created
	task.AssignedTo = assignedTo.String
	task.Decision = model.ReviewDecision(decision.String)
	task.ReviewerNotes = notes.String

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return model.ReviewTask{}, fmt.Errorf("parse completed_at: %w", err)
		}
		task.CompletedAt = &t
	}
	if confidence.Valid {
		v := confidence.Float64
		task.ReviewerConfidence = &v
	}
	if aiSignalJSON.Valid {
		var sig model.AISignal
		if err := json.Unmarshal([]byte(aiSignalJSON.String), &sig); err != nil {
			return model.ReviewTask{}, fmt.Errorf("unmarshal ai_signal: %w", err)
		}
		task.AISignal = &sig
	}
	return task, nil
}
