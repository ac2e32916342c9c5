package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/browsecore/browseserver/internal/apperr"
)

// allowedTransitions enumerates the Task state machine's legal edges. Any
// (from, to) pair absent from this set is rejected with apperr.IllegalTransition
// regardless of what the caller believes the current status to be.
var allowedTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskQueued: {
		TaskRunning:   true,
		TaskCancelled: true,
	},
	TaskRunning: {
		TaskCompleted: true,
		TaskFailed:    true,
		TaskCancelled: true,
	},
}

// TaskStore is the authoritative, transactional home for Tasks, their
// StepRecords, and their Artifacts.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore wraps an already-migrated database connection.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask atomically inserts a Task in the QUEUED state.
func (s *TaskStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	t.Status = TaskQueued
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			task_id, tool_name, arguments, status, max_steps, execution_mode,
			allow_early_completion, current_step, total_steps_planned,
			created_at, started_at, ended_at, result_summary, error_kind
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, '', '')`,
		t.TaskID, t.ToolName, t.Arguments, t.Status, t.MaxSteps, t.ExecutionMode,
		t.AllowEarlyCompletion, t.CurrentStep, t.TotalStepsPlanned, t.CreatedAt,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task %s: %w", t.TaskID, err)
	}
	return t, nil
}

// TransitionFields carries the optional column updates that accompany a
// status transition (e.g. result_summary and error_kind on terminal edges).
type TransitionFields struct {
	ResultSummary string
	ErrorKind     string
}

// Transition performs a compare-and-swap on a task's status. It fails with
// apperr.IllegalTransition if the task's current status is not `from`, or if
// (from, to) is not one of the state machine's allowed edges.
func (s *TaskStore) Transition(ctx context.Context, taskID string, from, to TaskStatus, fields TransitionFields) (Task, error) {
	if !allowedTransitions[from][to] {
		return Task{}, apperr.Newf(apperr.IllegalTransition, "transition %s->%s is not a legal edge", from, to)
	}

	var result Task
	err := transact(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var startedAt, endedAt any
		if to == TaskRunning {
			startedAt = now
		}
		if to == TaskCompleted || to == TaskFailed || to == TaskCancelled {
			endedAt = now
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?,
			    started_at = COALESCE(?, started_at),
			    ended_at = COALESCE(?, ended_at),
			    result_summary = CASE WHEN ? != '' THEN ? ELSE result_summary END,
			    error_kind = CASE WHEN ? != '' THEN ? ELSE error_kind END
			WHERE task_id = ? AND status = ?`,
			to, startedAt, endedAt,
			fields.ResultSummary, fields.ResultSummary,
			fields.ErrorKind, fields.ErrorKind,
			taskID, from,
		)
		if err != nil {
			return fmt.Errorf("update task %s status: %w", taskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return apperr.Newf(apperr.IllegalTransition, "task %s is not in status %s", taskID, from)
		}

		result, err = fetchTaskTx(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return result, nil
}

// RecordStep inserts a new StepRecord. It enforces one-RUNNING-per-task: if
// rec.Status is RUNNING and another step for this task is already RUNNING,
// the insert fails with apperr.IllegalTransition.
func (s *TaskStore) RecordStep(ctx context.Context, rec StepRecord) error {
	return transact(ctx, s.db, func(tx *sql.Tx) error {
		return insertOrUpdateStep(ctx, tx, rec, true)
	})
}

// UpdateStep overwrites an existing StepRecord (e.g. PENDING/RUNNING ->
// COMPLETED/FAILED). Same one-RUNNING-per-task enforcement as RecordStep.
func (s *TaskStore) UpdateStep(ctx context.Context, rec StepRecord) error {
	return transact(ctx, s.db, func(tx *sql.Tx) error {
		return insertOrUpdateStep(ctx, tx, rec, false)
	})
}

func insertOrUpdateStep(ctx context.Context, tx *sql.Tx, rec StepRecord, insert bool) error {
	if rec.Status == StepRunning {
		var running int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM step_records
			WHERE task_id = ? AND status = ? AND step_number != ?`,
			rec.TaskID, StepRunning, rec.StepNumber,
		).Scan(&running)
		if err != nil {
			return fmt.Errorf("count running steps: %w", err)
		}
		if running > 0 {
			return apperr.Newf(apperr.IllegalTransition, "task %s already has a RUNNING step", rec.TaskID)
		}
	}

	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal browser state: %w", err)
	}

	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_records (
				task_id, step_number, status, description, started_at, ended_at,
				confidence, result_text, browser_state
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.TaskID, rec.StepNumber, rec.Status, rec.Description,
			rec.StartedAt, rec.EndedAt, rec.Confidence, rec.ResultText, string(stateJSON),
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE step_records
			SET status = ?, description = ?, started_at = ?, ended_at = ?,
			    confidence = ?, result_text = ?, browser_state = ?
			WHERE task_id = ? AND step_number = ?`,
			rec.Status, rec.Description, rec.StartedAt, rec.EndedAt,
			rec.Confidence, rec.ResultText, string(stateJSON),
			rec.TaskID, rec.StepNumber,
		)
	}
	if err != nil {
		return fmt.Errorf("write step record %s/%d: %w", rec.TaskID, rec.StepNumber, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE tasks SET current_step = ? WHERE task_id = ? AND current_step < ?`,
		rec.StepNumber, rec.TaskID, rec.StepNumber)
	if err != nil {
		return fmt.Errorf("advance current_step for %s: %w", rec.TaskID, err)
	}
	return nil
}

// AttachArtifact appends an Artifact to a task. Artifacts are never updated
// or removed except by Prune, so this is a plain insert.
func (s *TaskStore) AttachArtifact(ctx context.Context, a Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (
			artifact_id, task_id, step_number, kind, content_ref, public_url,
			bytes, width, height, quality_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.TaskID, a.StepNumber, a.Kind, a.ContentRef, a.PublicURL,
		a.Bytes, a.Width, a.Height, a.QualityScore, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("attach artifact %s: %w", a.ArtifactID, err)
	}
	return nil
}

// TaskDetail is the hydrated result of Fetch: a task with its ordered steps
// and artifacts read in a single transaction.
type TaskDetail struct {
	Task      Task
	Steps     []StepRecord
	Artifacts []Artifact
}

// Fetch hydrates a task with its ordered steps and artifacts in one read.
func (s *TaskStore) Fetch(ctx context.Context, taskID string) (TaskDetail, error) {
	var detail TaskDetail
	err := transact(ctx, s.db, func(tx *sql.Tx) error {
		t, err := fetchTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		detail.Task = t

		steps, err := fetchStepsTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		detail.Steps = steps

		artifacts, err := fetchArtifactsTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		detail.Artifacts = artifacts
		return nil
	})
	if err != nil {
		return TaskDetail{}, err
	}
	return detail, nil
}

func fetchTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (Task, error) {
	var t Task
	var startedAt, endedAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT task_id, tool_name, arguments, status, max_steps, execution_mode,
		       allow_early_completion, current_step, total_steps_planned,
		       created_at, started_at, ended_at, result_summary, error_kind
		FROM tasks WHERE task_id = ?`, taskID,
	).Scan(&t.TaskID, &t.ToolName, &t.Arguments, &t.Status, &t.MaxSteps, &t.ExecutionMode,
		&t.AllowEarlyCompletion, &t.CurrentStep, &t.TotalStepsPlanned,
		&t.CreatedAt, &startedAt, &endedAt, &t.ResultSummary, &t.ErrorKind)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.Newf(apperr.TaskNotFound, "task %s not found", taskID)
	}
	if err != nil {
		return Task{}, fmt.Errorf("fetch task %s: %w", taskID, err)
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		t.EndedAt = &endedAt.Time
	}
	return t, nil
}

func fetchStepsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]StepRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT task_id, step_number, status, description, started_at, ended_at,
		       confidence, result_text, browser_state
		FROM step_records WHERE task_id = ? ORDER BY step_number ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query steps for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []StepRecord
	for rows.Next() {
		var rec StepRecord
		var startedAt, endedAt sql.NullTime
		var stateJSON string
		if err := rows.Scan(&rec.TaskID, &rec.StepNumber, &rec.Status, &rec.Description,
			&startedAt, &endedAt, &rec.Confidence, &rec.ResultText, &stateJSON); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		if startedAt.Valid {
			rec.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			rec.EndedAt = &endedAt.Time
		}
		if stateJSON != "" {
			_ = json.Unmarshal([]byte(stateJSON), &rec.State)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func fetchArtifactsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]Artifact, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT artifact_id, task_id, step_number, kind, content_ref, public_url,
		       bytes, width, height, quality_score, created_at
		FROM artifacts WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var stepNumber sql.NullInt64
		if err := rows.Scan(&a.ArtifactID, &a.TaskID, &stepNumber, &a.Kind, &a.ContentRef, &a.PublicURL,
			&a.Bytes, &a.Width, &a.Height, &a.QualityScore, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		if stepNumber.Valid {
			n := int(stepNumber.Int64)
			a.StepNumber = &n
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes terminal tasks (and their cascaded steps/artifacts) whose
// created_at is older than olderThan. Non-terminal tasks are never pruned,
// regardless of age.
func (s *TaskStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var deleted int64
	err := transact(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT task_id FROM tasks
			WHERE created_at < ? AND status IN (?, ?, ?)`,
			olderThan, TaskCompleted, TaskFailed, TaskCancelled)
		if err != nil {
			return fmt.Errorf("select prunable tasks: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan prunable task id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE task_id = ?`, id); err != nil {
				return fmt.Errorf("prune artifacts for %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM step_records WHERE task_id = ?`, id); err != nil {
				return fmt.Errorf("prune steps for %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
				return fmt.Errorf("prune task %s: %w", id, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListStuckRunning returns RUNNING tasks whose deadline (started_at +
// maxDuration) has already passed, for the sweeper's timeout enforcement.
func (s *TaskStore) ListStuckRunning(ctx context.Context, maxDuration time.Duration) ([]Task, error) {
	cutoff := time.Now().UTC().Add(-maxDuration)
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id FROM tasks WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		TaskRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stuck tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stuck task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Task
	for _, id := range ids {
		t, err := s.Fetch(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t.Task)
	}
	return out, nil
}
