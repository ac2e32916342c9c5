package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/browsecore/browseserver/internal/apperr"
)

// EvalStore is the authoritative home for EvalRuns and their linked
// EvalTaskResults (§4.9).
type EvalStore struct {
	db *sql.DB
}

// NewEvalStore wraps an already-migrated database connection.
func NewEvalStore(db *sql.DB) *EvalStore {
	return &EvalStore{db: db}
}

// CreateRun inserts a new EvalRun in the QUEUED state.
func (s *EvalStore) CreateRun(ctx context.Context, run EvalRun) (EvalRun, error) {
	run.Status = EvalQueued
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eval_runs (run_id, spec_id, model_id, status, created_at, started_at, ended_at, average_score)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, 0)`,
		run.RunID, run.SpecID, run.ModelID, run.Status, run.CreatedAt,
	)
	if err != nil {
		return EvalRun{}, fmt.Errorf("insert eval run %s: %w", run.RunID, err)
	}
	return run, nil
}

// ListQueuedRuns returns every run currently in QUEUED state, oldest first,
// for the sweeper's promotion job to pick up.
func (s *EvalStore) ListQueuedRuns(ctx context.Context) ([]EvalRun, error) {
	return s.listRunsByStatus(ctx, EvalQueued)
}

// ListRunningRuns returns every run currently in RUNNING state, used by the
// sweeper to bound concurrently executing runs.
func (s *EvalStore) ListRunningRuns(ctx context.Context) ([]EvalRun, error) {
	return s.listRunsByStatus(ctx, EvalRunning)
}

func (s *EvalStore) listRunsByStatus(ctx context.Context, status EvalStatus) ([]EvalRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, spec_id, model_id, status, created_at, started_at, ended_at, average_score
		FROM eval_runs WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list eval runs with status %s: %w", status, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []EvalRun
	for rows.Next() {
		r, err := scanEvalRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvalRun(row rowScanner) (EvalRun, error) {
	var r EvalRun
	var startedAt, endedAt sql.NullTime
	if err := row.Scan(&r.RunID, &r.SpecID, &r.ModelID, &r.Status, &r.CreatedAt, &startedAt, &endedAt, &r.AverageScore); err != nil {
		return EvalRun{}, fmt.Errorf("scan eval run: %w", err)
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	return r, nil
}

// StartRun transitions a QUEUED run to RUNNING, stamping started_at.
func (s *EvalStore) StartRun(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE eval_runs SET status = ?, started_at = ? WHERE run_id = ? AND status = ?`,
		EvalRunning, now, runID, EvalQueued,
	)
	if err != nil {
		return fmt.Errorf("start eval run %s: %w", runID, err)
	}
	return requireRowsAffected(res, apperr.Newf(apperr.IllegalTransition, "eval run %s is not QUEUED", runID))
}

// CompleteRun transitions a RUNNING run to COMPLETED, stamping ended_at and
// the final average score.
func (s *EvalStore) CompleteRun(ctx context.Context, runID string, averageScore float64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE eval_runs SET status = ?, ended_at = ?, average_score = ? WHERE run_id = ? AND status = ?`,
		EvalCompleted, now, averageScore, runID, EvalRunning,
	)
	if err != nil {
		return fmt.Errorf("complete eval run %s: %w", runID, err)
	}
	return requireRowsAffected(res, apperr.Newf(apperr.IllegalTransition, "eval run %s is not RUNNING", runID))
}

func requireRowsAffected(res sql.Result, ifZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ifZero
	}
	return nil
}

// RecordTaskResult attaches one EvalTask's outcome to its run.
func (s *EvalStore) RecordTaskResult(ctx context.Context, result EvalTaskResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eval_task_results (run_id, instruction, task_id, steps_completed, duration_ms, score)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Instruction, result.TaskID, result.StepsCompleted, result.DurationMS, result.Score,
	)
	if err != nil {
		return fmt.Errorf("record eval task result for run %s: %w", result.RunID, err)
	}
	return nil
}

// TaskResults returns every recorded result for runID.
func (s *EvalStore) TaskResults(ctx context.Context, runID string) ([]EvalTaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, instruction, task_id, steps_completed, duration_ms, score
		FROM eval_task_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("list eval task results for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var results []EvalTaskResult
	for rows.Next() {
		var r EvalTaskResult
		if err := rows.Scan(&r.RunID, &r.Instruction, &r.TaskID, &r.StepsCompleted, &r.DurationMS, &r.Score); err != nil {
			return nil, fmt.Errorf("scan eval task result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FetchRun returns one run by id.
func (s *EvalStore) FetchRun(ctx context.Context, runID string) (EvalRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, spec_id, model_id, status, created_at, started_at, ended_at, average_score
		FROM eval_runs WHERE run_id = ?`, runID)
	r, err := scanEvalRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EvalRun{}, apperr.Newf(apperr.TaskNotFound, "eval run %s not found", runID)
	}
	if err != nil {
		return EvalRun{}, err
	}
	return r, nil
}
