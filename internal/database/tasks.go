package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sana/internal/models"
)

const taskColumns = `id, domain, entity_id, kind, run_id, payload, status, retry_count,
                 last_error, scheduled_at, next_retry_at, created_at, processed_at`

func scanTask(row interface{ Scan(...any) error }) (*models.WorkflowTask, error) {
	t := &models.WorkflowTask{}
	err := row.Scan(
		&t.ID, &t.Domain, &t.EntityID, &t.Kind, &t.RunID, &t.Payload, &t.Status, &t.RetryCount,
		&t.LastError, &t.ScheduledAt, &t.NextRetryAt, &t.CreatedAt, &t.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTask persists a durable task. The partial unique index on active
// (domain, entity, kind) keeps a workflow from being orchestrated twice;
// the duplicate insert is reported as ErrDuplicateTask.
func (db *DB) CreateTask(ctx context.Context, task *models.WorkflowTask) error {
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}
	query := `INSERT OR IGNORE INTO workflow_tasks (
				domain, entity_id, kind, run_id, payload, status, retry_count,
				last_error, scheduled_at, next_retry_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		task.Domain, task.EntityID, task.Kind, task.RunID, task.Payload,
		models.TaskPending, 0, "", task.ScheduledAt, nil, now)
	if err != nil {
		return fmt.Errorf("failed to create workflow task: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDuplicateTask
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.Status = models.TaskPending
	task.CreatedAt = now

	return nil
}

func (db *DB) GetTask(ctx context.Context, id int64) (*models.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE id = ?`
	t, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow task: %w", err)
	}
	return t, nil
}

// GetDueTasks returns runnable tasks: pending or retry, whose timer has fired
// and whose backoff window has passed.
func (db *DB) GetDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks
              WHERE status IN (?, ?)
                AND scheduled_at <= ?
                AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY scheduled_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.TaskPending, models.TaskRetry, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateTaskStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error {
	var processedAt *time.Time
	if status == models.TaskCompleted || status == models.TaskFailed {
		now := time.Now()
		processedAt = &now
	}

	var query string
	var args []any
	if status == models.TaskRetry {
		query = `UPDATE workflow_tasks SET status = ?, retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	} else {
		query = `UPDATE workflow_tasks SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, processedAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// CancelTasks cancels pending timers of a workflow. Cancelling removes the
// wait itself, not merely the effect after it fires.
func (db *DB) CancelTasks(ctx context.Context, domain string, entityID int64) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE workflow_tasks SET status = ?, processed_at = ? WHERE domain = ? AND entity_id = ? AND status IN (?, ?)`,
		models.TaskCancelled, time.Now(), domain, entityID, models.TaskPending, models.TaskRetry)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// GetTasksByEntity returns workflow state for the status API.
func (db *DB) GetTasksByEntity(ctx context.Context, domain string, entityID int64) ([]*models.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE domain = ? AND entity_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, domain, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks by entity: %w", err)
	}
	defer rows.Close()

	var tasks []*models.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskClaimed guards one-shot execution when several workers poll the
// same queue: only the claimer that flips pending/retry wins.
func (db *DB) MarkTaskClaimed(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE workflow_tasks SET status = ? WHERE id = ? AND status IN (?, ?)`,
		models.TaskRunning, id, models.TaskPending, models.TaskRetry)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}
