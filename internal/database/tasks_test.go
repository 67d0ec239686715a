package database

import (
	"context"
	"testing"
	"time"

	"sana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(entityID int64, kind string, runAt time.Time) *models.WorkflowTask {
	return &models.WorkflowTask{
		Domain:      models.DomainBooking,
		EntityID:    entityID,
		Kind:        kind,
		RunID:       "run-1",
		ScheduledAt: runAt,
	}
}

func TestCreateTaskDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := newTask(7, "booking.begin_session", time.Now())
	require.NoError(t, db.CreateTask(ctx, task))
	assert.Equal(t, models.TaskPending, task.Status)

	// Один активный воркфлоу на (domain, entity, kind)
	dup := newTask(7, "booking.begin_session", time.Now())
	assert.ErrorIs(t, db.CreateTask(ctx, dup), ErrDuplicateTask)

	// Другой kind для той же сущности допустим
	other := newTask(7, "booking.complete_session", time.Now())
	require.NoError(t, db.CreateTask(ctx, other))

	// Completed frees the slot for a new run
	require.NoError(t, db.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil))
	again := newTask(7, "booking.begin_session", time.Now())
	require.NoError(t, db.CreateTask(ctx, again))
}

func TestGetDueTasksHonorsTimerAndBackoff(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	due := newTask(1, "booking.begin_session", now.Add(-time.Minute))
	require.NoError(t, db.CreateTask(ctx, due))

	future := newTask(2, "booking.begin_session", now.Add(time.Hour))
	require.NoError(t, db.CreateTask(ctx, future))

	backoff := newTask(3, "booking.begin_session", now.Add(-time.Minute))
	require.NoError(t, db.CreateTask(ctx, backoff))
	retryAt := now.Add(30 * time.Second)
	require.NoError(t, db.UpdateTaskStatus(ctx, backoff.ID, models.TaskRetry, "boom", &retryAt))

	tasks, err := db.GetDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due.ID, tasks[0].ID)

	// После истечения backoff задача возвращается в выборку
	tasks, err = db.GetDueTasks(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	got, err := db.GetTask(ctx, backoff.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "boom", got.LastError)
}

func TestMarkTaskClaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := newTask(1, "booking.begin_session", time.Now())
	require.NoError(t, db.CreateTask(ctx, task))

	require.NoError(t, db.MarkTaskClaimed(ctx, task.ID))
	assert.ErrorIs(t, db.MarkTaskClaimed(ctx, task.ID), ErrConcurrentModification)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, got.Status)
}

func TestCancelTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	timer := newTask(9, "booking.begin_session", time.Now().Add(time.Hour))
	require.NoError(t, db.CreateTask(ctx, timer))

	done := newTask(9, "booking.create_room", time.Now())
	require.NoError(t, db.CreateTask(ctx, done))
	require.NoError(t, db.UpdateTaskStatus(ctx, done.ID, models.TaskCompleted, "", nil))

	n, err := db.CancelTasks(ctx, models.DomainBooking, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tasks, err := db.GetTasksByEntity(ctx, models.DomainBooking, 9)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskCancelled, tasks[0].Status)
	assert.Equal(t, models.TaskCompleted, tasks[1].Status)
}
