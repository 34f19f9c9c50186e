package database

import (
	"context"
	"testing"
	"time"

	"therapycore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueue_LedgerWritesEnqueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db, "a")
	seedWindow(t, db, p.ID, 1, "09:00", "12:00")

	entry := completedEarning(t, db, p.ID, "10:00", "150")
	_, err := db.TransitionEntry(ctx, entry.ID, models.EntryCompleted, time.Now())
	require.NoError(t, err)

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, models.SyncTaskAppendEntry, tasks[0].TaskType)
	assert.Equal(t, models.SyncTaskUpdateEntry, tasks[1].TaskType)
	assert.Equal(t, entry.ID, tasks[0].EntryID)
	assert.Contains(t, tasks[0].Payload, `"transaction_type":"earning"`)
}

func TestSyncQueue_StatusFlow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db, "a")
	seedWindow(t, db, p.ID, 1, "09:00", "12:00")
	completedEarning(t, db, p.ID, "10:00", "150")

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	id := tasks[0].ID

	later := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, id, models.SyncRetry, "sheets down", &later))

	tasks, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "retry is scheduled in the future")

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, id, models.SyncRetry, "sheets down", &past))

	tasks, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)

	require.NoError(t, db.UpdateSyncTaskStatus(ctx, id, models.SyncFailed, "gave up", nil))
	failed, err := db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Equal(t, "gave up", *failed[0].LastError)
	assert.NotNil(t, failed[0].ProcessedAt)
}
