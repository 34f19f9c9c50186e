package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/logging"
	"therapycore/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DeadLetterKey holds sync tasks that ran out of retries.
const DeadLetterKey = "therapycore:ledger_sync:deadletter"

// LedgerSyncWorker mirrors ledger entries into the accounting sheet. Tasks are
// written to sync_queue in the same transaction as the entry, so the table is
// the source of truth and the worker only drains it.
type LedgerSyncWorker struct {
	queue        domain.SyncQueue
	sheet        domain.LedgerSheetWriter
	redis        *redis.Client
	retryPolicy  RetryPolicy
	wake         chan struct{}
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewLedgerSyncWorker builds a worker with sane defaults. redisClient may be
// nil, then dead letters are only kept as failed rows in sync_queue.
func NewLedgerSyncWorker(queue domain.SyncQueue, sheet domain.LedgerSheetWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *LedgerSyncWorker {
	return &LedgerSyncWorker{
		queue:        queue,
		sheet:        sheet,
		redis:        redisClient,
		retryPolicy:  retry.withDefaults(),
		wake:         make(chan struct{}, 1),
		pollInterval: 2 * time.Second,
		batchSize:    20,
		logger:       logging.Component(logger, "ledger_sync"),
		now:          time.Now,
	}
}

// Wake asks the worker to drain the queue without waiting for the next poll.
func (w *LedgerSyncWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start launches main loop; stops when ctx is done.
func (w *LedgerSyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Ledger sync worker started")
	defer w.logger.Info().Msg("Ledger sync worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// drain processes batches until the queue has nothing due.
func (w *LedgerSyncWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Fetch pending sync tasks failed")
			return
		}
		if n < w.batchSize {
			return
		}
	}
}

func (w *LedgerSyncWorker) processBatch(ctx context.Context) (int, error) {
	tasks, err := w.queue.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *LedgerSyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if err := w.handle(ctx, task); err != nil {
		var permanent *permanentError
		if errors.As(err, &permanent) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.queue.UpdateSyncTaskStatus(ctx, task.ID, models.SyncCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark sync task completed failed")
		return
	}
	w.logger.Debug().Int64("task_id", task.ID).Int64(logging.FieldEntryID, task.EntryID).Str("task_type", task.TaskType).Msg("Ledger entry mirrored")
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (w *LedgerSyncWorker) handle(ctx context.Context, task *models.SyncTask) error {
	switch task.TaskType {
	case models.SyncTaskAppendEntry:
		var entry models.LedgerEntry
		if err := json.Unmarshal([]byte(task.Payload), &entry); err != nil {
			return &permanentError{fmt.Errorf("decode payload: %w", err)}
		}
		return w.sheet.AppendEntry(ctx, &entry)
	case models.SyncTaskUpdateEntry:
		// the row gets the entry's current status, not the queued snapshot
		entry, err := w.queue.GetLedgerEntry(ctx, task.EntryID)
		if errors.Is(err, domain.ErrNotFound) {
			return &permanentError{err}
		}
		if err != nil {
			return err
		}
		return w.sheet.UpdateEntryStatus(ctx, entry)
	default:
		return &permanentError{fmt.Errorf("unknown task type: %s", task.TaskType)}
	}
}

func (w *LedgerSyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.queue.UpdateSyncTaskStatus(ctx, task.ID, models.SyncRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark sync task retry failed")
		return
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("Ledger sync will retry")
}

func (w *LedgerSyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.queue.UpdateSyncTaskStatus(ctx, task.ID, models.SyncFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark sync task failed failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64(logging.FieldEntryID, task.EntryID).Msg("Ledger sync gave up")
	w.pushDeadLetter(ctx, task, cause)
}

type deadLetter struct {
	Task  models.SyncTask `json:"task"`
	Error string          `json:"error"`
}

func (w *LedgerSyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask, cause error) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(deadLetter{Task: *task, Error: cause.Error()})
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Encode dead letter failed")
		return
	}
	if err := w.redis.LPush(ctx, DeadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}

// DeadLetters returns up to limit most recent dead-lettered tasks.
func (w *LedgerSyncWorker) DeadLetters(ctx context.Context, limit int64) ([]models.SyncTask, error) {
	if w.redis == nil {
		return nil, nil
	}
	raw, err := w.redis.LRange(ctx, DeadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	tasks := make([]models.SyncTask, 0, len(raw))
	for _, item := range raw {
		var dl deadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		tasks = append(tasks, dl.Task)
	}
	return tasks, nil
}
