package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"therapycore/internal/database"
	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeSheet struct {
	mu          sync.Mutex
	err         error
	appended    []models.LedgerEntry
	statusCalls []models.LedgerEntry
}

func (f *fakeSheet) AppendEntry(_ context.Context, entry *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, *entry)
	return nil
}

func (f *fakeSheet) UpdateEntryStatus(_ context.Context, entry *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.statusCalls = append(f.statusCalls, *entry)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedEarning completes one appointment, which queues an append task.
func seedEarning(t *testing.T, db *database.DB) *models.LedgerEntry {
	t.Helper()
	ctx := context.Background()

	app := &models.Application{ApplicantID: "doc", ApplicationForm: models.ApplicationForm{
		DisplayName: "Dr. Sync", Specialization: "psychotherapy", LicenseNumber: "L-1",
	}}
	provider, err := db.CreateApplication(ctx, app, &domain.ProvisionRequest{Timezone: "UTC", SessionPrice: decimal.NewFromInt(90)})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	w := &models.AvailabilityWindow{ProviderID: provider.ID, DayOfWeek: 1, StartTime: models.MustClock("09:00"), EndTime: models.MustClock("12:00"), Enabled: true}
	if err := db.UpsertWindow(ctx, w); err != nil {
		t.Fatalf("window: %v", err)
	}

	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{ProviderID: provider.ID, ClientID: "client", Start: start, DurationMinutes: 30, Price: decimal.NewFromInt(90)}
	if err := db.CreateAppointmentWithLock(ctx, appt, 1, models.MustClock("10:00"), models.MustClock("10:30")); err != nil {
		t.Fatalf("book: %v", err)
	}
	_, entry, err := db.CompleteAppointment(ctx, appt.ID, start)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return entry
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("load task: %v", err)
	}
	return status, retryCount, nextRetry
}

func pendingTask(t *testing.T, db *database.DB) models.SyncTask {
	t.Helper()
	tasks, err := db.GetPendingSyncTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected a pending task")
	}
	return tasks[0]
}

func TestProcessAppendSuccess(t *testing.T) {
	db := newTestDB(t)
	entry := seedEarning(t, db)
	sheet := &fakeSheet{}
	worker := NewLedgerSyncWorker(db, sheet, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	n, err := worker.processBatch(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 task, got %d", n)
	}

	if len(sheet.appended) != 1 {
		t.Fatalf("expected one append, got %d", len(sheet.appended))
	}
	if sheet.appended[0].ID != entry.ID || !sheet.appended[0].Amount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("unexpected mirrored entry: %+v", sheet.appended[0])
	}

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected queue drained, got %d", len(tasks))
	}
}

func TestProcessUpdateUsesCurrentStatus(t *testing.T) {
	db := newTestDB(t)
	entry := seedEarning(t, db)
	sheet := &fakeSheet{}
	worker := NewLedgerSyncWorker(db, sheet, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	if _, err := db.TransitionEntry(ctx, entry.ID, models.EntryCompleted, time.Now()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	worker.drain(ctx)

	if len(sheet.appended) != 1 {
		t.Fatalf("expected one append, got %d", len(sheet.appended))
	}
	if len(sheet.statusCalls) != 1 {
		t.Fatalf("expected one status update, got %d", len(sheet.statusCalls))
	}
	if sheet.statusCalls[0].Status != models.EntryCompleted {
		t.Fatalf("expected completed status, got %s", sheet.statusCalls[0].Status)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	seedEarning(t, db)
	sheet := &fakeSheet{err: errors.New("quota exceeded")}
	worker := NewLedgerSyncWorker(db, sheet, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	task := pendingTask(t, db)
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.SyncRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || !nextRetry.Time.After(time.Now()) {
		t.Fatalf("expected next_retry_at in the future")
	}

	// not due yet
	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no due tasks, got %d", len(tasks))
	}
}

func TestProcessTaskDeadLetter(t *testing.T) {
	db := newTestDB(t)
	seedEarning(t, db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sheet := &fakeSheet{err: errors.New("permission denied")}
	worker := NewLedgerSyncWorker(db, sheet, client, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	task := pendingTask(t, db)
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.SyncFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}

	dead, err := worker.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != task.ID {
		t.Fatalf("expected task %d in dead letters, got %+v", task.ID, dead)
	}
}

func TestProcessTaskBadPayloadFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	entry := seedEarning(t, db)
	ctx := context.Background()

	task := &models.SyncTask{TaskType: models.SyncTaskAppendEntry, EntryID: entry.ID, Payload: "{broken", Status: models.SyncPending}
	if err := db.CreateSyncTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	sheet := &fakeSheet{}
	worker := NewLedgerSyncWorker(db, sheet, nil, RetryPolicy{MaxRetries: 5}, nil)
	worker.processTask(ctx, task)

	status, retryCount, _ := loadTaskStatus(t, db, task.ID)
	if status != models.SyncFailed || retryCount != 0 {
		t.Fatalf("expected failed without retries, got %s/%d", status, retryCount)
	}
	if len(sheet.appended) != 0 {
		t.Fatalf("sheet must not be called")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	seedEarning(t, db)
	sheet := &fakeSheet{}
	worker := NewLedgerSyncWorker(db, sheet, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	worker.Wake()
	deadline := time.After(2 * time.Second)
	for {
		sheet.mu.Lock()
		n := len(sheet.appended)
		sheet.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("entry was not mirrored")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	cases := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 100: 5 * time.Second}
	for attempt, want := range cases {
		if got := p.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}

	def := RetryPolicy{}.withDefaults()
	if def.MaxRetries != 5 || def.InitialDelay != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", def)
	}
}
