package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"therapycore/internal/domain"

	"github.com/mattn/go-sqlite3"
)

// RetryPolicy bounds local retries of transient storage faults.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// IsTransient reports whether err is worth retrying: a busy or locked
// database, or a dropped connection. Business errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// WithRetry runs fn until it succeeds, fails permanently or the attempts run
// out. Exhausted retries surface as domain.ErrUnavailable.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

func (db *DB) withRetry(ctx context.Context, fn func() error) error {
	err := WithRetry(ctx, db.retry, fn)
	if errors.Is(err, domain.ErrUnavailable) {
		db.logger.Error().Err(err).Int("attempts", db.retry.MaxAttempts).Msg("Storage retries exhausted")
	}
	return err
}
