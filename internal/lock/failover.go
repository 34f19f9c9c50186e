package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"therapycore/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses the primary (Redis) locker and switches to the
// in-process fallback while the primary is unreachable. Busy keys are not
// failures and never trigger a switch.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	retryIn   time.Duration
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		retryIn:  time.Minute,
	}
}

func (l *FailoverLocker) markDown(err error) {
	if !l.isDown.Swap(true) {
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
	}
	l.lastCheck.Store(time.Now().UnixNano())
}

func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	down := l.isDown.Load()

	// Try to recover after retryIn
	if down && time.Since(time.Unix(0, l.lastCheck.Load())) > l.retryIn {
		down = false
	}

	if !down {
		release, err := l.primary.Acquire(ctx, key, ttl)
		switch {
		case err == nil:
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary locker recovered")
			}
			return release, nil
		case errors.Is(err, ErrLockTimeout), ctx.Err() != nil:
			return nil, err
		default:
			l.markDown(err)
		}
	}

	return l.fallback.Acquire(ctx, key, ttl)
}
