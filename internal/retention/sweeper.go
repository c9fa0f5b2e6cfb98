// Package retention ages out expired workflow state. Sessions and
// idempotency records are never deleted on demand; they leave the store only
// through this sweeper once their TTL elapses.
package retention

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/repository"
)

// sweepLockKey is the advisory lock serializing sweeps across worker
// replicas. The value spells "tradecon" in ASCII.
const sweepLockKey int64 = 0x7472616465636f6e

// sweepBatchSize bounds how many rows one sweep removes per table.
const sweepBatchSize = 500

// store is the slice of database.DB the sweeper needs.
type store interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	TryAcquireAdvisoryLockTx(ctx context.Context, tx pgx.Tx, key int64) (bool, error)
}

// Sweeper periodically removes sessions and idempotency records whose TTL
// elapsed. Multiple replicas may run it; a transaction-scoped advisory lock
// ensures only one sweeps at a time.
type Sweeper struct {
	db       store
	interval time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	// newRepos binds repositories to the sweep transaction.
	newRepos func(tx pgx.Tx) (repository.SessionRepository, repository.ResultRepository)
}

// NewSweeper creates a retention sweeper running at the given interval.
func NewSweeper(db store, interval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		db:       db,
		interval: interval,
		logger:   logger.With().Str("component", "retention_sweeper").Logger(),
		metrics:  metrics,
		now:      time.Now,
		newRepos: func(tx pgx.Tx) (repository.SessionRepository, repository.ResultRepository) {
			return repository.NewPgSessionRepository(tx), repository.NewPgResultRepository(tx)
		},
	}
}

// Run sweeps once immediately, then on every interval tick until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting retention sweeper")

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retention sweeper stopped via context cancellation")
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce removes one bounded batch of expired rows. Failures are logged
// and retried on the next tick.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	var expiredSessions, expiredResults int64

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		acquired, err := s.db.TryAcquireAdvisoryLockTx(ctx, tx, sweepLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			s.logger.Debug().Msg("another replica holds the sweep lock, skipping")
			return nil
		}

		sessions, results := s.newRepos(tx)
		now := s.now().UTC()

		expiredSessions, err = sessions.DeleteExpired(ctx, now, sweepBatchSize)
		if err != nil {
			return err
		}
		expiredResults, err = results.DeleteExpired(ctx, now, sweepBatchSize)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("retention sweep failed")
		return
	}

	if expiredSessions > 0 && s.metrics != nil {
		s.metrics.RecordSessionsExpired(int(expiredSessions))
	}
	if expiredSessions > 0 || expiredResults > 0 {
		s.logger.Info().
			Int64("sessions", expiredSessions).
			Int64("results", expiredResults).
			Msg("expired workflow state removed")
	}
}
