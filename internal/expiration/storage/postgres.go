package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tixvibe/internal/expiration/scheduler"
	"tixvibe/pkg/postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func Open(ctx context.Context, url string) (*postgres.Store, error) {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sub migrations fs: %w", err)
	}
	return postgres.New(ctx, url, migrations)
}

type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) Schedule(ctx context.Context, orderID string, fireAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO expiration_jobs (order_id, fire_at)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING`,
		orderID, fireAt,
	)
	if err != nil {
		return fmt.Errorf("schedule expiration: %w", err)
	}
	return nil
}

// Due claims ready jobs under a row lock so replicated scheduler instances
// never fire the same timer twice. Claimed jobs that are not marked sent
// within the release window come back as due again.
func (s *JobStore) Due(ctx context.Context, limit int) ([]scheduler.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT order_id, fire_at, attempts
		FROM expiration_jobs
		WHERE (status = 'pending' AND fire_at <= NOW())
		   OR (status = 'processing' AND next_retry <= NOW())
		ORDER BY fire_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scheduler.Job
	for rows.Next() {
		var job scheduler.Job
		if err := rows.Scan(&job.OrderID, &job.FireAt, &job.Attempts); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	releaseAt := time.Now().Add(30 * time.Second)
	for _, job := range jobs {
		_, err := tx.Exec(ctx, `
			UPDATE expiration_jobs
			SET status = 'processing', next_retry = $2, updated_at = NOW()
			WHERE order_id = $1`,
			job.OrderID, releaseAt,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobStore) MarkSent(ctx context.Context, orderID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE expiration_jobs
		SET status = 'sent', updated_at = NOW()
		WHERE order_id = $1`, orderID,
	)
	if err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}
	return nil
}

func (s *JobStore) MarkFailure(ctx context.Context, orderID string, nextRetry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE expiration_jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    next_retry = $2,
		    updated_at = NOW()
		WHERE order_id = $1`,
		orderID, nextRetry,
	)
	if err != nil {
		return fmt.Errorf("mark job failure: %w", err)
	}
	return nil
}
