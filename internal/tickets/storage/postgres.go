package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tixvibe/internal/tickets/ticket"
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

type TicketStore struct {
	pool *pgxpool.Pool
}

func NewTicketStore(pool *pgxpool.Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

func (s *TicketStore) Insert(ctx context.Context, t *ticket.Ticket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (id, title, price, user_id, order_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Title, t.Price, t.UserID, t.OrderID, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ticket.ErrTicketExists
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, price, user_id, order_id, version, created_at, updated_at
		FROM tickets
		WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Price, &t.UserID, &t.OrderID, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticket.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return &t, nil
}

func (s *TicketStore) List(ctx context.Context) ([]ticket.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, price, user_id, order_id, version, created_at, updated_at
		FROM tickets
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var result []ticket.Ticket
	for rows.Next() {
		var t ticket.Ticket
		if err := rows.Scan(&t.ID, &t.Title, &t.Price, &t.UserID, &t.OrderID, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	return result, rows.Err()
}

// Update is the compare-and-set write: it succeeds only when the stored row
// is still at expectedVersion. A conflicting write is discarded whole.
func (s *TicketStore) Update(ctx context.Context, t *ticket.Ticket, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET title = $2, price = $3, order_id = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7`,
		t.ID, t.Title, t.Price, t.OrderID, t.Version, t.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check ticket exists: %w", err)
		}
		if !exists {
			return ticket.ErrTicketNotFound
		}
		return ticket.ErrVersionConflict
	}
	return nil
}
