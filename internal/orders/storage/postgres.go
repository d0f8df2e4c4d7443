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

	"tixvibe/internal/orders/order"
	"tixvibe/pkg/contracts"
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

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

func (s *OrderStore) Insert(ctx context.Context, o *order.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, ticket_id, expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.Status, o.TicketID, o.ExpiresAt, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, ticket_id, expires_at, version, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TicketID, &o.ExpiresAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, status, ticket_id, expires_at, version, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TicketID, &o.ExpiresAt, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}

	return result, rows.Err()
}

func (s *OrderStore) Update(ctx context.Context, o *order.Order, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $5`,
		o.ID, o.Status, o.Version, o.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return order.ErrOrderNotFound
		}
		return order.ErrVersionConflict
	}
	return nil
}

func (s *OrderStore) HasActiveOrderForTicket(ctx context.Context, ticketID string) (bool, error) {
	var reserved bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE ticket_id = $1 AND status <> $2
		)`, ticketID, contracts.OrderStatusCancelled,
	).Scan(&reserved)
	if err != nil {
		return false, fmt.Errorf("check active order: %w", err)
	}
	return reserved, nil
}

type TicketStore struct {
	pool *pgxpool.Pool
}

func NewTicketStore(pool *pgxpool.Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

func (s *TicketStore) Insert(ctx context.Context, t *order.Ticket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (id, title, price, version)
		VALUES ($1, $2, $3, $4)`,
		t.ID, t.Title, t.Price, t.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return order.ErrTicketExists
		}
		return fmt.Errorf("insert ticket replica: %w", err)
	}
	return nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (*order.Ticket, error) {
	var t order.Ticket
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, price, version
		FROM tickets
		WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Price, &t.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket replica: %w", err)
	}
	return &t, nil
}

func (s *TicketStore) Update(ctx context.Context, t *order.Ticket, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET title = $2, price = $3, version = $4
		WHERE id = $1 AND version = $5`,
		t.ID, t.Title, t.Price, t.Version, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update ticket replica: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check ticket exists: %w", err)
		}
		if !exists {
			return order.ErrTicketNotFound
		}
		return order.ErrVersionConflict
	}
	return nil
}
