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

	"tixvibe/internal/payments/payment"
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

func (s *OrderStore) Insert(ctx context.Context, o *payment.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, price, status, version)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.UserID, o.Price, o.Status, o.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return payment.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*payment.Order, error) {
	var o payment.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, price, status, version
		FROM orders
		WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &o.Price, &o.Status, &o.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// Update is the compare-and-set write: it succeeds only when the stored row
// is still at expectedVersion. A conflicting write is discarded whole.
func (s *OrderStore) Update(ctx context.Context, o *payment.Order, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, version = $3
		WHERE id = $1 AND version = $4`,
		o.ID, o.Status, o.Version, expectedVersion,
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
			return payment.ErrOrderNotFound
		}
		return payment.ErrVersionConflict
	}
	return nil
}

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) Insert(ctx context.Context, p *payment.Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, stripe_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.OrderID, p.StripeID, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return payment.ErrAlreadyPaid
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) GetByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	var p payment.Payment
	err := s.pool.QueryRow(ctx, `
		SELECT id, order_id, stripe_id, created_at
		FROM payments
		WHERE order_id = $1`, orderID,
	).Scan(&p.ID, &p.OrderID, &p.StripeID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by order: %w", err)
	}
	return &p, nil
}
