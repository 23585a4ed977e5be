// Package pgstore is the Postgres-backed Store. Schema management goes
// through embedded goose migrations; queries go through a pgx pool.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voicewire/voicewire/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore implements store.Store on Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// Open connects a pool and verifies the database is reachable.
func Open(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Migrate applies pending schema migrations.
func (s *PGStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) GetCustomer(ctx context.Context, customerID string) (store.Customer, error) {
	const q = `
		SELECT id, membership_level, account_status
		FROM customers
		WHERE id = $1`

	var c store.Customer
	err := s.pool.QueryRow(ctx, q, customerID).Scan(&c.ID, &c.MembershipLevel, &c.AccountStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Customer{}, store.ErrNotFound
	}
	if err != nil {
		return store.Customer{}, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	return c, nil
}

func (s *PGStore) ListOrders(ctx context.Context, customerID string) ([]store.Order, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	const q = `
		SELECT product_id, name, price, status
		FROM orders
		WHERE customer_id = $1
		ORDER BY product_id`

	rows, err := s.pool.Query(ctx, q, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	defer rows.Close()

	var orders []store.Order
	for rows.Next() {
		var o store.Order
		if err := rows.Scan(&o.ProductID, &o.Name, &o.Price, &o.Status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	return orders, nil
}

func (s *PGStore) UpdateAccountStatus(ctx context.Context, customerID, newStatus string) (store.Customer, error) {
	const q = `
		UPDATE customers
		SET account_status = $2
		WHERE id = $1
		RETURNING id, membership_level, account_status`

	var c store.Customer
	err := s.pool.QueryRow(ctx, q, customerID, newStatus).Scan(&c.ID, &c.MembershipLevel, &c.AccountStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Customer{}, store.ErrNotFound
	}
	if err != nil {
		return store.Customer{}, fmt.Errorf("update customer %s: %w", customerID, err)
	}
	return c, nil
}
