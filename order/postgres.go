package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/godamri/helix-activity/database"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectOrder = `
	SELECT o.id, o.user_id, COALESCE(u.email, ''), o.status, o.total_amount,
		o.items, o.created_at, o.updated_at
	FROM orders o
	LEFT JOIN users u ON u.id = o.user_id
`

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrder+` WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", database.MapError(err))
	}
	return o, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Order, error) {
	const q = `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, q, id, from, to, at)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", database.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConcurrentUpdate
	}
	return r.FindByID(ctx, id)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx,
		selectOrder+` WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", database.MapError(err))
	}
	return collectOrders(rows)
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx,
		selectOrder+` ORDER BY o.created_at DESC, o.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent orders: %w", database.MapError(err))
	}
	return collectOrders(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*Order, error) {
	var (
		o     Order
		items []byte
	)
	if err := s.Scan(&o.ID, &o.UserID, &o.UserEmail, &o.Status, &o.TotalAmount,
		&items, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", database.MapError(err))
	}
	return out, nil
}
