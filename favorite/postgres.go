package favorite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/godamri/helix-activity/database"
)

type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) List(ctx context.Context, userID string) ([]Favorite, error) {
	const q = `
		SELECT f.user_id, p.id, p.name, f.created_at
		FROM favorites f
		JOIN products p ON p.id = f.product_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC, p.id DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, q, userID, MaxPerUser)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", database.MapError(err))
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.UserID, &f.Product.ID, &f.Product.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", database.MapError(err))
	}
	return out, nil
}
