package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/godamri/helix-activity/database"
)

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, `SELECT id, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", database.MapError(err))
	}
	return &u, nil
}
