// Package user resolves principals for identity backfill.
package user

//go:generate mockgen -source=user.go -destination=mocks/mocks.go -package=mocks Directory

import "context"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Directory looks users up by id. A miss returns (nil, nil).
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
}
