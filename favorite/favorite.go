// Package favorite reads users' saved products.
package favorite

import (
	"context"
	"time"
)

// MaxPerUser bounds a single List call.
const MaxPerUser = 100

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Favorite struct {
	UserID    string    `json:"userId"`
	Product   Product   `json:"product"`
	CreatedAt time.Time `json:"createdAt"`
}

// Provider lists a user's favorites, newest first.
type Provider interface {
	List(ctx context.Context, userID string) ([]Favorite, error)
}
