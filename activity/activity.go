// Package activity builds the unified activity feed from favorites, orders and audit
// entries.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/favorite"
	"github.com/godamri/helix-activity/order"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	// SourceWindow caps how many records one source contributes to a feed call.
	SourceWindow = 100
)

type Type string

const (
	TypeFavorite Type = "favorite"
	TypeOrder    Type = "order"
	TypeAudit    Type = "audit"
)

var AllTypes = []Type{TypeFavorite, TypeOrder, TypeAudit}

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeFavorite, TypeOrder, TypeAudit:
		return t, nil
	}
	return "", fmt.Errorf("unknown activity type %q", s)
}

// Item is one normalized feed entry. ID is "<type>:<source id>".
type Item struct {
	Type      Type   `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	Summary   string `json:"summary"`
	Data      Data   `json:"data"`
}

// Data is the type-specific payload of an Item.
type Data interface {
	ItemType() Type
}

type FavoriteData struct {
	Product favorite.Product `json:"product"`
}

func (FavoriteData) ItemType() Type { return TypeFavorite }

type OrderData struct {
	OrderID     string       `json:"orderId"`
	Status      order.Status `json:"status"`
	TotalAmount float64      `json:"totalAmount"`
}

func (OrderData) ItemType() Type { return TypeOrder }

type AuditData struct {
	Action     string         `json:"action"`
	TargetID   string         `json:"targetId,omitempty"`
	TargetType string         `json:"targetType,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (AuditData) ItemType() Type { return TypeAudit }

// Params selects a feed page. Empty UserID is the cross-user view, which never
// includes favorites. After is an exclusive upper bound on Timestamp.
type Params struct {
	UserID string
	Limit  int
	After  *int64
	Types  []Type
}

func (p Params) wants(t Type) bool {
	if len(p.Types) == 0 {
		return true
	}
	for _, want := range p.Types {
		if want == t {
			return true
		}
	}
	return false
}

func (p Params) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

type Page struct {
	Items      []Item `json:"items"`
	NextCursor *int64 `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// OrderSource is the read side of the order repository.
type OrderSource interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]order.Order, error)
	ListRecent(ctx context.Context, limit int) ([]order.Order, error)
}

// AuditSource is the read side of the audit store.
type AuditSource interface {
	Query(ctx context.Context, f audit.Filter) (audit.Page, error)
}
