package activity

import (
	"fmt"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/favorite"
	"github.com/godamri/helix-activity/order"
)

func fromFavorite(f favorite.Favorite) Item {
	return Item{
		Type:      TypeFavorite,
		ID:        fmt.Sprintf("%s:%s:%s", TypeFavorite, f.UserID, f.Product.ID),
		Timestamp: f.CreatedAt.UnixMilli(),
		UserID:    f.UserID,
		Summary:   fmt.Sprintf("Added %s to favorites", productLabel(f.Product)),
		Data:      FavoriteData{Product: f.Product},
	}
}

func productLabel(p favorite.Product) string {
	if p.Name != "" {
		return p.Name
	}
	return "product " + p.ID
}

func fromOrder(o order.Order) Item {
	return Item{
		Type:      TypeOrder,
		ID:        fmt.Sprintf("%s:%s", TypeOrder, o.ID),
		Timestamp: o.CreatedAt.UnixMilli(),
		UserID:    o.UserID,
		UserEmail: o.UserEmail,
		Summary:   fmt.Sprintf("Placed order %s (%s, %.2f)", o.ID, o.Status, o.TotalAmount),
		Data: OrderData{
			OrderID:     o.ID,
			Status:      o.Status,
			TotalAmount: o.TotalAmount,
		},
	}
}

func fromAudit(e audit.Entry) Item {
	return Item{
		Type:      TypeAudit,
		ID:        fmt.Sprintf("%s:%s", TypeAudit, e.ID),
		Timestamp: e.CreatedAt,
		UserID:    e.ActorID,
		UserEmail: e.ActorEmail,
		Summary:   e.Summary,
		Data: AuditData{
			Action:     e.Action,
			TargetID:   e.TargetID,
			TargetType: e.TargetType,
			Metadata:   e.Metadata,
		},
	}
}

// involves reports whether userID initiated or is the subject of e.
func involves(e audit.Entry, userID string) bool {
	return e.ActorID == userID || e.TargetID == userID
}
