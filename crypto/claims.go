package crypto

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access token payload issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid,omitempty"`
	ActorType string   `json:"actor_type,omitempty"`
}

func (c *Claims) GetRoles() []string {
	if c.Roles == nil {
		return []string{}
	}
	return c.Roles
}

func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

func (c *Claims) GetActorType() string {
	if c.ActorType == "" {
		return "human"
	}
	return c.ActorType
}
