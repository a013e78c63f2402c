package clientstate

import (
	"strings"

	"github.com/charlesng35/marketlive/internal/payload"
)

// Marketplace roles as issued by the backend.
const (
	RoleBuyer        = "BUYER"
	RoleSeller       = "SELLER"
	RoleContentAdmin = "CONTENT_ADMIN"
	RoleSystemAdmin  = "SYSTEM_ADMIN"
)

// Identity is the authenticated user as persisted under the "user" key.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// DecodeIdentity reads the identity blob tolerating the shapes written by different login flows.
func DecodeIdentity(raw []byte) (*Identity, error) {
	fields, err := payload.Parse(raw)
	if err != nil {
		return nil, err
	}
	if nested, ok := fields.Object("user", "result"); ok {
		fields = nested
	}

	identity := &Identity{
		ID:       fields.String("id", "userId", "user_id", "sub"),
		Username: fields.String("username", "userName", "login"),
		Email:    fields.String("email"),
		FullName: fields.String("fullName", "full_name", "displayName", "name"),
		Avatar:   fields.String("avatar", "avatarUrl", "avatar_url", "imageUrl"),
	}

	identity.Role = normalizeRole(fields.String("role"))
	if identity.Role == "" {
		if roles := fields.Strings("roles", "authorities"); len(roles) > 0 {
			identity.Role = normalizeRole(roles[0])
		}
	}

	return identity, nil
}

func normalizeRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	return strings.TrimPrefix(role, "ROLE_")
}

// IsAdmin reports whether the identity belongs to a content or system administrator.
func (i *Identity) IsAdmin() bool {
	if i == nil {
		return false
	}
	switch i.Role {
	case RoleContentAdmin, RoleSystemAdmin, "ADMIN":
		return true
	}
	return false
}

// IsSeller reports whether the identity acts on the seller side of conversations.
func (i *Identity) IsSeller() bool {
	return i != nil && i.Role == RoleSeller
}
