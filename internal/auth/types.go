package auth

import "errors"

// Role represents an authorisation tier carried in an access token.
type Role string

const (
	// RolePanel is a wall-mounted display. It may read and operate entities.
	RolePanel Role = "panel"

	// RoleUser is a household member. It may read and operate entities.
	RoleUser Role = "user"

	// RoleAdmin may additionally inspect the bridge: the learned Z-Wave
	// mapping table and the connected gateway clients.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin has.
	RoleOwner Role = "owner"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RolePanel, RoleUser, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}

// Sentinel errors for token handling.
var (
	ErrTokenInvalid     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
)
