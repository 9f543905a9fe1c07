package auth

import "slices"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermEntityRead    Permission = "entity:read"
	PermEntityOperate Permission = "entity:operate"
	PermBridgeInspect Permission = "bridge:inspect"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RolePanel: {
		PermEntityRead,
		PermEntityOperate,
	},
	RoleUser: {
		PermEntityRead,
		PermEntityOperate,
	},
	RoleAdmin: {
		PermEntityRead,
		PermEntityOperate,
		PermBridgeInspect,
	},
	RoleOwner: {
		PermEntityRead,
		PermEntityOperate,
		PermBridgeInspect,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
