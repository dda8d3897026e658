package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermToyRead        Permission = "toy:read"
	PermToyOperate     Permission = "toy:operate"
	PermToyManage      Permission = "toy:manage"
	PermAuditRead      Permission = "audit:read"
	PermOperatorManage Permission = "operator:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermToyRead,
	},
	RoleOperator: {
		PermToyRead,
		PermToyOperate,
	},
	RoleAdmin: {
		PermToyRead,
		PermToyOperate,
		PermToyManage,
		PermAuditRead,
		PermOperatorManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
