// Package rbac holds the static role to action table used for every
// permission decision.
package rbac

import (
	"strings"

	"quotegate/internal/models"
)

type Action string

const (
	ActionRead           Action = "read"
	ActionWrite          Action = "write"
	ActionDelete         Action = "delete"
	ActionManageUsers    Action = "manage_users"
	ActionManageProfiles Action = "manage_profiles"
	ActionViewAnalytics  Action = "view_analytics"
)

// DefaultRole is applied when a stored user record carries no role field.
const DefaultRole = models.RoleGuest

var permissions = map[models.Role][]Action{
	models.RoleAdmin:   {ActionRead, ActionWrite, ActionDelete, ActionManageUsers, ActionManageProfiles, ActionViewAnalytics},
	models.RoleManager: {ActionRead, ActionWrite, ActionDelete, ActionManageProfiles, ActionViewAnalytics},
	models.RoleUser:    {ActionRead, ActionWrite},
	models.RoleGuest:   {ActionRead},
	models.RolePending: {},
}

// CheckRolePermission reports whether role may perform action. Pending and
// unknown roles never may.
func CheckRolePermission(role models.Role, action Action) bool {
	for _, a := range permissions[role] {
		if a == action {
			return true
		}
	}
	return false
}

// Actions returns a copy of the action set for role.
func Actions(role models.Role) []Action {
	set := permissions[role]
	out := make([]Action, len(set))
	copy(out, set)
	return out
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (models.Role, bool) {
	r := models.Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := permissions[r]
	return r, ok
}

// CanViewAllQuotes reports whether role sees every quote rather than only
// the ones it created.
func CanViewAllQuotes(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleManager
}
