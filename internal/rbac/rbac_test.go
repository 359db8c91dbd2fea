package rbac

import (
	"testing"

	"quotegate/internal/models"
)

var allActions = []Action{ActionRead, ActionWrite, ActionDelete, ActionManageUsers, ActionManageProfiles, ActionViewAnalytics}

func TestCheckRolePermissionMatchesTable(t *testing.T) {
	want := map[models.Role][]Action{
		models.RoleAdmin:   allActions,
		models.RoleManager: {ActionRead, ActionWrite, ActionDelete, ActionManageProfiles, ActionViewAnalytics},
		models.RoleUser:    {ActionRead, ActionWrite},
		models.RoleGuest:   {ActionRead},
	}
	for role, granted := range want {
		set := map[Action]bool{}
		for _, a := range granted {
			set[a] = true
		}
		for _, a := range allActions {
			if got := CheckRolePermission(role, a); got != set[a] {
				t.Fatalf("CheckRolePermission(%s, %s) = %v, want %v", role, a, got, set[a])
			}
		}
	}
}

func TestPendingAndUnknownRolesAreDenied(t *testing.T) {
	for _, role := range []models.Role{models.RolePending, "", "superuser", "ADMIN"} {
		for _, a := range append(allActions, "unknown_action") {
			if CheckRolePermission(role, a) {
				t.Fatalf("expected %q to be denied %q", role, a)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Manager "); !ok || r != models.RoleManager {
		t.Fatalf("expected manager, got %q ok=%v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatalf("expected owner to be rejected")
	}
}

func TestActionsReturnsCopy(t *testing.T) {
	a := Actions(models.RoleUser)
	a[0] = ActionManageUsers
	if CheckRolePermission(models.RoleUser, ActionManageUsers) {
		t.Fatalf("mutating Actions result must not change the table")
	}
}
