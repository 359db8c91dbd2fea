package users

import (
	"context"
	"errors"
	"testing"

	"quotegate/internal/docstore"
	"quotegate/internal/models"
)

func TestEnsureRecordCreatesPendingOnce(t *testing.T) {
	st := docstore.NewMemoryStore()
	d := NewDirectory(st)
	ctx := context.Background()
	id := models.Identity{ID: "u1", Email: "ann@example.com", DisplayName: "Ann"}

	rec, created, err := d.EnsureRecord(ctx, id)
	if err != nil || !created {
		t.Fatalf("expected creation, created=%v err=%v", created, err)
	}
	if rec.Role != models.RolePending || rec.Status != models.StatusPendingApproval || rec.Active() || !rec.NeedsApproval {
		t.Fatalf("new record should be pending and inactive: %+v", rec)
	}

	// An admin approves; a later sign-in must not undo that.
	if err := d.Approve(ctx, "admin-1", "u1", models.RoleUser); err != nil {
		t.Fatalf("approve: %v", err)
	}
	again, created, err := d.EnsureRecord(ctx, id)
	if err != nil || created {
		t.Fatalf("expected existing record, created=%v err=%v", created, err)
	}
	if again.Role != models.RoleUser || !again.Active() || again.LastLogin == nil {
		t.Fatalf("existing record should keep role and get lastLogin: %+v", again)
	}
	all, _ := st.Query(ctx, docstore.CollectionUsers, docstore.Query{})
	if len(all) != 1 {
		t.Fatalf("expected exactly one record per identity, got %d", len(all))
	}
}

func TestApproveSetsApprovalFields(t *testing.T) {
	d := NewDirectory(docstore.NewMemoryStore())
	ctx := context.Background()
	if _, _, err := d.EnsureRecord(ctx, models.Identity{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := d.Approve(ctx, "boss", "u1", "Manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rec, err := d.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Role != models.RoleManager || rec.Status != models.StatusApproved || !rec.Active() || rec.NeedsApproval {
		t.Fatalf("unexpected approved record %+v", rec)
	}
	if rec.ApprovedBy != "boss" || rec.ApprovedAt == nil {
		t.Fatalf("approval metadata missing: %+v", rec)
	}

	if err := d.Approve(ctx, "boss", "u1", models.RolePending); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("approving to pending should fail, got %v", err)
	}
	if err := d.Approve(ctx, "boss", "u1", "superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("unknown role should fail, got %v", err)
	}
	if err := d.Approve(ctx, "boss", "missing", models.RoleUser); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("approving a missing record should report not found, got %v", err)
	}

	audit, err := d.Audit(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Action != "user.approve" || audit[0].Target != "u1" || audit[0].ActorID != "boss" {
		t.Fatalf("unexpected audit trail %+v", audit)
	}
}

func TestUpdateKeepsRoleAndStatusConsistent(t *testing.T) {
	d := NewDirectory(docstore.NewMemoryStore())
	ctx := context.Background()
	if _, err := d.Create(ctx, "admin", models.Identity{ID: "u1", Email: "a@example.com"}, models.RoleUser); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.Update(ctx, "admin", "u1", models.Document{"role": "pending", "uid": "hijack"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ := d.Get(ctx, "u1")
	if rec.UID != "u1" {
		t.Fatalf("uid must not be overwritten, got %q", rec.UID)
	}
	if rec.Role != models.RolePending || rec.Status != models.StatusPendingApproval || rec.LastModified == nil {
		t.Fatalf("role/status out of sync: %+v", rec)
	}
	if err := d.Update(ctx, "admin", "u1", models.Document{"role": "root"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestCreateRespectsRoleAndRejectsDuplicates(t *testing.T) {
	d := NewDirectory(docstore.NewMemoryStore())
	ctx := context.Background()
	id := models.Identity{ID: "u2", Email: "b@example.com"}
	rec, err := d.Create(ctx, "admin", id, models.RoleManager)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Role != models.RoleManager || rec.Status != models.StatusApproved || !rec.Active() {
		t.Fatalf("admin-created record should be approved: %+v", rec)
	}
	if _, err := d.Create(ctx, "admin", id, models.RoleUser); !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeactivateAndListPending(t *testing.T) {
	d := NewDirectory(docstore.NewMemoryStore())
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := d.EnsureRecord(ctx, models.Identity{ID: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if err := d.Approve(ctx, "admin", "b", models.RoleUser); err != nil {
		t.Fatalf("approve: %v", err)
	}
	pending, err := d.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if err := d.Deactivate(ctx, "admin", "b"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	rec, _ := d.Get(ctx, "b")
	if rec.Active() {
		t.Fatalf("expected inactive record")
	}
	all, err := d.List(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: n=%d err=%v", len(all), err)
	}
}

func TestUpdateRejectsDerivedFields(t *testing.T) {
	d := NewDirectory(docstore.NewMemoryStore())
	ctx := context.Background()
	if _, _, err := d.EnsureRecord(ctx, models.Identity{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, patch := range []models.Document{
		{"status": "approved"},
		{"needsApproval": false},
		{"approvedAt": "2024-01-01T00:00:00Z"},
		{"approvedBy": "someone"},
		{"role": "user", "status": "pending_approval"},
		{"isActive": "yes"},
		{"isActive": 0},
	} {
		if err := d.Update(ctx, "admin", "u1", patch); !errors.Is(err, ErrInvalidPatch) {
			t.Fatalf("patch %v: expected ErrInvalidPatch, got %v", patch, err)
		}
	}
	rec, err := d.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Role != models.RolePending || rec.Status != models.StatusPendingApproval || rec.ApprovedBy != "" {
		t.Fatalf("rejected patches must leave the record alone: %+v", rec)
	}

	if err := d.Update(ctx, "admin", "u1", models.Document{"isActive": true, "displayName": "Ann"}); err != nil {
		t.Fatalf("valid patch: %v", err)
	}
	rec, _ = d.Get(ctx, "u1")
	if !rec.Active() || rec.DisplayName != "Ann" || rec.Role != models.RolePending {
		t.Fatalf("valid patch not applied: %+v", rec)
	}
}
