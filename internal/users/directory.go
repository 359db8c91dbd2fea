// Package users manages user records in the document store: creation on
// first sign-in, approval, deactivation and the audit trail around them.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"quotegate/internal/docstore"
	"quotegate/internal/models"
	"quotegate/internal/rbac"
)

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidPatch = errors.New("invalid user update")
)

// derivedFields follow from role or are written only by Approve and Create.
var derivedFields = []string{"status", "needsApproval", "approvedAt", "approvedBy", "createdAt"}

type Directory struct {
	store docstore.Store
	now   func() time.Time
}

func NewDirectory(store docstore.Store) *Directory {
	return &Directory{store: store, now: time.Now}
}

func (d *Directory) Get(ctx context.Context, uid string) (models.UserRecord, error) {
	rec, err := d.store.Get(ctx, docstore.CollectionUsers, uid)
	if err != nil {
		return models.UserRecord{}, err
	}
	return models.UserRecordFromDocument(rec.ID, rec.Data)
}

// EnsureRecord creates a pending record for a first-time identity or
// stamps lastLogin on an existing one. It never changes role or active
// state.
func (d *Directory) EnsureRecord(ctx context.Context, id models.Identity) (models.UserRecord, bool, error) {
	existing, err := d.Get(ctx, id.ID)
	if err == nil {
		now := d.now().UTC()
		if err := d.store.Update(ctx, docstore.CollectionUsers, id.ID, models.Document{"lastLogin": stamp(now)}); err != nil {
			return models.UserRecord{}, false, fmt.Errorf("touch user %s: %w", id.ID, err)
		}
		existing.LastLogin = &now
		return existing, false, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return models.UserRecord{}, false, err
	}
	rec, err := d.create(ctx, id, models.RolePending)
	if err != nil {
		return models.UserRecord{}, false, err
	}
	log.Printf("user_record_created uid=%s email=%s role=%s", id.ID, id.Email, rec.Role)
	return rec, true, nil
}

// Create writes a record for id with the given role. It fails with
// docstore.ErrConflict if the record exists.
func (d *Directory) Create(ctx context.Context, actorID string, id models.Identity, role models.Role) (models.UserRecord, error) {
	role, ok := rbac.ParseRole(string(role))
	if !ok {
		return models.UserRecord{}, ErrInvalidRole
	}
	if _, err := d.Get(ctx, id.ID); err == nil {
		return models.UserRecord{}, docstore.ErrConflict
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return models.UserRecord{}, err
	}
	rec, err := d.create(ctx, id, role)
	if err != nil {
		return models.UserRecord{}, err
	}
	d.audit(ctx, actorID, "user.create", id.ID, map[string]string{"role": string(role)})
	return rec, nil
}

func (d *Directory) create(ctx context.Context, id models.Identity, role models.Role) (models.UserRecord, error) {
	now := d.now().UTC()
	pending := role == models.RolePending
	rec := models.UserRecord{
		UID:           id.ID,
		Email:         id.Email,
		DisplayName:   id.DisplayName,
		Role:          role,
		Status:        models.StatusForRole(role),
		IsActive:      models.BoolPtr(!pending),
		NeedsApproval: pending,
		CreatedAt:     &now,
		LastLogin:     &now,
	}
	if !pending {
		rec.ApprovedAt = &now
	}
	doc, err := rec.Document()
	if err != nil {
		return models.UserRecord{}, err
	}
	if err := d.store.Set(ctx, docstore.CollectionUsers, id.ID, doc); err != nil {
		return models.UserRecord{}, fmt.Errorf("create user %s: %w", id.ID, err)
	}
	return rec, nil
}

// Update applies a partial update and stamps lastModified. A role in the
// patch brings status along with it.
func (d *Directory) Update(ctx context.Context, actorID, uid string, patch models.Document) error {
	out := patch.Clone()
	delete(out, "uid")
	for _, f := range derivedFields {
		if _, ok := out[f]; ok {
			return fmt.Errorf("%w: %s cannot be set directly", ErrInvalidPatch, f)
		}
	}
	if raw, ok := out["isActive"]; ok {
		if _, isBool := raw.(bool); !isBool {
			return fmt.Errorf("%w: isActive must be a boolean", ErrInvalidPatch)
		}
	}
	if raw, ok := out["role"]; ok {
		s, _ := raw.(string)
		role, ok := rbac.ParseRole(s)
		if !ok {
			return ErrInvalidRole
		}
		out["role"] = string(role)
		out["status"] = string(models.StatusForRole(role))
		out["needsApproval"] = role == models.RolePending
	}
	out["lastModified"] = stamp(d.now().UTC())
	if err := d.store.Update(ctx, docstore.CollectionUsers, uid, out); err != nil {
		return err
	}
	if role, ok := out["role"]; ok {
		d.audit(ctx, actorID, "user.role_change", uid, map[string]string{"role": fmt.Sprint(role)})
	}
	return nil
}

// Approve moves a record to an approved role and activates it.
func (d *Directory) Approve(ctx context.Context, approverID, uid string, role models.Role) error {
	if role == "" {
		role = models.RoleUser
	}
	role, ok := rbac.ParseRole(string(role))
	if !ok || role == models.RolePending {
		return ErrInvalidRole
	}
	now := stamp(d.now().UTC())
	if approverID == "" {
		approverID = "admin"
	}
	err := d.store.Update(ctx, docstore.CollectionUsers, uid, models.Document{
		"role":          string(role),
		"status":        string(models.StatusApproved),
		"isActive":      true,
		"needsApproval": false,
		"approvedAt":    now,
		"approvedBy":    approverID,
		"lastModified":  now,
	})
	if err != nil {
		return err
	}
	log.Printf("user_approved uid=%s role=%s by=%s", uid, role, approverID)
	d.audit(ctx, approverID, "user.approve", uid, map[string]string{"role": string(role)})
	return nil
}

// Deactivate sets isActive=false; the gate then blocks the user.
func (d *Directory) Deactivate(ctx context.Context, actorID, uid string) error {
	err := d.store.Update(ctx, docstore.CollectionUsers, uid, models.Document{
		"isActive":     false,
		"lastModified": stamp(d.now().UTC()),
	})
	if err != nil {
		return err
	}
	log.Printf("user_deactivated uid=%s by=%s", uid, actorID)
	d.audit(ctx, actorID, "user.deactivate", uid, nil)
	return nil
}

func (d *Directory) List(ctx context.Context) ([]models.UserRecord, error) {
	return d.list(ctx, docstore.Query{OrderBy: []docstore.Order{{Field: "createdAt", Desc: true}}})
}

func (d *Directory) ListPending(ctx context.Context) ([]models.UserRecord, error) {
	return d.list(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("role", string(models.RolePending))},
		OrderBy: []docstore.Order{{Field: "createdAt"}},
	})
}

func (d *Directory) list(ctx context.Context, q docstore.Query) ([]models.UserRecord, error) {
	recs, err := d.store.Query(ctx, docstore.CollectionUsers, q)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserRecord, 0, len(recs))
	for _, r := range recs {
		u, err := models.UserRecordFromDocument(r.ID, r.Data)
		if err != nil {
			log.Printf("user_record_decode_failed uid=%s err=%v", r.ID, err)
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (d *Directory) Audit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	recs, err := d.store.Query(ctx, docstore.CollectionAudit, docstore.Query{
		OrderBy: []docstore.Order{{Field: "createdAt", Desc: true}},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditEntry, 0, len(recs))
	for _, r := range recs {
		e := models.AuditEntry{
			ID:       r.ID,
			ActorID:  r.Data.String("actorId"),
			Action:   r.Data.String("action"),
			Target:   r.Data.String("target"),
			Metadata: r.Data.String("metadata"),
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.Data.String("createdAt"))
		out = append(out, e)
	}
	return out, nil
}

// audit failures are logged; the action itself already happened.
func (d *Directory) audit(ctx context.Context, actorID, action, target string, meta map[string]string) {
	metaJSON := "{}"
	if len(meta) > 0 {
		b, _ := json.Marshal(meta)
		metaJSON = string(b)
	}
	err := d.store.Set(ctx, docstore.CollectionAudit, uuid.NewString(), models.Document{
		"actorId":   actorID,
		"action":    action,
		"target":    target,
		"metadata":  metaJSON,
		"createdAt": stamp(d.now().UTC()),
	})
	if err != nil {
		log.Printf("audit_write_failed action=%s target=%s err=%v", action, target, err)
	}
}

func stamp(t time.Time) string { return t.Format(time.RFC3339Nano) }
