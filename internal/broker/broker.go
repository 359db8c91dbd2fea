// Package broker guards every sensitive data operation behind a fresh
// role lookup. Permission checks fail closed: no user, no record or any
// store error all deny.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"quotegate/internal/docstore"
	"quotegate/internal/models"
	"quotegate/internal/rbac"
	"quotegate/internal/records"
	"quotegate/internal/users"
)

var ErrPermissionDenied = errors.New("permission denied")

// PermissionError reports which action a guarded operation required.
type PermissionError struct {
	Action    rbac.Action
	Operation string
}

func (e *PermissionError) Error() string {
	return "Insufficient permissions to " + e.Operation
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// Session is the part of the session tracker the broker reads.
type Session interface {
	CurrentUser() (models.Identity, bool)
}

type Broker struct {
	session  Session
	store    docstore.Store
	quotes   *records.Quotes
	profiles *records.Profiles
	users    *users.Directory
}

func New(session Session, store docstore.Store, dir *users.Directory) *Broker {
	return &Broker{
		session:  session,
		store:    store,
		quotes:   records.NewQuotes(store),
		profiles: records.NewProfiles(store),
		users:    dir,
	}
}

// Role fetches the current user's role. A record without a role field is
// treated as the lowest approved role.
func (b *Broker) Role(ctx context.Context) (models.Role, error) {
	user, ok := b.session.CurrentUser()
	if !ok {
		return "", ErrPermissionDenied
	}
	rec, err := b.store.Get(ctx, docstore.CollectionUsers, user.ID)
	if err != nil {
		return "", err
	}
	role, _ := rec.Data["role"].(string)
	if role == "" {
		return rbac.DefaultRole, nil
	}
	return models.Role(role), nil
}

func (b *Broker) HasPermission(ctx context.Context, action rbac.Action) bool {
	if _, ok := b.session.CurrentUser(); !ok {
		return false
	}
	role, err := b.Role(ctx)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.Printf("permission_check_failed action=%s err=%v", action, err)
		}
		return false
	}
	return rbac.CheckRolePermission(role, action)
}

func (b *Broker) require(ctx context.Context, action rbac.Action, operation string) (models.Identity, models.Role, error) {
	user, ok := b.session.CurrentUser()
	if !ok {
		return models.Identity{}, "", &PermissionError{Action: action, Operation: operation}
	}
	role, err := b.Role(ctx)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.Printf("permission_check_failed action=%s err=%v", action, err)
		}
		return models.Identity{}, "", &PermissionError{Action: action, Operation: operation}
	}
	if !rbac.CheckRolePermission(role, action) {
		log.Printf("permission_denied uid=%s role=%s action=%s", user.ID, role, action)
		return models.Identity{}, "", &PermissionError{Action: action, Operation: operation}
	}
	return user, role, nil
}

func (b *Broker) SaveQuote(ctx context.Context, data models.Document) (string, error) {
	user, _, err := b.require(ctx, rbac.ActionWrite, "save quotes")
	if err != nil {
		return "", err
	}
	return b.quotes.Save(ctx, user.ID, data)
}

func (b *Broker) UpdateQuote(ctx context.Context, id string, patch models.Document) error {
	if _, _, err := b.require(ctx, rbac.ActionWrite, "update quotes"); err != nil {
		return err
	}
	return b.quotes.Update(ctx, id, patch)
}

func (b *Broker) DeleteQuote(ctx context.Context, id string) error {
	if _, _, err := b.require(ctx, rbac.ActionDelete, "delete quotes"); err != nil {
		return err
	}
	return b.quotes.Delete(ctx, id)
}

// LoadQuotes returns every quote for admins and managers and the caller's
// own quotes for everyone else.
func (b *Broker) LoadQuotes(ctx context.Context) ([]models.Document, error) {
	user, role, err := b.require(ctx, rbac.ActionRead, "view quotes")
	if err != nil {
		return nil, err
	}
	return b.quotes.Load(ctx, quoteScope(user, role))
}

func (b *Broker) WatchQuotes(ctx context.Context, fn func([]models.Document)) (func(), error) {
	user, role, err := b.require(ctx, rbac.ActionRead, "view quotes")
	if err != nil {
		return nil, err
	}
	return b.quotes.Watch(ctx, quoteScope(user, role), fn)
}

func quoteScope(user models.Identity, role models.Role) records.Scope {
	return records.Scope{All: rbac.CanViewAllQuotes(role), OwnerID: user.ID}
}

func (b *Broker) SaveProfiles(ctx context.Context, profiles []models.Document) error {
	if _, _, err := b.require(ctx, rbac.ActionManageProfiles, "manage profiles"); err != nil {
		return err
	}
	return b.profiles.SaveAll(ctx, profiles)
}

func (b *Broker) UpdateProfile(ctx context.Context, id string, patch models.Document) error {
	if _, _, err := b.require(ctx, rbac.ActionManageProfiles, "manage profiles"); err != nil {
		return err
	}
	return b.profiles.Update(ctx, id, patch)
}

func (b *Broker) LoadProfiles(ctx context.Context) ([]models.Document, error) {
	if _, _, err := b.require(ctx, rbac.ActionRead, "view profiles"); err != nil {
		return nil, err
	}
	return b.profiles.Load(ctx)
}

func (b *Broker) WatchProfiles(ctx context.Context, fn func([]models.Document)) (func(), error) {
	if _, _, err := b.require(ctx, rbac.ActionRead, "view profiles"); err != nil {
		return nil, err
	}
	return b.profiles.Watch(ctx, fn)
}

func (b *Broker) CreateUser(ctx context.Context, id models.Identity, role models.Role) (models.UserRecord, error) {
	actor, _, err := b.require(ctx, rbac.ActionManageUsers, "create users")
	if err != nil {
		return models.UserRecord{}, err
	}
	return b.users.Create(ctx, actor.ID, id, role)
}

func (b *Broker) UpdateUser(ctx context.Context, uid string, patch models.Document) error {
	actor, _, err := b.require(ctx, rbac.ActionManageUsers, "update users")
	if err != nil {
		return err
	}
	return b.users.Update(ctx, actor.ID, uid, patch)
}

func (b *Broker) GetUserProfile(ctx context.Context, uid string) (models.UserRecord, error) {
	if _, _, err := b.require(ctx, rbac.ActionManageUsers, "view user profiles"); err != nil {
		return models.UserRecord{}, err
	}
	return b.users.Get(ctx, uid)
}

// ListUsers lists every user record, or only pending ones.
func (b *Broker) ListUsers(ctx context.Context, pendingOnly bool) ([]models.UserRecord, error) {
	if _, _, err := b.require(ctx, rbac.ActionManageUsers, "list users"); err != nil {
		return nil, err
	}
	if pendingOnly {
		return b.users.ListPending(ctx)
	}
	return b.users.List(ctx)
}

func (b *Broker) ApproveUser(ctx context.Context, uid string, role models.Role) error {
	actor, _, err := b.require(ctx, rbac.ActionManageUsers, "approve users")
	if err != nil {
		return err
	}
	return b.users.Approve(ctx, actor.ID, uid, role)
}

func (b *Broker) DeactivateUser(ctx context.Context, uid string) error {
	actor, _, err := b.require(ctx, rbac.ActionManageUsers, "deactivate users")
	if err != nil {
		return err
	}
	if actor.ID == uid {
		return fmt.Errorf("deactivate users: cannot deactivate yourself: %w", ErrPermissionDenied)
	}
	return b.users.Deactivate(ctx, actor.ID, uid)
}

func (b *Broker) AuditLog(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if _, _, err := b.require(ctx, rbac.ActionManageUsers, "view the audit log"); err != nil {
		return nil, err
	}
	return b.users.Audit(ctx, limit)
}
