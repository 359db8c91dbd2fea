// Package localstate persists the small per-tab key/value state that
// outlives a page: the cached session snapshot and login markers.
//
// Nothing here is trusted for authorization; the role value in particular
// is a display hint.
package localstate

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"quotegate/internal/models"
)

const (
	KeyCurrentUser = "currentUser"
	KeyLoggedIn    = "loggedIn"
	KeyRole        = "role"
	KeyLoginTime   = "loginTime"
)

type Backend interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Remove(ctx context.Context, namespace, key string) error
}

// Store is a Backend bound to one namespace.
type Store struct {
	backend   Backend
	namespace string
}

func Scope(b Backend, namespace string) *Store {
	return &Store{backend: b, namespace: namespace}
}

func (s *Store) Namespace() string { return s.namespace }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	return s.backend.Get(ctx, s.namespace, key)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.backend.Set(ctx, s.namespace, key, value)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.backend.Remove(ctx, s.namespace, key)
}

// SaveLogin writes the snapshot, loggedIn=true and loginTime.
func (s *Store) SaveLogin(ctx context.Context, snap models.SessionSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.Set(ctx, KeyCurrentUser, string(b)); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyLoggedIn, "true"); err != nil {
		return err
	}
	return s.Set(ctx, KeyLoginTime, snap.LastLogin.UTC().Format(time.RFC3339Nano))
}

// ClearLogin removes the markers the auth listener owns. loginTime is left
// for Logout to clear.
func (s *Store) ClearLogin(ctx context.Context) error {
	if err := s.Remove(ctx, KeyCurrentUser); err != nil {
		return err
	}
	return s.Remove(ctx, KeyLoggedIn)
}

func (s *Store) ClearAll(ctx context.Context) error {
	for _, k := range []string{KeyLoggedIn, KeyLoginTime, KeyCurrentUser} {
		if err := s.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context) (models.SessionSnapshot, bool, error) {
	raw, ok, err := s.Get(ctx, KeyCurrentUser)
	if err != nil || !ok {
		return models.SessionSnapshot{}, false, err
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return models.SessionSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) LoggedIn(ctx context.Context) bool {
	raw, ok, err := s.Get(ctx, KeyLoggedIn)
	if err != nil || !ok {
		return false
	}
	v, _ := strconv.ParseBool(raw)
	return v
}
