// Package session mirrors the identity provider's auth state for one tab:
// the in-memory current user, the persisted snapshot, UI bindings and the
// ordered list of auth listeners.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
)

// Result is the outcome of a user-initiated auth action. Error holds a
// user-facing message, never a provider code; Code keeps the provider code
// for callers that map it to a status.
type Result struct {
	Success bool             `json:"success"`
	User    *models.Identity `json:"user,omitempty"`
	Error   string           `json:"error,omitempty"`
	Code    string           `json:"-"`
}

// Listener runs after the tracker has updated its state. user is nil on
// sign-out.
type Listener func(ctx context.Context, user *models.Identity)

type Tracker struct {
	provider identity.Provider
	local    *localstate.Store
	now      func() time.Time

	initMu      sync.Mutex
	mu          sync.RWMutex
	current     *models.Identity
	unsubscribe func()
	bindings    []func(authenticated bool)
	listeners   []Listener
}

func New(provider identity.Provider, local *localstate.Store) *Tracker {
	return &Tracker{provider: provider, local: local, now: time.Now}
}

// OnAuthStateChange registers a UI binding. Bindings run synchronously
// before listeners.
func (t *Tracker) OnAuthStateChange(fn func(authenticated bool)) {
	t.mu.Lock()
	t.bindings = append(t.bindings, fn)
	t.mu.Unlock()
}

// AddListener registers fn; listeners run in registration order.
func (t *Tracker) AddListener(fn Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Initialize subscribes to the provider. A second call is a no-op.
func (t *Tracker) Initialize(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session_init_panic err=%v", r)
			ok = false
		}
	}()
	t.initMu.Lock()
	defer t.initMu.Unlock()
	t.mu.RLock()
	attached := t.unsubscribe != nil
	t.mu.RUnlock()
	if attached {
		return true
	}

	unsub, err := t.provider.SubscribeAuthState(func(user *models.Identity) {
		t.handle(ctx, user)
	})
	if err != nil {
		log.Printf("session_init_failed err=%v", err)
		return false
	}
	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()
	return true
}

func (t *Tracker) handle(ctx context.Context, user *models.Identity) {
	t.mu.Lock()
	t.current = user
	bindings := append([]func(bool){}, t.bindings...)
	listeners := append([]Listener{}, t.listeners...)
	t.mu.Unlock()

	if user != nil {
		snap := models.SessionSnapshot{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName, LastLogin: t.now().UTC()}
		if err := t.local.SaveLogin(ctx, snap); err != nil {
			log.Printf("session_persist_failed uid=%s err=%v", user.ID, err)
		}
		log.Printf("session_signed_in uid=%s email=%s", user.ID, user.Email)
	} else {
		if err := t.local.ClearLogin(ctx); err != nil {
			log.Printf("session_clear_failed err=%v", err)
		}
		log.Printf("session_signed_out")
	}

	for _, b := range bindings {
		b(user != nil)
	}
	for _, l := range listeners {
		l(ctx, user)
	}
}

func (t *Tracker) CurrentUser() (models.Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return models.Identity{}, false
	}
	return *t.current, true
}

func (t *Tracker) IsAuthenticated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current != nil
}

// Local exposes the persisted per-tab state.
func (t *Tracker) Local() *localstate.Store { return t.local }

func (t *Tracker) SignInWithEmail(ctx context.Context, email, password string) Result {
	user, err := t.provider.SignIn(ctx, email, password)
	if err != nil {
		log.Printf("session_sign_in_failed email=%s code=%s", email, identity.Code(err))
		return Result{Error: MessageFor(err), Code: identity.Code(err)}
	}
	return Result{Success: true, User: &user}
}

func (t *Tracker) CreateAccount(ctx context.Context, email, password, displayName string) Result {
	user, err := t.provider.CreateAccount(ctx, email, password, displayName)
	if err != nil {
		log.Printf("session_create_account_failed email=%s code=%s", email, identity.Code(err))
		return Result{Error: MessageFor(err), Code: identity.Code(err)}
	}
	return Result{Success: true, User: &user}
}

func (t *Tracker) SignOut(ctx context.Context) Result {
	if err := t.provider.SignOut(ctx); err != nil {
		log.Printf("session_sign_out_failed err=%v", err)
		return Result{Error: MessageFor(err), Code: identity.Code(err)}
	}
	return Result{Success: true}
}

func (t *Tracker) ResetPassword(ctx context.Context, email string) Result {
	if err := t.provider.SendPasswordReset(ctx, email); err != nil {
		log.Printf("session_reset_failed email=%s code=%s", email, identity.Code(err))
		return Result{Error: MessageFor(err), Code: identity.Code(err)}
	}
	return Result{Success: true}
}

// Logout signs out and clears every login marker, whether or not the
// provider call succeeded.
func (t *Tracker) Logout(ctx context.Context) Result {
	res := t.SignOut(ctx)
	if err := t.local.ClearAll(ctx); err != nil {
		log.Printf("session_logout_clear_failed err=%v", err)
	}
	return res
}

// Cleanup detaches from the provider. Safe to call more than once.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
