package client

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quotegate/internal/db"
	"quotegate/internal/docstore"
	"quotegate/internal/gate"
	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
	"quotegate/internal/notify"
	"quotegate/internal/store"
	"quotegate/internal/users"
)

type page struct {
	mu           sync.Mutex
	hidden       bool
	interstitial bool
}

func (p *page) HideContent()   { p.mu.Lock(); p.hidden = true; p.mu.Unlock() }
func (p *page) RevealContent() { p.mu.Lock(); p.hidden = false; p.mu.Unlock() }
func (p *page) Reload()        { p.mu.Lock(); p.interstitial = false; p.hidden = false; p.mu.Unlock() }

func (p *page) ShowPendingApproval() {
	p.mu.Lock()
	p.interstitial = true
	p.mu.Unlock()
}

func (p *page) InterstitialShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interstitial
}

type env struct {
	svc   *identity.Service
	docs  docstore.Store
	local *localstate.Memory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "sqlite", "001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	opts := identity.Options{Argon2: identity.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLen: 16, SaltLen: 8}}
	svc := identity.NewService(store.New(sqdb, db.DriverSQLite), notify.LogSender{}, opts)
	return &env{svc: svc, docs: docstore.NewMemoryStore(), local: localstate.NewMemory()}
}

func (e *env) tab(ns string) *Client {
	return New(identity.NewClient(e.svc), e.docs, localstate.Scope(e.local, ns), Options{Interval: time.Hour})
}

func TestFirstSignInCreatesPendingRecordAndBlocks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tab := e.tab("tab-1")
	defer tab.Close()

	p := &page{}
	g, state := tab.Open(ctx, "dashboard.html", p)
	if state != gate.StateUnknown {
		t.Fatalf("signed-out visitor should leave the gate untouched, got %s", state)
	}

	res := tab.Tracker.CreateAccount(ctx, "new@example.com", "secret-123", "New Person")
	if !res.Success {
		t.Fatalf("create account: %s", res.Error)
	}
	rec, err := tab.Directory.Get(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("user record should exist after sign-in: %v", err)
	}
	if rec.Role != models.RolePending || rec.Active() {
		t.Fatalf("unexpected new record %+v", rec)
	}
	if g.State() != gate.StateBlocked || !p.InterstitialShown() {
		t.Fatalf("expected blocked page, state=%s interstitial=%v", g.State(), p.InterstitialShown())
	}
	if !tab.Tracker.Local().LoggedIn(ctx) {
		t.Fatalf("sign-in should persist the login marker")
	}
	if role, ok, _ := tab.Tracker.Local().Get(ctx, localstate.KeyRole); !ok || role != string(models.RolePending) {
		t.Fatalf("expected cached role hint, got %q %v", role, ok)
	}
}

func TestApprovalRevealsOnRecheck(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	admin, err := e.svc.EnsureAccount(ctx, "root@example.com", "admin-pass", "Root")
	if err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	if _, err := users.NewDirectory(e.docs).Create(ctx, "system", admin.Identity(), models.RoleAdmin); err != nil {
		t.Fatalf("admin record: %v", err)
	}

	userTab := e.tab("tab-user")
	defer userTab.Close()
	p := &page{}
	g, _ := userTab.Open(ctx, "quotes.html", p)
	res := userTab.Tracker.CreateAccount(ctx, "worker@example.com", "secret-123", "Worker")
	if !res.Success || g.State() != gate.StateBlocked {
		t.Fatalf("expected blocked new user, res=%+v state=%s", res, g.State())
	}

	adminTab := e.tab("tab-admin")
	defer adminTab.Close()
	adminTab.Start(ctx)
	if r := adminTab.Tracker.SignInWithEmail(ctx, "root@example.com", "admin-pass"); !r.Success {
		t.Fatalf("admin sign-in: %s", r.Error)
	}
	if err := adminTab.Broker.ApproveUser(ctx, res.User.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The timer never unblocks; only the check-status action does.
	if s := g.Enter(ctx, gate.SourceTimer); s != gate.StateBlocked {
		t.Fatalf("timer must not reveal a blocked page, got %s", s)
	}
	if s := g.Recheck(ctx); s != gate.StateRevealed {
		t.Fatalf("expected reveal after approval, got %s", s)
	}

	// A fresh page load in another tab restores the session and is let in.
	other := e.tab("tab-user-2")
	defer other.Close()
	if !other.Identity.Restore(ctx, userTab.Identity.Token()) {
		t.Fatalf("expected session restore")
	}
	p2 := &page{}
	if _, s := other.Open(ctx, "quotes.html", p2); s != gate.StateRevealed || p2.InterstitialShown() {
		t.Fatalf("approved user should see the page, state=%s", s)
	}
}

func TestLoginPageNeverGated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tab := e.tab("tab-1")
	defer tab.Close()

	p := &page{}
	g, _ := tab.Open(ctx, "index.html", p)
	if r := tab.Tracker.CreateAccount(ctx, "pending@example.com", "secret-123", ""); !r.Success {
		t.Fatalf("create account: %s", r.Error)
	}
	if p.InterstitialShown() || p.hidden || g.State() == gate.StateBlocked {
		t.Fatalf("login page must never be hidden or blocked")
	}
}

func TestLogoutClearsLocalState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tab := e.tab("tab-1")
	defer tab.Close()
	tab.Start(ctx)

	if r := tab.Tracker.CreateAccount(ctx, "bye@example.com", "secret-123", ""); !r.Success {
		t.Fatalf("create account: %s", r.Error)
	}
	if r := tab.Tracker.Logout(ctx); !r.Success {
		t.Fatalf("logout: %s", r.Error)
	}
	if tab.Tracker.IsAuthenticated() || tab.Tracker.Local().LoggedIn(ctx) {
		t.Fatalf("expected signed-out tab")
	}
	if _, ok, _ := tab.Tracker.Local().Snapshot(ctx); ok {
		t.Fatalf("expected snapshot cleared")
	}
}
