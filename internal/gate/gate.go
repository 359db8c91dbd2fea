// Package gate decides, per page load, whether protected content may be
// shown to the signed-in user.
//
// Every entry point (script evaluation, the auth callback, load, DOM ready
// and the recheck timer) converges on Enter. Entries may overlap; they are
// not serialized against each other. Blocking always wins: once the
// interstitial is up, only an explicit Recheck can take it down.
package gate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"quotegate/internal/docstore"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
)

type State int

const (
	StateUnknown State = iota
	StateChecking
	StateBlocked
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateBlocked:
		return "blocked"
	case StateRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

type Decision int

const (
	NotBlocked Decision = iota
	Blocked
)

func (d Decision) String() string {
	if d == Blocked {
		return "blocked"
	}
	return "not_blocked"
}

type Source string

const (
	SourceScript   Source = "script"
	SourceAuth     Source = "auth"
	SourceLoad     Source = "load"
	SourceDOMReady Source = "dom_ready"
	SourceTimer    Source = "timer"
	SourceRecheck  Source = "recheck"
)

// Presenter renders gate outcomes.
type Presenter interface {
	// HideContent hides the page until a decision is reached.
	HideContent()
	// ShowPendingApproval replaces the whole page with the pending-approval
	// interstitial. Repeated calls leave a single interstitial.
	ShowPendingApproval()
	// RevealContent restores visibility. It never removes an interstitial.
	RevealContent()
	InterstitialShown() bool
	// Reload discards the interstitial and restores the page, as a browser
	// reload does.
	Reload()
}

// Session is the part of the session tracker the gate reads.
type Session interface {
	CurrentUser() (models.Identity, bool)
	IsAuthenticated() bool
}

type Options struct {
	Path       string
	LoginPages LoginPages
	Interval   time.Duration
	// Local, when set, receives the fetched role as a display hint.
	Local *localstate.Store
}

type Gate struct {
	session   Session
	store     docstore.Store
	presenter Presenter
	opts      Options

	mu    sync.Mutex
	state State
}

func New(session Session, store docstore.Store, presenter Presenter, opts Options) *Gate {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.LoginPages.names == nil {
		opts.LoginPages = DefaultLoginPages
	}
	return &Gate{session: session, store: store, presenter: presenter, opts: opts}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Path() string { return g.opts.Path }

func (g *Gate) IsLoginPage() bool { return g.opts.LoginPages.IsLoginPage(g.opts.Path) }

// PreHide hides a protected page until the first decision.
func (g *Gate) PreHide() {
	if g.IsLoginPage() {
		return
	}
	g.presenter.HideContent()
}

// IsUserApproved performs exactly one read. A missing record is not
// approved; otherwise approval requires a non-pending role and isActive not
// explicitly false.
func (g *Gate) IsUserApproved(ctx context.Context, uid string) (bool, error) {
	rec, err := g.store.Get(ctx, docstore.CollectionUsers, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	role, _ := rec.Data["role"].(string)
	if g.opts.Local != nil {
		if err := g.opts.Local.Set(ctx, localstate.KeyRole, role); err != nil {
			log.Printf("gate_role_cache_failed uid=%s err=%v", uid, err)
		}
	}
	active, hasActive := rec.Data["isActive"].(bool)
	if hasActive && !active {
		return false, nil
	}
	return models.Role(role) != models.RolePending, nil
}

type outcome int

const (
	outcomeNoUser outcome = iota
	outcomeApproved
	outcomeUnapproved
	outcomeFetchFailed
)

func (g *Gate) evaluate(ctx context.Context) (outcome, string) {
	user, ok := g.session.CurrentUser()
	if !ok {
		return outcomeNoUser, ""
	}
	approved, err := g.IsUserApproved(ctx, user.ID)
	if err != nil {
		log.Printf("gate_fetch_failed path=%s uid=%s err=%v", g.opts.Path, user.ID, err)
		return outcomeFetchFailed, user.ID
	}
	if !approved {
		return outcomeUnapproved, user.ID
	}
	return outcomeApproved, user.ID
}

// CheckAndBlockPendingUser blocks the page when the signed-in user is not
// approved. Fetch failures do not block.
func (g *Gate) CheckAndBlockPendingUser(ctx context.Context) Decision {
	if g.IsLoginPage() {
		return NotBlocked
	}
	out, _ := g.evaluate(ctx)
	if out != outcomeUnapproved {
		return NotBlocked
	}
	g.mu.Lock()
	g.block()
	g.mu.Unlock()
	return Blocked
}

// block shows the interstitial and records the state. Callers hold g.mu so
// an in-flight reveal cannot interleave with it.
func (g *Gate) block() {
	g.presenter.ShowPendingApproval()
	g.state = StateBlocked
}

// Enter runs the gate for one lifecycle event and returns the resulting
// state.
func (g *Gate) Enter(ctx context.Context, src Source) State {
	if g.IsLoginPage() {
		return g.State()
	}
	if src == SourceTimer && g.presenter.InterstitialShown() {
		return g.State()
	}
	if !g.session.IsAuthenticated() {
		return g.State()
	}

	g.mu.Lock()
	prev := g.state
	if prev == StateBlocked && src != SourceRecheck {
		g.mu.Unlock()
		return prev
	}
	g.state = StateChecking
	g.mu.Unlock()

	out, uid := g.evaluate(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	switch out {
	case outcomeUnapproved:
		g.block()
	case outcomeApproved:
		// A check that blocked while this one was in flight wins.
		if g.state != StateBlocked {
			if prev == StateBlocked {
				g.presenter.Reload()
			}
			g.presenter.RevealContent()
			g.state = StateRevealed
		}
	case outcomeFetchFailed:
		switch {
		case prev == StateBlocked:
			g.state = StateBlocked
		case g.state != StateBlocked:
			g.presenter.RevealContent()
			g.state = StateRevealed
		}
	case outcomeNoUser:
		if g.state == StateChecking {
			g.state = prev
		}
	}
	log.Printf("gate_check path=%s uid=%s source=%s state=%s", g.opts.Path, uid, src, g.state)
	return g.state
}

// Recheck is the interstitial's "check status" action.
func (g *Gate) Recheck(ctx context.Context) State {
	return g.Enter(ctx, SourceRecheck)
}

// OnAuthState is registered as a session listener so the gate runs after
// the tracker has recorded the new user.
func (g *Gate) OnAuthState(ctx context.Context, user *models.Identity) {
	if user == nil {
		return
	}
	g.Enter(ctx, SourceAuth)
}

// Run drives the recheck timer until ctx ends. onChange, when set, is
// called with the new state whenever a tick changes it.
func (g *Gate) Run(ctx context.Context, onChange func(State)) {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := g.State()
			if after := g.Enter(ctx, SourceTimer); after != before && onChange != nil {
				onChange(after)
			}
		}
	}
}
